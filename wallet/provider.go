// Package wallet defines the injected-wallet boundary (chain id, accounts,
// chain switching, transaction submission and change events) and a
// go-ethereum backed implementation of it.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/healthpay/types"
)

// Provider is the wallet surface the session and checkout layers drive.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, desc types.ChainDescriptor) error
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	// Subscribe registers l for wallet events until the returned func is
	// called. The returned func is safe to call more than once.
	Subscribe(l Listener) (unsubscribe func())
}

// TxRequest is a plain value transfer with an optional data payload.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Listener receives wallet events. Nil callbacks are skipped.
type Listener struct {
	AccountsChanged func(accounts []common.Address)
	ChainChanged    func(chainID *big.Int)
}
