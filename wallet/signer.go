package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/healthpay/types"
)

// Signer sends transactions for one account on one chain. A signer is never
// retargeted; when the account or chain changes a new one is bound.
type Signer struct {
	provider Provider
	account  common.Address
	chainID  *big.Int
}

func NewSigner(provider Provider, account common.Address, chainID *big.Int) *Signer {
	return &Signer{
		provider: provider,
		account:  account,
		chainID:  new(big.Int).Set(chainID),
	}
}

func (s *Signer) Address() common.Address {
	return s.account
}

func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SendValue submits a value transfer carrying data. It refuses to send when
// the provider has moved to a different chain than the one the signer was
// bound to.
func (s *Signer) SendValue(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	current, err := s.provider.ChainID(ctx)
	if err != nil {
		return common.Hash{}, types.NewError(types.ErrTransactionFailed, "read chain id", err)
	}
	if current.Cmp(s.chainID) != 0 {
		return common.Hash{}, types.NewError(
			types.ErrStaleSigner,
			fmt.Sprintf("signer bound to chain %s, wallet is on %s", s.chainID, current),
			nil,
		)
	}

	hash, err := s.provider.SendTransaction(ctx, TxRequest{
		From:  s.account,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		if IsUserRejected(err) {
			return common.Hash{}, types.NewError(types.ErrUserRejected, "transaction rejected", err)
		}
		return common.Hash{}, types.NewError(types.ErrTransactionFailed, "send transaction", err)
	}
	return hash, nil
}

// Wait blocks until the transaction is mined and reports a failed receipt as
// an error.
func (s *Signer) Wait(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	receipt, err := s.provider.WaitForConfirmation(ctx, hash)
	if err != nil {
		return nil, types.NewError(types.ErrTransactionFailed, fmt.Sprintf("confirm %s", hash.Hex()), err)
	}
	return receipt, nil
}
