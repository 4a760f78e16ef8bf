// Package wallettest provides a scriptable wallet.Provider for tests.
package wallettest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet"
)

// Provider is an in-memory wallet.Provider. Exported fields script its
// behaviour; counters record how it was driven. Set fields before use.
type Provider struct {
	mu sync.Mutex

	Chain    *big.Int
	Accounts []common.Address

	RequestAccountsErr error
	SwitchErr          error
	AddErr             error
	SendErr            error
	// SendErrAt fails the n-th SendTransaction call (0-based).
	SendErrAt map[int]error
	// WaitErr fails confirmation of every transaction.
	WaitErr error
	// BeforeRequestAccounts runs inside RequestAccounts, before it returns.
	BeforeRequestAccounts func()
	// BeforeSend runs at the start of the n-th SendTransaction call.
	BeforeSend func(n int)

	ChainIDCalls  int
	RequestCalls  int
	SwitchCalls   int
	AddCalls      int
	SendCalls     int
	WaitCalls     int
	AddedChains   []types.ChainDescriptor
	SwitchTargets []*big.Int
	Sent          []wallet.TxRequest

	listeners map[int]wallet.Listener
	nextID    int
}

var _ wallet.Provider = (*Provider)(nil)

// New returns a provider on chainID holding the given accounts.
func New(chainID uint64, accounts ...common.Address) *Provider {
	return &Provider{
		Chain:     new(big.Int).SetUint64(chainID),
		Accounts:  accounts,
		SendErrAt: map[int]error{},
		listeners: map[int]wallet.Listener{},
	}
}

func (p *Provider) ChainID(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChainIDCalls++
	return new(big.Int).Set(p.Chain), nil
}

func (p *Provider) RequestAccounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	p.RequestCalls++
	hook := p.BeforeRequestAccounts
	err := p.RequestAccountsErr
	out := append([]common.Address(nil), p.Accounts...)
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) SwitchChain(_ context.Context, chainID *big.Int) error {
	p.mu.Lock()
	p.SwitchCalls++
	p.SwitchTargets = append(p.SwitchTargets, new(big.Int).Set(chainID))
	if p.SwitchErr != nil {
		err := p.SwitchErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()
	p.SetChain(chainID)
	return nil
}

func (p *Provider) AddChain(_ context.Context, desc types.ChainDescriptor) error {
	p.mu.Lock()
	p.AddCalls++
	p.AddedChains = append(p.AddedChains, desc)
	if p.AddErr != nil {
		err := p.AddErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()
	p.SetChain(desc.ChainIDBig())
	return nil
}

func (p *Provider) SendTransaction(_ context.Context, req wallet.TxRequest) (common.Hash, error) {
	p.mu.Lock()
	hook := p.BeforeSend
	n := p.SendCalls
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendCalls++
	if p.SendErr != nil {
		return common.Hash{}, p.SendErr
	}
	if err, ok := p.SendErrAt[n]; ok {
		return common.Hash{}, err
	}
	p.Sent = append(p.Sent, req)
	return HashFor(n), nil
}

func (p *Provider) WaitForConfirmation(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WaitCalls++
	if p.WaitErr != nil {
		return nil, p.WaitErr
	}
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
}

func (p *Provider) Subscribe(l wallet.Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Listeners returns the number of live subscriptions.
func (p *Provider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// SetChain moves the wallet to chainID and emits chainChanged if it changed.
func (p *Provider) SetChain(chainID *big.Int) {
	p.mu.Lock()
	changed := p.Chain.Cmp(chainID) != 0
	p.Chain = new(big.Int).Set(chainID)
	p.mu.Unlock()
	if changed {
		p.EmitChain(chainID)
	}
}

// EmitAccounts delivers accountsChanged to every listener.
func (p *Provider) EmitAccounts(accounts ...common.Address) {
	p.mu.Lock()
	p.Accounts = append([]common.Address(nil), accounts...)
	ls := p.snapshot()
	p.mu.Unlock()
	for _, l := range ls {
		if l.AccountsChanged != nil {
			l.AccountsChanged(append([]common.Address(nil), accounts...))
		}
	}
}

// EmitChain delivers chainChanged to every listener without changing Chain.
func (p *Provider) EmitChain(chainID *big.Int) {
	p.mu.Lock()
	ls := p.snapshot()
	p.mu.Unlock()
	for _, l := range ls {
		if l.ChainChanged != nil {
			l.ChainChanged(new(big.Int).Set(chainID))
		}
	}
}

func (p *Provider) snapshot() []wallet.Listener {
	out := make([]wallet.Listener, 0, len(p.listeners))
	for i := 0; i < p.nextID; i++ {
		if l, ok := p.listeners[i]; ok {
			out = append(out, l)
		}
	}
	return out
}

// HashFor is the deterministic hash the fake returns for the n-th send.
func HashFor(n int) common.Hash {
	return crypto.Keccak256Hash(big.NewInt(int64(n)).Bytes(), []byte("healthpay"))
}

// Rejected is the error a wallet returns when the user declines.
func Rejected() error {
	return &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "user rejected the request"}
}

// Unrecognized is the error a wallet returns for an unknown chain.
func Unrecognized() error {
	return &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: "unrecognized chain"}
}
