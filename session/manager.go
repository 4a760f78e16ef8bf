// Package session tracks the wallet connection and keeps a signer bound to
// the current account and chain.
package session

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/network"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet"
)

// Manager owns the Session. All mutations go through its methods or the
// wallet event handlers it installs with Start.
type Manager struct {
	provider   wallet.Provider
	negotiator *network.Negotiator
	logger     logger.Logger
	metrics    metrics.Recorder

	mu      sync.RWMutex
	session types.Session
	signer  *wallet.Signer

	connecting  atomic.Bool
	subMu       sync.Mutex
	unsubscribe func()
}

// NewManager creates a disconnected manager. provider may be nil when no
// wallet is available; Connect then fails with PROVIDER_UNAVAILABLE.
func NewManager(provider wallet.Provider, target types.ChainDescriptor, l logger.Logger, m metrics.Recorder) *Manager {
	mgr := &Manager{
		provider: provider,
		logger:   logger.OrNoop(l),
		metrics:  metrics.OrNoop(m),
	}
	if provider != nil {
		mgr.negotiator = network.NewNegotiator(provider, target, l, m)
	}
	return mgr
}

// Connect negotiates the target network, requests accounts and binds a
// signer. Overlapping calls fail with CONNECT_IN_FLIGHT.
func (m *Manager) Connect(ctx context.Context) error {
	if m.provider == nil {
		return types.NewError(types.ErrProviderUnavailable, "no wallet provider available", nil)
	}
	if !m.connecting.CompareAndSwap(false, true) {
		return types.NewError(types.ErrConnectInFlight, "a connect request is already pending", nil)
	}
	defer m.connecting.Store(false)

	start := time.Now()
	if !m.negotiator.EnsureTargetNetwork(ctx) {
		return types.NewError(types.ErrWrongNetwork, "wallet is not on the target network", nil)
	}

	accounts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		if wallet.IsUserRejected(err) {
			return types.NewError(types.ErrUserRejected, "account access rejected", err)
		}
		return types.NewError(types.ErrProviderUnavailable, "request accounts", err)
	}
	if len(accounts) == 0 {
		return types.NewError(types.ErrNotConnected, "wallet returned no accounts", nil)
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return types.NewError(types.ErrProviderUnavailable, "read chain id", err)
	}

	account := accounts[0]
	m.mu.Lock()
	m.session = types.Session{
		Account:        &account,
		ChainID:        new(big.Int).Set(chainID),
		Connected:      true,
		CorrectNetwork: m.negotiator.IsTarget(chainID),
	}
	m.signer = wallet.NewSigner(m.provider, account, chainID)
	m.mu.Unlock()

	labels := map[string]string{"chain": chainID.String()}
	m.metrics.IncCounter(metrics.EventWalletConnected, labels)
	m.metrics.ObserveLatency(metrics.OpConnect, time.Since(start), labels)
	m.logger.Info("wallet connected", map[string]any{
		"account":  account.Hex(),
		"chain_id": chainID.String(),
	})
	return nil
}

// Disconnect drops the account and signer. Calling it while disconnected is
// a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	was := m.session.Connected
	m.session.Account = nil
	m.session.Connected = false
	m.signer = nil
	m.mu.Unlock()

	if was {
		m.metrics.IncCounter(metrics.EventWalletDisconnected, nil)
		m.logger.Info("wallet disconnected", nil)
	}
}

// Start subscribes to wallet events. It does nothing without a provider or
// when already started.
func (m *Manager) Start() {
	if m.provider == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.unsubscribe != nil {
		return
	}
	m.unsubscribe = m.provider.Subscribe(wallet.Listener{
		AccountsChanged: m.handleAccountsChanged,
		ChainChanged:    m.handleChainChanged,
	})
}

// Stop removes the event subscription installed by Start.
func (m *Manager) Stop() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Manager) handleAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.Disconnect()
		return
	}

	next := accounts[0]
	m.mu.Lock()
	if !m.session.Connected || m.session.Account == nil || *m.session.Account == next {
		m.mu.Unlock()
		return
	}
	prev := *m.session.Account
	m.session.Account = &next
	m.signer = wallet.NewSigner(m.provider, next, m.session.ChainID)
	m.mu.Unlock()

	m.logger.Info("wallet account changed", map[string]any{
		"previous": prev.Hex(),
		"account":  next.Hex(),
	})
}

func (m *Manager) handleChainChanged(chainID *big.Int) {
	correct := m.negotiator.IsTarget(chainID)

	m.mu.Lock()
	m.session.ChainID = new(big.Int).Set(chainID)
	m.session.CorrectNetwork = correct
	rebound := false
	if m.session.Connected && m.session.Account != nil {
		m.signer = wallet.NewSigner(m.provider, *m.session.Account, chainID)
		rebound = true
	}
	m.mu.Unlock()

	fields := map[string]any{
		"chain_id":        chainID.String(),
		"correct_network": correct,
		"signer_rebound":  rebound,
	}
	if correct {
		m.logger.Info("wallet chain changed", fields)
	} else {
		m.logger.Warn("wallet moved off the target chain", fields)
	}
}

// Session returns a copy of the current session.
func (m *Manager) Session() types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// Signer returns the signer bound to the current account and chain.
func (m *Manager) Signer() (*wallet.Signer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.session.Connected || m.signer == nil {
		return nil, types.NewError(types.ErrNotConnected, "wallet is not connected", nil)
	}
	return m.signer, nil
}

// EnsureNetwork runs network negotiation against the connected wallet.
func (m *Manager) EnsureNetwork(ctx context.Context) bool {
	if m.negotiator == nil {
		return false
	}
	return m.negotiator.EnsureTargetNetwork(ctx)
}
