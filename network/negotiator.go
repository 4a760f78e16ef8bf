// Package network brings a wallet onto the application's target chain.
package network

import (
	"context"
	"math/big"
	"strconv"

	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet"
)

// ChainSwitcher is the part of a wallet the negotiator drives.
type ChainSwitcher interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, desc types.ChainDescriptor) error
}

// Negotiator asks the wallet to switch to the target chain, adding it first
// when the wallet does not know it.
type Negotiator struct {
	wallet  ChainSwitcher
	target  types.ChainDescriptor
	logger  logger.Logger
	metrics metrics.Recorder
}

func NewNegotiator(w ChainSwitcher, target types.ChainDescriptor, l logger.Logger, m metrics.Recorder) *Negotiator {
	return &Negotiator{
		wallet:  w,
		target:  target,
		logger:  logger.OrNoop(l),
		metrics: metrics.OrNoop(m),
	}
}

// Target returns the descriptor of the chain being negotiated.
func (n *Negotiator) Target() types.ChainDescriptor {
	return n.target
}

// IsTarget reports whether chainID is the target chain.
func (n *Negotiator) IsTarget(chainID *big.Int) bool {
	return chainID != nil && chainID.IsUint64() && chainID.Uint64() == n.target.ChainID
}

// EnsureTargetNetwork reports whether the wallet ends up on the target chain.
// Failures are logged and reported as false; nothing is retried.
func (n *Negotiator) EnsureTargetNetwork(ctx context.Context) bool {
	fields := map[string]any{"target_chain": n.target.ChainID}

	current, err := n.wallet.ChainID(ctx)
	if err != nil {
		n.logger.Warn("failed to read wallet chain", logger.WithErr(fields, err))
		n.fail()
		return false
	}
	if n.IsTarget(current) {
		return true
	}
	fields["current_chain"] = current.String()

	err = n.wallet.SwitchChain(ctx, n.target.ChainIDBig())
	if err == nil {
		n.logger.Info("switched wallet to target chain", fields)
		n.succeed()
		return true
	}
	if !wallet.IsUnrecognizedChain(err) {
		n.logger.Warn("failed to switch network", logger.WithErr(fields, err))
		n.fail()
		return false
	}

	if err := n.wallet.AddChain(ctx, n.target); err != nil {
		n.logger.Warn("failed to add target network", logger.WithErr(fields, err))
		n.fail()
		return false
	}
	n.logger.Info("added target chain to wallet", fields)
	n.succeed()
	return true
}

func (n *Negotiator) succeed() {
	n.metrics.IncCounter(metrics.EventNetworkSwitched, n.labels())
}

func (n *Negotiator) fail() {
	n.metrics.IncCounter(metrics.EventNetworkFailed, n.labels())
}

func (n *Negotiator) labels() map[string]string {
	return map[string]string{"chain": strconv.FormatUint(n.target.ChainID, 10)}
}
