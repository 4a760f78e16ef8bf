// Package checkout pays for cart lines and insurance plans with native value
// transfers to the store's recipient address.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/receipts"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/utils"
	"github.com/vitwit/healthpay/wallet"
)

// nativeDecimals is the precision of the chain's native currency.
const nativeDecimals = 18

// DefaultConfirmTimeout bounds each confirmation wait.
const DefaultConfirmTimeout = 5 * time.Minute

// SessionSource exposes the connected wallet to the sequencer.
type SessionSource interface {
	Session() types.Session
	Signer() (*wallet.Signer, error)
	EnsureNetwork(ctx context.Context) bool
}

type Status int

const (
	StatusCompleted Status = iota
	StatusPreconditionsNotMet
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusPreconditionsNotMet:
		return "preconditions_not_met"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports how a checkout ended. FailedIndex is the index of the line
// that failed, or -1. Receipts and TxHashes cover the lines confirmed before
// any failure.
type Outcome struct {
	Status      Status
	FailedIndex int
	Err         error
	Receipts    []types.MedicationReceipt
	TxHashes    []common.Hash
}

// ProgressFunc is called before each line is submitted.
type ProgressFunc func(index int, line types.CartLine)

type Sequencer struct {
	session        SessionSource
	receipts       *receipts.Store
	recipient      common.Address
	confirmTimeout time.Duration
	progress       ProgressFunc
	logger         logger.Logger
	metrics        metrics.Recorder
}

type Option func(*Sequencer)

func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(s *Sequencer) {
		s.progress = fn
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger.OrNoop(l)
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Sequencer) {
		s.metrics = metrics.OrNoop(m)
	}
}

func NewSequencer(session SessionSource, store *receipts.Store, recipient common.Address, opts ...Option) *Sequencer {
	s := &Sequencer{
		session:        session,
		receipts:       store,
		recipient:      recipient,
		confirmTimeout: DefaultConfirmTimeout,
		logger:         logger.NoopLogger{},
		metrics:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout pays for lines in order, one transfer at a time, waiting for each
// confirmation before submitting the next. It stops at the first failure.
// Clearing the cart on success is left to the caller.
func (s *Sequencer) Checkout(ctx context.Context, lines []types.CartLine) Outcome {
	out := Outcome{FailedIndex: -1}

	if len(lines) == 0 {
		return s.precondition(out, types.NewError(types.ErrInvalidProduct, "cart is empty", nil))
	}
	sess := s.session.Session()
	if !sess.Connected {
		return s.precondition(out, types.NewError(types.ErrNotConnected, "wallet is not connected", nil))
	}
	if !sess.CorrectNetwork {
		return s.precondition(out, types.NewError(types.ErrWrongNetwork, "wallet is not on the target network", nil))
	}
	signer, err := s.session.Signer()
	if err != nil {
		return s.precondition(out, err)
	}

	start := time.Now()
	labels := map[string]string{"chain": signer.ChainID().String()}
	defer func() {
		s.metrics.ObserveLatency(metrics.OpCheckout, time.Since(start), labels)
	}()

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return s.failed(out, i, err)
		}
		if s.progress != nil {
			s.progress(i, line)
		}

		memo := utils.MedicationMemo(line.ProductID, line.PackageUnits, line.Quantity)
		hash, err := s.transfer(ctx, signer, line.TotalPrice, memo, labels)
		if err != nil {
			return s.failed(out, i, err)
		}
		out.TxHashes = append(out.TxHashes, hash)

		receipt, err := s.receipts.AddMedication(ctx, signer.Address(), types.MedicationReceipt{
			MedicationID: line.ProductID,
			Name:         line.ProductName,
			Category:     line.Category,
			PackageUnits: line.PackageUnits,
			Quantity:     line.Quantity,
			TotalPrice:   line.TotalPrice,
			TxHash:       hash.Hex(),
		})
		if err != nil {
			// the transfer is confirmed; a lost local record does not undo it
			s.logger.Error("failed to record medication receipt", logger.WithErr(map[string]any{
				"tx_hash": hash.Hex(),
				"line":    line.ID,
			}, err))
		}
		out.Receipts = append(out.Receipts, receipt)
	}

	out.Status = StatusCompleted
	s.logger.Info("checkout completed", map[string]any{
		"lines":   len(lines),
		"account": signer.Address().Hex(),
	})
	return out
}

// PurchasePlan pays for an insurance plan covering people persons and records
// the policy. A wallet on the wrong network is asked to switch once first.
func (s *Sequencer) PurchasePlan(ctx context.Context, plan types.InsurancePlan, people int) (types.PolicyReceipt, error) {
	if err := utils.ValidatePlan(plan); err != nil {
		return types.PolicyReceipt{}, err
	}
	if people < types.MinPlanPeople || people > types.MaxPlanPeople {
		return types.PolicyReceipt{}, types.NewError(types.ErrInvalidProduct, fmt.Sprintf("people count %d outside %d..%d", people, types.MinPlanPeople, types.MaxPlanPeople), nil)
	}

	sess := s.session.Session()
	if !sess.Connected {
		return types.PolicyReceipt{}, types.NewError(types.ErrNotConnected, "wallet is not connected", nil)
	}
	if !sess.CorrectNetwork {
		if !s.session.EnsureNetwork(ctx) || !s.session.Session().CorrectNetwork {
			return types.PolicyReceipt{}, types.NewError(types.ErrWrongNetwork, "wallet is not on the target network", nil)
		}
	}
	signer, err := s.session.Signer()
	if err != nil {
		return types.PolicyReceipt{}, err
	}

	price := types.PlanPrice(plan.BasePriceEth, people)
	labels := map[string]string{"chain": signer.ChainID().String()}
	hash, err := s.transfer(ctx, signer, price, utils.PlanMemo(plan.ID, people), labels)
	if err != nil {
		return types.PolicyReceipt{}, err
	}

	return s.receipts.AddPolicy(ctx, signer.Address(), types.PolicyReceipt{
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		PeopleCount:    people,
		CoverageAmount: price,
		TxHash:         hash.Hex(),
	})
}

// transfer submits one value transfer and waits for it to confirm. Once
// submitted, the wait is bounded by confirmTimeout rather than by ctx.
func (s *Sequencer) transfer(ctx context.Context, signer *wallet.Signer, amount decimal.Decimal, memo string, labels map[string]string) (common.Hash, error) {
	fields := map[string]any{"amount_eth": amount.String(), "memo": memo}

	if !amount.IsPositive() {
		s.metrics.IncCounter(metrics.EventTransferFailed, labels)
		return common.Hash{}, types.NewError(types.ErrInvalidProduct, "transfer amount must be positive", nil)
	}
	value, err := utils.ToWei(amount, nativeDecimals)
	if err != nil {
		s.metrics.IncCounter(metrics.EventTransferFailed, labels)
		return common.Hash{}, types.NewError(types.ErrInvalidProduct, "convert amount", err)
	}
	fields["value_wei"] = value.String()
	fields["data"] = utils.MemoHex(memo)
	if sent := utils.FromWei(value, nativeDecimals); !sent.Equal(amount) {
		s.logger.Warn("transfer amount truncated to wei", map[string]any{"amount_eth": amount.String(), "sent_eth": sent.String()})
	}

	start := time.Now()
	hash, err := signer.SendValue(ctx, s.recipient, value, utils.EncodeMemo(memo))
	if err != nil {
		s.metrics.IncCounter(metrics.EventTransferFailed, labels)
		s.logger.Warn("transfer not submitted", logger.WithErr(fields, err))
		return common.Hash{}, err
	}
	fields["tx_hash"] = hash.Hex()
	s.logger.Info("transfer submitted", fields)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()
	if _, err := signer.Wait(waitCtx, hash); err != nil {
		s.metrics.IncCounter(metrics.EventTransferFailed, labels)
		s.logger.Error("transfer not confirmed", logger.WithErr(fields, err))
		return hash, err
	}

	s.metrics.IncCounter(metrics.EventTransferConfirmed, labels)
	s.metrics.ObserveLatency(metrics.OpTransfer, time.Since(start), labels)
	s.logger.Info("transfer confirmed", fields)
	return hash, nil
}

func (s *Sequencer) precondition(out Outcome, err error) Outcome {
	out.Status = StatusPreconditionsNotMet
	out.Err = err
	s.logger.Warn("checkout preconditions not met", logger.WithErr(nil, err))
	return out
}

func (s *Sequencer) failed(out Outcome, index int, err error) Outcome {
	out.Status = StatusFailed
	out.FailedIndex = index
	out.Err = err
	s.logger.Error("checkout stopped", logger.WithErr(map[string]any{
		"failed_index": index,
		"confirmed":    len(out.Receipts),
	}, err))
	return out
}
