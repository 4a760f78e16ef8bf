package checkout

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/healthpay/receipts"
	"github.com/vitwit/healthpay/session"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet"
	"github.com/vitwit/healthpay/wallet/wallettest"
)

var (
	buyer     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	recipient = common.HexToAddress(types.DefaultRecipient)
)

type fixture struct {
	provider *wallettest.Provider
	session  *session.Manager
	receipts *receipts.Store
	seq      *Sequencer
}

func newFixture(t *testing.T, connect bool, opts ...Option) *fixture {
	t.Helper()
	p := wallettest.New(types.SepoliaChainID, buyer)
	mgr := session.NewManager(p, types.Sepolia(""), nil, nil)
	mgr.Start()
	t.Cleanup(mgr.Stop)
	if connect {
		require.NoError(t, mgr.Connect(context.Background()))
	}
	store := receipts.NewStore(storage.NewMemory(), nil)
	return &fixture{
		provider: p,
		session:  mgr,
		receipts: store,
		seq:      NewSequencer(mgr, store, recipient, opts...),
	}
}

func line(id int, tier types.PackageTier, qty int, unit string) types.CartLine {
	price := decimal.RequireFromString(unit)
	return types.CartLine{
		ID:           types.LineID(id, tier),
		ProductID:    id,
		ProductName:  "med",
		Category:     "Pain Relief",
		PackageTier:  tier,
		PackageUnits: tier.Units(),
		Quantity:     qty,
		UnitPrice:    price,
		TotalPrice:   types.LinePrice(price, tier, qty),
	}
}

func threeLines() []types.CartLine {
	return []types.CartLine{
		line(1, types.TierMedium, 2, "0.001"),
		line(4, types.TierSmall, 1, "0.015"),
		line(7, types.TierLarge, 3, "0.002"),
	}
}

func TestCheckoutCompletes(t *testing.T) {
	var seen []int
	f := newFixture(t, true, WithProgress(func(i int, _ types.CartLine) { seen = append(seen, i) }))

	out := f.seq.Checkout(context.Background(), threeLines())
	require.Equal(t, StatusCompleted, out.Status, "%v", out.Err)
	assert.Equal(t, -1, out.FailedIndex)
	assert.NoError(t, out.Err)
	assert.Equal(t, []int{0, 1, 2}, seen)

	require.Len(t, f.provider.Sent, 3)
	first := f.provider.Sent[0]
	assert.Equal(t, recipient, first.To)
	assert.Equal(t, buyer, first.From)
	assert.Equal(t, "Medication: 1, Package: 30, Qty: 2", string(first.Data))
	assert.Equal(t, "5600000000000000", first.Value.String())
	assert.Equal(t, "Medication: 7, Package: 60, Qty: 3", string(f.provider.Sent[2].Data))
	assert.Equal(t, 3, f.provider.WaitCalls)

	assert.Equal(t, []common.Hash{wallettest.HashFor(0), wallettest.HashFor(1), wallettest.HashFor(2)}, out.TxHashes)
	require.Len(t, out.Receipts, 3)
	stored := f.receipts.Medications(context.Background(), buyer)
	require.Len(t, stored, 3)
	assert.Equal(t, wallettest.HashFor(1).Hex(), stored[1].TxHash)
	assert.Equal(t, 30, stored[0].PackageUnits)
}

func TestCheckoutStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, true)
	f.provider.SendErrAt[1] = errors.New("insufficient funds")

	out := f.seq.Checkout(context.Background(), threeLines())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, out.FailedIndex)
	assert.True(t, types.IsCode(out.Err, types.ErrTransactionFailed))

	// the third line is never submitted
	assert.Equal(t, 2, f.provider.SendCalls)
	require.Len(t, out.Receipts, 1)
	assert.Equal(t, 1, out.Receipts[0].MedicationID)

	stored := f.receipts.Medications(context.Background(), buyer)
	require.Len(t, stored, 1)
	assert.Equal(t, wallettest.HashFor(0).Hex(), stored[0].TxHash)
}

func TestCheckoutRejectedTransfer(t *testing.T) {
	f := newFixture(t, true)
	f.provider.SendErrAt[0] = wallettest.Rejected()

	out := f.seq.Checkout(context.Background(), threeLines())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 0, out.FailedIndex)
	assert.True(t, types.IsCode(out.Err, types.ErrUserRejected))
	assert.Empty(t, out.Receipts)
}

func TestCheckoutUnconfirmedTransfer(t *testing.T) {
	f := newFixture(t, true)
	f.provider.WaitErr = wallet.ErrTransactionReverted

	out := f.seq.Checkout(context.Background(), threeLines())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 0, out.FailedIndex)
	assert.ErrorIs(t, out.Err, wallet.ErrTransactionReverted)
	assert.Equal(t, 1, f.provider.SendCalls)
	assert.Empty(t, f.receipts.Medications(context.Background(), buyer))
}

func TestCheckoutPreconditions(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t, true)
		out := f.seq.Checkout(context.Background(), nil)
		assert.Equal(t, StatusPreconditionsNotMet, out.Status)
		assert.Equal(t, -1, out.FailedIndex)
		assert.Zero(t, f.provider.SendCalls)
	})

	t.Run("disconnected", func(t *testing.T) {
		f := newFixture(t, false)
		out := f.seq.Checkout(context.Background(), threeLines())
		assert.Equal(t, StatusPreconditionsNotMet, out.Status)
		assert.True(t, types.IsCode(out.Err, types.ErrNotConnected))
		assert.Zero(t, f.provider.SendCalls)
	})

	t.Run("wrong network", func(t *testing.T) {
		f := newFixture(t, true)
		f.provider.SetChain(big.NewInt(1))
		out := f.seq.Checkout(context.Background(), threeLines())
		assert.Equal(t, StatusPreconditionsNotMet, out.Status)
		assert.True(t, types.IsCode(out.Err, types.ErrWrongNetwork))
		assert.Zero(t, f.provider.SendCalls)
		assert.Zero(t, f.provider.SwitchCalls)
	})
}

func TestCheckoutCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.seq.Checkout(ctx, threeLines())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 0, out.FailedIndex)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Zero(t, f.provider.SendCalls)
}

func TestCheckoutRejectsZeroPricedLine(t *testing.T) {
	f := newFixture(t, true)
	lines := threeLines()
	lines[0].TotalPrice = decimal.Zero

	out := f.seq.Checkout(context.Background(), lines)
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, types.IsCode(out.Err, types.ErrInvalidProduct))
	assert.Zero(t, f.provider.SendCalls)
}

func TestPurchasePlan(t *testing.T) {
	f := newFixture(t, true, WithConfirmTimeout(time.Second))
	plan := types.InsurancePlan{ID: 2, Name: "Premium Health", BasePriceEth: decimal.RequireFromString("0.05")}

	policy, err := f.seq.PurchasePlan(context.Background(), plan, 3)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.1425").Equal(policy.CoverageAmount))
	assert.Equal(t, 3, policy.PeopleCount)
	assert.Equal(t, wallettest.HashFor(0).Hex(), policy.TxHash)
	assert.Equal(t, policy.PurchasedAt.Add(receipts.PolicyTerm), policy.ExpiresAt)

	require.Len(t, f.provider.Sent, 1)
	assert.Equal(t, "Insurance Plan: 2, People: 3", string(f.provider.Sent[0].Data))
	assert.Equal(t, "142500000000000000", f.provider.Sent[0].Value.String())
	assert.Len(t, f.receipts.Policies(context.Background(), buyer), 1)

	single, err := f.seq.PurchasePlan(context.Background(), plan, 1)
	require.NoError(t, err)
	assert.True(t, plan.BasePriceEth.Equal(single.CoverageAmount))
}

func TestPurchasePlanNegotiatesOnce(t *testing.T) {
	plan := types.InsurancePlan{ID: 0, Name: "Basic", BasePriceEth: decimal.RequireFromString("0.01")}

	f := newFixture(t, true)
	f.provider.SetChain(big.NewInt(1))
	_, err := f.seq.PurchasePlan(context.Background(), plan, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.SwitchCalls)
	assert.Equal(t, 1, f.provider.SendCalls)

	g := newFixture(t, true)
	g.provider.SetChain(big.NewInt(1))
	g.provider.SwitchErr = wallettest.Rejected()
	_, err = g.seq.PurchasePlan(context.Background(), plan, 1)
	assert.True(t, types.IsCode(err, types.ErrWrongNetwork))
	assert.Equal(t, 1, g.provider.SwitchCalls)
	assert.Zero(t, g.provider.SendCalls)
}

func TestPurchasePlanValidation(t *testing.T) {
	f := newFixture(t, true)
	plan := types.InsurancePlan{ID: 1, Name: "Standard", BasePriceEth: decimal.RequireFromString("0.03")}

	for _, people := range []int{0, 6} {
		_, err := f.seq.PurchasePlan(context.Background(), plan, people)
		assert.True(t, types.IsCode(err, types.ErrInvalidProduct))
	}
	_, err := f.seq.PurchasePlan(context.Background(), types.InsurancePlan{ID: 9, Name: "Free"}, 1)
	assert.True(t, types.IsCode(err, types.ErrInvalidProduct))

	g := newFixture(t, false)
	_, err = g.seq.PurchasePlan(context.Background(), plan, 1)
	assert.True(t, types.IsCode(err, types.ErrNotConnected))
	assert.Zero(t, f.provider.SendCalls)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
