package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
)

var (
	aspirin = types.Medication{ID: 1, Name: "Aspirin", Category: "Pain Relief", PriceEth: decimal.RequireFromString("0.001")}
	insulin = types.Medication{ID: 4, Name: "Insulin", Category: "Diabetes", PriceEth: decimal.RequireFromString("0.015")}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingStore) Set(context.Context, string, []byte) error   { return f.err }
func (f failingStore) Delete(context.Context, string) error        { return f.err }

func TestAddLinePricesByTier(t *testing.T) {
	ctx := context.Background()
	c := Load(ctx, storage.NewMemory(), nil)

	ok, err := c.AddLine(ctx, aspirin, types.TierMedium, 2)
	require.NoError(t, err)
	require.True(t, ok)

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "1-30", lines[0].ID)
	assert.Equal(t, 30, lines[0].PackageUnits)
	assert.True(t, dec("0.0056").Equal(lines[0].TotalPrice), lines[0].TotalPrice.String())
}

func TestDuplicateAddIncrements(t *testing.T) {
	ctx := context.Background()
	c := Load(ctx, storage.NewMemory(), nil)

	_, err := c.AddLine(ctx, aspirin, types.TierSmall, 2)
	require.NoError(t, err)
	_, err = c.AddLine(ctx, aspirin, types.TierSmall, 1)
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
	line := c.Lines()[0]
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, dec("0.003").Equal(line.TotalPrice))

	// another tier is another line
	_, err = c.AddLine(ctx, aspirin, types.TierLarge, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestAddLineRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	c := Load(ctx, mem, nil)

	for _, q := range []int{0, -1, 6} {
		ok, err := c.AddLine(ctx, aspirin, types.TierSmall, q)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Zero(t, c.Len())
	assert.False(t, mem.Has(storage.KeyCart))

	_, err := c.AddLine(ctx, aspirin, types.TierSmall, 4)
	require.NoError(t, err)
	ok, err := c.AddLine(ctx, aspirin, types.TierSmall, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, c.Lines()[0].Quantity)
}

func TestAddLineRejectsInvalidProduct(t *testing.T) {
	ctx := context.Background()
	c := Load(ctx, storage.NewMemory(), nil)

	_, err := c.AddLine(ctx, aspirin, types.PackageTier("huge"), 1)
	assert.True(t, types.IsCode(err, types.ErrInvalidProduct))

	free := aspirin
	free.PriceEth = decimal.Zero
	_, err = c.AddLine(ctx, free, types.TierSmall, 1)
	assert.True(t, types.IsCode(err, types.ErrInvalidProduct))
}

func TestLineInvariantHoldsAfterMutations(t *testing.T) {
	ctx := context.Background()
	c := Load(ctx, storage.NewMemory(), nil)

	_, _ = c.AddLine(ctx, aspirin, types.TierLarge, 1)
	_, _ = c.AddLine(ctx, aspirin, types.TierLarge, 2)
	_, _ = c.AddLine(ctx, insulin, types.TierMedium, 1)
	_, _ = c.UpdateQuantity(ctx, "4-30", 5)
	_, _ = c.UpdateQuantity(ctx, "1-60", 4)

	total := decimal.Zero
	for _, line := range c.Lines() {
		want := line.UnitPrice.Mul(line.PackageTier.Factor()).Mul(decimal.NewFromInt(int64(line.Quantity)))
		assert.True(t, want.Equal(line.TotalPrice), "line %s: %s != %s", line.ID, want, line.TotalPrice)
		total = total.Add(line.TotalPrice)
	}
	assert.True(t, total.Equal(c.Total()))
	assert.True(t, dec("0.232").Equal(c.Total()), c.Total().String())
}

func TestUpdateQuantityIgnoresOutOfRange(t *testing.T) {
	ctx := context.Background()
	c := Load(ctx, storage.NewMemory(), nil)
	_, _ = c.AddLine(ctx, insulin, types.TierSmall, 2)

	for _, q := range []int{0, 6} {
		ok, err := c.UpdateQuantity(ctx, "4-10", q)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := c.UpdateQuantity(ctx, "missing", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Lines()[0].Quantity)
}

func TestPersistenceRoundTripAndEmptyDeletes(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	c := Load(ctx, mem, nil)

	_, _ = c.AddLine(ctx, aspirin, types.TierSmall, 1)
	_, _ = c.AddLine(ctx, insulin, types.TierLarge, 3)
	require.True(t, mem.Has(storage.KeyCart))

	reloaded := Load(ctx, mem, nil)
	assert.Equal(t, 2, reloaded.Len())
	assert.True(t, c.Total().Equal(reloaded.Total()))
	assert.Equal(t, "1-10", reloaded.Lines()[0].ID)

	ok, err := reloaded.RemoveLine(ctx, "1-10")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = reloaded.RemoveLine(ctx, "4-60")
	require.NoError(t, err)
	assert.False(t, mem.Has(storage.KeyCart))
	assert.Zero(t, Load(ctx, mem, nil).Len())
}

func TestClearDeletesRecord(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	c := Load(ctx, mem, nil)
	_, _ = c.AddLine(ctx, aspirin, types.TierSmall, 1)

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
	assert.True(t, c.Total().IsZero())
	assert.False(t, mem.Has(storage.KeyCart))
}

func TestRemovePaidKeepsUnpaidWork(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	c := Load(ctx, mem, nil)
	_, _ = c.AddLine(ctx, aspirin, types.TierSmall, 1)
	_, _ = c.AddLine(ctx, insulin, types.TierLarge, 2)
	paid := c.Lines()

	_, _ = c.AddLine(ctx, insulin, types.TierLarge, 1)
	_, _ = c.AddLine(ctx, aspirin, types.TierMedium, 1)

	require.NoError(t, c.RemovePaid(ctx, paid))
	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "4-60", lines[0].ID)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, "0.0825", lines[0].TotalPrice.String())
	assert.Equal(t, "1-30", lines[1].ID)

	reloaded := Load(ctx, mem, nil)
	assert.Equal(t, c.Total().String(), reloaded.Total().String())

	require.NoError(t, c.RemovePaid(ctx, c.Lines()))
	assert.Zero(t, c.Len())
	assert.False(t, mem.Has(storage.KeyCart))
}

func TestCorruptRecordLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Set(ctx, storage.KeyCart, []byte("{not json")))

	c := Load(ctx, mem, nil)
	assert.Zero(t, c.Len())

	c = Load(ctx, failingStore{err: errors.New("down")}, nil)
	assert.Zero(t, c.Len())
}

func TestLegacyRecordWithoutTier(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	raw := `[{"id":"2-60","medicationId":2,"name":"Ibuprofen","category":"Pain Relief","packageSize":60,"quantity":1,"pricePerUnit":"0.0015","totalPrice":"0.00825"},
	         {"id":"9-11","medicationId":9,"packageSize":11,"quantity":1}]`
	require.NoError(t, mem.Set(ctx, storage.KeyCart, []byte(raw)))

	c := Load(ctx, mem, nil)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, types.TierLarge, c.Lines()[0].PackageTier)
}

func TestLoadRepricesDriftedRecords(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	raw := `[{"id":"3-60","medicationId":3,"name":"Loratadine","packageSize":60,"quantity":1,"pricePerUnit":0.0015,"totalPrice":0.008250000000000002},
	         {"id":"4-60","medicationId":4,"name":"Pseudoephedrine","packageSize":60,"quantity":9,"pricePerUnit":0.0015,"totalPrice":0.008250000000000002},
	         {"id":"5-10","medicationId":5,"name":"Multivitamin","packageSize":10,"quantity":1,"pricePerUnit":0,"totalPrice":0},
	         {"id":"3-60","medicationId":3,"name":"Loratadine","packageSize":60,"quantity":2,"pricePerUnit":0.0015,"totalPrice":0.0165}]`
	require.NoError(t, mem.Set(ctx, storage.KeyCart, []byte(raw)))

	c := Load(ctx, mem, nil)
	require.Equal(t, 1, c.Len())
	line := c.Lines()[0]
	assert.Equal(t, "3-60", line.ID)
	assert.Equal(t, 1, line.Quantity)
	assert.Equal(t, "0.00825", line.TotalPrice.String())
	assert.True(t, line.TotalPrice.Equal(types.LinePrice(line.UnitPrice, line.PackageTier, line.Quantity)))
	assert.Equal(t, "0.00825", c.Total().String())
}

func TestPersistFailureIsReported(t *testing.T) {
	ctx := context.Background()
	c := Load(ctx, failingStore{err: errors.New("down")}, nil)

	ok, err := c.AddLine(ctx, aspirin, types.TierSmall, 1)
	assert.True(t, ok)
	assert.True(t, types.IsCode(err, types.ErrStorage))
	assert.Equal(t, 1, c.Len())
}
