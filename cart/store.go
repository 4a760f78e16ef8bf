// Package cart holds the medication cart and persists it after every change.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/utils"
)

// Store is the cart. Lines keep insertion order and are unique per
// (product, tier).
type Store struct {
	mu     sync.RWMutex
	lines  []types.CartLine
	store  storage.Store
	logger logger.Logger
}

// Load restores the cart from store. A missing or unreadable record yields an
// empty cart; the failure is logged, not returned.
func Load(ctx context.Context, store storage.Store, l logger.Logger) *Store {
	s := &Store{store: store, logger: logger.OrNoop(l)}

	raw, err := store.Get(ctx, storage.KeyCart)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read cart", logger.WithErr(map[string]any{"key": storage.KeyCart}, err))
		}
		return s
	}

	var lines []types.CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		s.logger.Warn("failed to parse cart", logger.WithErr(map[string]any{"key": storage.KeyCart}, err))
		return s
	}
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		fixed, ok := normalize(line)
		if !ok {
			s.logger.Warn("dropping invalid cart line", map[string]any{"line_id": line.ID, "quantity": line.Quantity})
			continue
		}
		if _, dup := seen[fixed.ID]; dup {
			continue
		}
		seen[fixed.ID] = struct{}{}
		s.lines = append(s.lines, fixed)
	}
	return s
}

// normalize fills the tier from the package size of records that only carry
// the latter, reprices the line from its unit price, and drops lines that
// cannot be priced or whose quantity is out of range.
func normalize(line types.CartLine) (types.CartLine, bool) {
	if line.Quantity < types.MinLineQuantity || line.Quantity > types.MaxLineQuantity {
		return line, false
	}
	if !line.UnitPrice.IsPositive() {
		return line, false
	}
	if !line.PackageTier.Valid() {
		tier, err := types.TierForUnits(line.PackageUnits)
		if err != nil {
			return line, false
		}
		line.PackageTier = tier
	}
	line.PackageUnits = line.PackageTier.Units()
	if line.ID == "" {
		line.ID = types.LineID(line.ProductID, line.PackageTier)
	}
	line.TotalPrice = types.LinePrice(line.UnitPrice, line.PackageTier, line.Quantity)
	return line, true
}

// AddLine adds qty packages of med in the given tier. Adding to an existing
// line increases its quantity and total price. It returns false, with no
// change made, when qty is outside 1..5 or the line would exceed 5.
func (s *Store) AddLine(ctx context.Context, med types.Medication, tier types.PackageTier, qty int) (bool, error) {
	if !tier.Valid() {
		return false, types.NewError(types.ErrInvalidProduct, "unknown package tier "+tier.String(), nil)
	}
	if err := utils.ValidateMedication(med); err != nil {
		return false, err
	}
	if qty < types.MinLineQuantity || qty > types.MaxLineQuantity {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := types.LineID(med.ID, tier)
	added := types.LinePrice(med.PriceEth, tier, qty)
	for i := range s.lines {
		if s.lines[i].ID != id {
			continue
		}
		if s.lines[i].Quantity+qty > types.MaxLineQuantity {
			return false, nil
		}
		s.lines[i].Quantity += qty
		s.lines[i].TotalPrice = s.lines[i].TotalPrice.Add(added)
		return true, s.persistLocked(ctx)
	}

	s.lines = append(s.lines, types.CartLine{
		ID:           id,
		ProductID:    med.ID,
		ProductName:  med.Name,
		Description:  med.Description,
		Category:     med.Category,
		PackageTier:  tier,
		PackageUnits: tier.Units(),
		Quantity:     qty,
		UnitPrice:    med.PriceEth,
		TotalPrice:   added,
	})
	return true, s.persistLocked(ctx)
}

// UpdateQuantity sets a line's quantity and reprices it. Quantities outside
// 1..5 and unknown ids are ignored.
func (s *Store) UpdateQuantity(ctx context.Context, lineID string, qty int) (bool, error) {
	if qty < types.MinLineQuantity || qty > types.MaxLineQuantity {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ID == lineID {
			s.lines[i].Quantity = qty
			s.lines[i].TotalPrice = types.LinePrice(s.lines[i].UnitPrice, s.lines[i].PackageTier, qty)
			return true, s.persistLocked(ctx)
		}
	}
	return false, nil
}

// RemoveLine deletes a line. Unknown ids are ignored.
func (s *Store) RemoveLine(ctx context.Context, lineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ID == lineID {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return true, s.persistLocked(ctx)
		}
	}
	return false, nil
}

// RemovePaid takes paid lines out of the cart. A line whose quantity grew
// after it was paid keeps the unpaid remainder. Lines added meanwhile stay.
func (s *Store) RemovePaid(ctx context.Context, paid []types.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paidQty := make(map[string]int, len(paid))
	for _, line := range paid {
		paidQty[line.ID] += line.Quantity
	}
	kept := s.lines[:0]
	for _, line := range s.lines {
		q, ok := paidQty[line.ID]
		if !ok {
			kept = append(kept, line)
			continue
		}
		if rest := line.Quantity - q; rest >= types.MinLineQuantity {
			line.Quantity = rest
			line.TotalPrice = types.LinePrice(line.UnitPrice, line.PackageTier, rest)
			kept = append(kept, line)
		}
	}
	s.lines = kept
	return s.persistLocked(ctx)
}

// Clear empties the cart and deletes its record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	return s.persistLocked(ctx)
}

// Lines returns a copy of the cart lines in insertion order.
func (s *Store) Lines() []types.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// Total is the sum of line totals.
func (s *Store) Total() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.TotalPrice)
	}
	return total
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

func (s *Store) persistLocked(ctx context.Context) error {
	if len(s.lines) == 0 {
		if err := s.store.Delete(ctx, storage.KeyCart); err != nil {
			return s.storageErr("delete cart", err)
		}
		return nil
	}
	raw, err := json.Marshal(s.lines)
	if err != nil {
		return s.storageErr("encode cart", err)
	}
	if err := s.store.Set(ctx, storage.KeyCart, raw); err != nil {
		return s.storageErr("write cart", err)
	}
	return nil
}

func (s *Store) storageErr(msg string, err error) error {
	s.logger.Error("failed to persist cart", logger.WithErr(map[string]any{"op": msg}, err))
	return types.NewError(types.ErrStorage, msg, err)
}
