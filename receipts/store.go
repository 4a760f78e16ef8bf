// Package receipts records confirmed purchases. Records are append-only and
// shared by every account; reads filter by owner.
package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/utils"
)

// PolicyTerm is how long a purchased policy stays active.
const PolicyTerm = 365 * 24 * time.Hour

type Store struct {
	mu     sync.Mutex
	store  storage.Store
	logger logger.Logger
	now    func() time.Time
}

func NewStore(store storage.Store, l logger.Logger) *Store {
	return &Store{store: store, logger: logger.OrNoop(l), now: time.Now}
}

// AddMedication appends a medication receipt. ID, Owner and PurchasedAt are
// filled in.
func (s *Store) AddMedication(ctx context.Context, owner common.Address, r types.MedicationReceipt) (types.MedicationReceipt, error) {
	r.ID = uuid.NewString()
	r.Owner = utils.OwnerKey(owner)
	r.PurchasedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	all := readAll[types.MedicationReceipt](ctx, s, storage.KeyMedications)
	all = append(all, r)
	if err := s.write(ctx, storage.KeyMedications, all); err != nil {
		return r, err
	}
	return r, nil
}

// AddPolicy appends a policy receipt expiring one term after purchase.
func (s *Store) AddPolicy(ctx context.Context, owner common.Address, r types.PolicyReceipt) (types.PolicyReceipt, error) {
	r.ID = uuid.NewString()
	r.Owner = utils.OwnerKey(owner)
	r.PurchasedAt = s.now().UTC()
	r.ExpiresAt = r.PurchasedAt.Add(PolicyTerm)

	s.mu.Lock()
	defer s.mu.Unlock()
	all := readAll[types.PolicyReceipt](ctx, s, storage.KeyPolicies)
	all = append(all, r)
	if err := s.write(ctx, storage.KeyPolicies, all); err != nil {
		return r, err
	}
	return r, nil
}

// Medications returns owner's medication receipts in purchase order.
func (s *Store) Medications(ctx context.Context, owner common.Address) []types.MedicationReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := readAll[types.MedicationReceipt](ctx, s, storage.KeyMedications)

	key := utils.OwnerKey(owner)
	out := make([]types.MedicationReceipt, 0, len(all))
	for _, r := range all {
		if strings.EqualFold(r.Owner, key) {
			out = append(out, r)
		}
	}
	return out
}

// Policies returns owner's policy receipts in purchase order.
func (s *Store) Policies(ctx context.Context, owner common.Address) []types.PolicyReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := readAll[types.PolicyReceipt](ctx, s, storage.KeyPolicies)

	key := utils.OwnerKey(owner)
	out := make([]types.PolicyReceipt, 0, len(all))
	for _, r := range all {
		if strings.EqualFold(r.Owner, key) {
			out = append(out, r)
		}
	}
	return out
}

// ActivePolicies returns owner's policies that have not expired.
func (s *Store) ActivePolicies(ctx context.Context, owner common.Address) []types.PolicyReceipt {
	now := s.now()
	var out []types.PolicyReceipt
	for _, p := range s.Policies(ctx, owner) {
		if p.Active(now) {
			out = append(out, p)
		}
	}
	return out
}

// readAll decodes the record at key. Missing or corrupt records read as
// empty.
func readAll[T any](ctx context.Context, s *Store, key string) []T {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read receipts", logger.WithErr(map[string]any{"key": key}, err))
		}
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn("failed to parse receipts", logger.WithErr(map[string]any{"key": key}, err))
		return nil
	}
	return out
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return types.NewError(types.ErrStorage, "encode receipts", err)
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		s.logger.Error("failed to write receipts", logger.WithErr(map[string]any{"key": key}, err))
		return types.NewError(types.ErrStorage, "write receipts", err)
	}
	return nil
}
