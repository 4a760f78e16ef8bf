// Package storage persists small JSON records under fixed keys, the way a
// browser's local storage would.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("storage: record not found")

// Store is a flat key-value record store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Fixed record keys.
const (
	KeyCart        = "healthdapp_cart"
	KeyPolicies    = "userPolicies"
	KeyMedications = "userMedications"
)
