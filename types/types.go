package types

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PackageTier is a fixed medication package size carrying a price factor.
type PackageTier string

const (
	TierSmall  PackageTier = "small"
	TierMedium PackageTier = "medium"
	TierLarge  PackageTier = "large"
)

const (
	MinLineQuantity = 1
	MaxLineQuantity = 5

	MinPlanPeople = 1
	MaxPlanPeople = 5
)

var (
	tierUnits = map[PackageTier]int{
		TierSmall:  10,
		TierMedium: 30,
		TierLarge:  60,
	}
	tierFactors = map[PackageTier]decimal.Decimal{
		TierSmall:  decimal.NewFromInt(1),
		TierMedium: decimal.RequireFromString("2.8"),
		TierLarge:  decimal.RequireFromString("5.5"),
	}
)

// Valid reports whether the tier is one of the known package sizes.
func (t PackageTier) Valid() bool {
	_, ok := tierUnits[t]
	return ok
}

// Units is the number of tablets in the package.
func (t PackageTier) Units() int {
	return tierUnits[t]
}

// Factor is the price multiplier applied to the per-package unit price.
func (t PackageTier) Factor() decimal.Decimal {
	f, ok := tierFactors[t]
	if !ok {
		return decimal.Zero
	}
	return f
}

func (t PackageTier) String() string {
	return string(t)
}

// TierForUnits maps a package size (10, 30, 60) to its tier.
func TierForUnits(units int) (PackageTier, error) {
	for tier, u := range tierUnits {
		if u == units {
			return tier, nil
		}
	}
	return "", fmt.Errorf("unknown package size %d", units)
}

// InsurancePlan is a catalog entry for a purchasable coverage plan.
type InsurancePlan struct {
	ID           int             `json:"id"`
	Name         string          `json:"name" validate:"required"`
	Description  string          `json:"description"`
	BasePriceEth decimal.Decimal `json:"basePriceEth"`
	Benefits     []string        `json:"benefits,omitempty"`
}

// Medication is a catalog entry for a purchasable medication.
type Medication struct {
	ID          int             `json:"id"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category" validate:"required"`
	PriceEth    decimal.Decimal `json:"priceEth"`
}

// CartLine is one cart entry identified by product and package tier.
type CartLine struct {
	ID           string          `json:"id"`
	ProductID    int             `json:"medicationId"`
	ProductName  string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category"`
	PackageTier  PackageTier     `json:"packageTier"`
	PackageUnits int             `json:"packageSize"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"pricePerUnit"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
}

// LineID derives the cart line id for a product and tier.
func LineID(productID int, tier PackageTier) string {
	return strconv.Itoa(productID) + "-" + strconv.Itoa(tier.Units())
}

// LinePrice computes unitPrice * factor(tier) * quantity.
func LinePrice(unitPrice decimal.Decimal, tier PackageTier, quantity int) decimal.Decimal {
	return unitPrice.Mul(tier.Factor()).Mul(decimal.NewFromInt(int64(quantity)))
}

// PlanPrice returns the price of a plan for the given number of people.
// Groups of more than one person get a 5% discount.
func PlanPrice(basePrice decimal.Decimal, people int) decimal.Decimal {
	if people <= 1 {
		return basePrice
	}
	return basePrice.Mul(decimal.NewFromInt(int64(people))).Mul(decimal.RequireFromString("0.95"))
}

// MedicationReceipt is a locally recorded confirmed medication purchase.
type MedicationReceipt struct {
	ID           string          `json:"id"`
	Owner        string          `json:"userAddress"`
	MedicationID int             `json:"medicationId"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	PackageUnits int             `json:"packageSize"`
	Quantity     int             `json:"quantity"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	TxHash       string          `json:"txHash"`
	PurchasedAt  time.Time       `json:"purchaseDate"`
}

// PolicyReceipt is a locally recorded confirmed insurance purchase.
type PolicyReceipt struct {
	ID             string          `json:"id"`
	Owner          string          `json:"userAddress"`
	PlanID         int             `json:"planId"`
	PlanName       string          `json:"planName,omitempty"`
	PeopleCount    int             `json:"peopleCount"`
	CoverageAmount decimal.Decimal `json:"coverageAmount"`
	TxHash         string          `json:"txHash"`
	PurchasedAt    time.Time       `json:"purchaseDate"`
	ExpiresAt      time.Time       `json:"expiryDate"`
}

// Active reports whether the policy has not yet expired at t.
func (p PolicyReceipt) Active(t time.Time) bool {
	return t.Before(p.ExpiresAt)
}

// DaysRemaining returns the whole days left before expiry, rounded up.
func (p PolicyReceipt) DaysRemaining(t time.Time) int {
	if !p.Active(t) {
		return 0
	}
	left := p.ExpiresAt.Sub(t)
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// Session is the live wallet-connection state.
type Session struct {
	Account        *common.Address `json:"account,omitempty"`
	ChainID        *big.Int        `json:"chainId,omitempty"`
	Connected      bool            `json:"connected"`
	CorrectNetwork bool            `json:"correctNetwork"`
}

// Clone returns a deep copy that callers may keep.
func (s Session) Clone() Session {
	out := s
	if s.Account != nil {
		acc := *s.Account
		out.Account = &acc
	}
	if s.ChainID != nil {
		out.ChainID = new(big.Int).Set(s.ChainID)
	}
	return out
}

// HealthPayError is the coded error returned across package boundaries.
type HealthPayError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

func (e *HealthPayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HealthPayError) Unwrap() error {
	return e.Err
}

// NewError builds a coded error wrapping err (which may be nil).
func NewError(code, message string, err error) *HealthPayError {
	return &HealthPayError{Code: code, Message: message, Err: err}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var he *HealthPayError
	if !errors.As(err, &he) {
		return false
	}
	return he.Code == code
}

// Common error codes
const (
	ErrProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrWrongNetwork        = "WRONG_NETWORK"
	ErrUserRejected        = "USER_REJECTED"
	ErrTransactionFailed   = "TRANSACTION_FAILED"
	ErrStaleSigner         = "STALE_SIGNER"
	ErrNotConnected        = "NOT_CONNECTED"
	ErrConnectInFlight     = "CONNECT_IN_FLIGHT"
	ErrInvalidProduct      = "INVALID_PRODUCT"
	ErrStorage             = "STORAGE_ERROR"
	ErrConfig              = "CONFIG_ERROR"
	ErrNotFound            = "NOT_FOUND"
)
