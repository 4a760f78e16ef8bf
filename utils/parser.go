package utils

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vitwit/healthpay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	return validate
}

// ParseChainDescriptor parses and validates a ChainDescriptor from JSON
func ParseChainDescriptor(data []byte) (*types.ChainDescriptor, error) {
	var desc types.ChainDescriptor

	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, &types.HealthPayError{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("failed to parse chain descriptor: %v", err),
		}
	}

	if err := ValidateChainDescriptor(desc); err != nil {
		return nil, err
	}

	return &desc, nil
}

// ValidateChainDescriptor checks the descriptor's struct tags.
func ValidateChainDescriptor(desc types.ChainDescriptor) error {
	if err := validate.Struct(&desc); err != nil {
		return &types.HealthPayError{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("invalid chain descriptor: %v", err),
		}
	}
	return nil
}

// ToWei converts an amount in whole native units to the chain's smallest
// unit. Precision beyond the given decimals is truncated.
func ToWei(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	return amount.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FromWei formats a smallest-unit amount back to whole native units.
func FromWei(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// MedicationMemo is the transaction memo for a medication line.
func MedicationMemo(medicationID, packageUnits, quantity int) string {
	return fmt.Sprintf("Medication: %d, Package: %d, Qty: %d", medicationID, packageUnits, quantity)
}

// PlanMemo is the transaction memo for an insurance plan purchase.
func PlanMemo(planID, people int) string {
	return fmt.Sprintf("Insurance Plan: %d, People: %d", planID, people)
}

// EncodeMemo returns the UTF-8 bytes of memo for a transaction data field.
func EncodeMemo(memo string) []byte {
	return []byte(memo)
}

// MemoHex is the 0x-prefixed hex form of the encoded memo.
func MemoHex(memo string) string {
	return hexutil.Encode(EncodeMemo(memo))
}

// NormalizeCategory turns a slug like "cold-&-flu" or "pain-relief" into the
// title-cased catalog form ("Cold & Flu", "Pain Relief").
func NormalizeCategory(slug string) string {
	words := strings.Split(strings.TrimSpace(slug), "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
