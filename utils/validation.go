package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/healthpay/types"
)

// ValidateMedication checks a catalog medication before it enters the cart
func ValidateMedication(m types.Medication) error {
	if err := validate.Struct(&m); err != nil {
		return types.NewError(types.ErrInvalidProduct, "invalid medication", err)
	}
	if !m.PriceEth.IsPositive() {
		return types.NewError(types.ErrInvalidProduct, fmt.Sprintf("medication %d has non-positive price", m.ID), nil)
	}
	return nil
}

// ValidatePlan checks a catalog plan before purchase
func ValidatePlan(p types.InsurancePlan) error {
	if err := validate.Struct(&p); err != nil {
		return types.NewError(types.ErrInvalidProduct, "invalid insurance plan", err)
	}
	if !p.BasePriceEth.IsPositive() {
		return types.NewError(types.ErrInvalidProduct, fmt.Sprintf("plan %d has non-positive price", p.ID), nil)
	}
	return nil
}

// OwnerKey normalises an address for receipt ownership comparisons
func OwnerKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
