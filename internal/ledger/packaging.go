package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stockledger/backend/internal/store"
)

// TotalBaseUnits applies the packaging formula packageQty*packageSize + unitQty.
func (b Bounds) TotalBaseUnits(packageQty int64, unitQty int64, packageSize int64) (int64, error) {
	if packageSize < 1 {
		return 0, fmt.Errorf("%w: package size must be at least 1", store.ErrInvalidInput)
	}
	if err := b.Check("package_qty", packageQty); err != nil {
		return 0, err
	}
	if err := b.Check("unit_qty", unitQty); err != nil {
		return 0, err
	}
	packed, err := b.Mul(packageQty, packageSize)
	if err != nil {
		return 0, err
	}
	return b.Add(packed, unitQty)
}

// SplitPackages breaks a base-unit quantity into whole packages and loose units.
func SplitPackages(baseUnits int64, packageSize int64) (int64, int64) {
	if packageSize < 1 {
		packageSize = 1
	}
	return baseUnits / packageSize, baseUnits % packageSize
}

// PackageEquivalent expresses base units in packages, rounded to 2 places.
func PackageEquivalent(baseUnits int64, packageSize int64) decimal.Decimal {
	if packageSize < 1 {
		packageSize = 1
	}
	return decimal.NewFromInt(baseUnits).DivRound(decimal.NewFromInt(packageSize), 2)
}
