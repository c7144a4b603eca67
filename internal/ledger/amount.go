// Package ledger holds the pure arithmetic of the stock and credit ledger:
// packaging conversions, overflow-checked money math, document totals,
// due-date risk and the suffix-sum snapshot sweep. Nothing here touches
// storage or clocks.
package ledger

import (
	"fmt"
	"math"

	"stockledger/backend/internal/store"
)

// DefaultMaxAmount bounds every quantity and money value accepted or produced.
const DefaultMaxAmount int64 = 9_000_000_000_000_000

type Bounds struct {
	Max int64
}

func NewBounds(max int64) Bounds {
	if max <= 0 {
		max = DefaultMaxAmount
	}
	return Bounds{Max: max}
}

// Check rejects negative values and values above the ceiling.
func (b Bounds) Check(field string, value int64) error {
	if value < 0 {
		return fmt.Errorf("%w: %s must not be negative", store.ErrInvalidInput, field)
	}
	if value > b.max() {
		return fmt.Errorf("%w: %s exceeds %d", store.ErrAmountOutOfRange, field, b.max())
	}
	return nil
}

func (b Bounds) Add(a int64, c int64) (int64, error) {
	sum, err := AddChecked(a, c)
	if err != nil {
		return 0, err
	}
	if sum > b.max() || sum < -b.max() {
		return 0, fmt.Errorf("%w: result exceeds %d", store.ErrAmountOutOfRange, b.max())
	}
	return sum, nil
}

func (b Bounds) Mul(a int64, c int64) (int64, error) {
	product, err := MulChecked(a, c)
	if err != nil {
		return 0, err
	}
	if product > b.max() || product < -b.max() {
		return 0, fmt.Errorf("%w: result exceeds %d", store.ErrAmountOutOfRange, b.max())
	}
	return product, nil
}

func (b Bounds) max() int64 {
	if b.Max <= 0 {
		return DefaultMaxAmount
	}
	return b.Max
}

func AddChecked(a int64, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: integer overflow", store.ErrAmountOutOfRange)
	}
	return a + b, nil
}

func MulChecked(a int64, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fmt.Errorf("%w: integer overflow", store.ErrAmountOutOfRange)
	}
	return product, nil
}
