package domain

import (
	"github.com/shopspring/decimal"
)

var (
	MinAmount = decimal.NewFromInt(1)
	MaxAmount = decimal.NewFromInt(150000)
)

// ValidateAmount accepts whole shilling amounts in [MinAmount, MaxAmount].
func ValidateAmount(amount decimal.Decimal) (int64, error) {
	if !amount.IsInteger() {
		return 0, ErrInvalidAmount
	}
	if amount.LessThan(MinAmount) || amount.GreaterThan(MaxAmount) {
		return 0, ErrInvalidAmount
	}
	return amount.IntPart(), nil
}
