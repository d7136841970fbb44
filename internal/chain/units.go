package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human amount to integer base units, truncating toward zero
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts integer base units to a human amount
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// FromUint64 converts a uint64 base-unit amount to a human amount
func FromUint64(v uint64, decimals int32) decimal.Decimal {
	return FromBaseUnits(new(big.Int).SetUint64(v), decimals)
}
