package coin

import "github.com/shopspring/decimal"

const solDecimals = 9

// ToSol converts lamports to SOL.
func ToSol(lamports uint64) decimal.Decimal {
	return decimal.New(int64(lamports), -solDecimals)
}

// ToLamports converts SOL to lamports.
func ToLamports(amount decimal.Decimal) uint64 {
	return uint64(amount.Shift(solDecimals).IntPart())
}

// ToUIAmount converts the smallest token part to the display amount.
func ToUIAmount(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.New(int64(raw), -int32(decimals))
}

// ToRawAmount converts a display amount to the smallest token part.
func ToRawAmount(amount decimal.Decimal, decimals uint8) uint64 {
	return uint64(amount.Shift(int32(decimals)).IntPart())
}
