package domain

import "github.com/shopspring/decimal"

// Stage is a presale pricing stage, active while cumulative USD raised is below CapUSD.
type Stage struct {
	Name       string
	CapUSD     decimal.Decimal // cumulative USD raised at which the stage closes
	RatePerUSD decimal.Decimal // reward tokens per USD
	BonusBps   int64           // stage bonus in basis points
}

// SizeBonusTier grants BonusBps to purchases of at least MinUSD.
type SizeBonusTier struct {
	MinUSD   decimal.Decimal
	BonusBps int64
}
