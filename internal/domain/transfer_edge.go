package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the decimal exponent of lamports.
const NativeDecimals = 9

// TransferEdge is one native or token movement inside a notified transaction.
// Ephemeral: used for amount resolution and matching, never persisted.
type TransferEdge struct {
	Source      string // payer wallet
	Destination string // payee wallet
	Mint        string // empty for native SOL
	Raw         uint64 // smallest units
	Decimals    uint8
}

// IsNative reports whether the edge moves native SOL.
func (e TransferEdge) IsNative() bool {
	return e.Mint == ""
}

// Amount returns the decimals-adjusted amount.
func (e TransferEdge) Amount() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(e.Raw), -int32(e.Decimals))
}
