package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus is the lifecycle state of a purchase record.
type PurchaseStatus string

// Purchase statuses. A failed settlement keeps its status and carries ErrorMessage.
const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusConfirmed PurchaseStatus = "confirmed"
	PurchaseStatusCompleted PurchaseStatus = "completed"
)

// Crypto types accepted as payment.
const (
	CryptoTypeSOL  = "SOL"
	CryptoTypeUSDC = "USDC"
)

// PurchaseRecord is the unit of settlement truth: one paid purchase and its payout.
// Corresponds to purchases table.
type PurchaseRecord struct {
	ID     string         // uuid
	Status PurchaseStatus // pending | confirmed | completed

	WalletAddress    string  // buyer wallet
	TokenAddress     string  // delivery owner; usually equal to WalletAddress
	PaymentSignature *string // funding transaction, unique when present

	TokensToCredit int64           // whole tokens, fixed at creation
	CryptoType     string          // SOL | USDC
	CryptoAmount   decimal.Decimal // amount actually paid in CryptoType units
	USDAmount      decimal.Decimal // USD equivalent at match time
	StageName      string          // pricing stage active at creation

	SettlementSignature *string // reward transfer, nil until sent
	ErrorMessage        *string // last settlement error

	// Inflight marks a submitted transfer whose confirmation was not observed.
	InflightSignature   *string
	InflightValidHeight uint64

	// SettlingUntil is the claim lease held by the executor while settling.
	SettlingUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settled reports whether a reward transfer has been durably recorded.
func (p *PurchaseRecord) Settled() bool {
	return p.SettlementSignature != nil && *p.SettlementSignature != ""
}

// DeliveryAddress returns the owner that receives reward tokens.
func (p *PurchaseRecord) DeliveryAddress() string {
	if p.TokenAddress != "" {
		return p.TokenAddress
	}
	return p.WalletAddress
}

// PaymentRef returns the payment signature or an empty string.
func (p *PurchaseRecord) PaymentRef() string {
	if p.PaymentSignature == nil {
		return ""
	}
	return *p.PaymentSignature
}
