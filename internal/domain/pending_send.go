package domain

import "time"

// PendingSendStatus is the state of a backlog row.
type PendingSendStatus string

// Pending send statuses. Within one worker pass: queued|failed -> sending -> sent|failed.
const (
	PendingSendQueued  PendingSendStatus = "queued"
	PendingSendSending PendingSendStatus = "sending"
	PendingSendFailed  PendingSendStatus = "failed"
	PendingSendSent    PendingSendStatus = "sent"
)

// PendingSendRecord is a settlement retry queued independently of the webhook path.
// Corresponds to pending_sends table.
type PendingSendRecord struct {
	ID       string
	Status   PendingSendStatus
	Attempts int // incremented on every claim

	WalletAddress  string
	AmountSmallest int64   // smallest token units; must be positive to be sent
	PurchaseID     *string // optional link to purchases.id

	SettlementSignature *string
	LastError           *string

	InflightSignature   *string
	InflightValidHeight uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the row may be picked up by a worker pass.
func (r *PendingSendRecord) Due() bool {
	return r.Status == PendingSendQueued || r.Status == PendingSendFailed
}
