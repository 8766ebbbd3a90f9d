package domain

import "time"

// Diagnostic kinds.
const (
	DiagnosticPurchaseNotFound = "purchase_not_found"
	DiagnosticAmountUnresolved = "amount_unresolved"
	DiagnosticBindFailed       = "bind_failed"
	DiagnosticSettlementFailed = "settlement_failed"
	DiagnosticBacklogFailed    = "backlog_failed"
)

// Diagnostic is an append-only event supporting manual replay of unmatched or failed work.
type Diagnostic struct {
	ID         string
	Kind       string
	Signature  string // originating payment signature, if any
	PurchaseID string
	Wallet     string
	Message    string
	Details    map[string]string
	CreatedAt  time.Time
}
