package domain

// Transaction types carried by notifications.
const (
	NotificationTypeTransfer = "TRANSFER"
)

// Notification is a validated blockchain transaction notification.
type Notification struct {
	Signature       string
	Type            string
	Failed          bool // transaction error reported on-chain
	FeePayer        string
	Timestamp       int64 // unix seconds, 0 if absent
	NativeTransfers []TransferEdge
	TokenTransfers  []TransferEdge
}

// IsTransfer reports whether the notification describes a successful transfer.
func (n *Notification) IsTransfer() bool {
	return n.Type == NotificationTypeTransfer && !n.Failed
}

// Edges returns token edges followed by native edges.
func (n *Notification) Edges() []TransferEdge {
	edges := make([]TransferEdge, 0, len(n.TokenTransfers)+len(n.NativeTransfers))
	edges = append(edges, n.TokenTransfers...)
	return append(edges, n.NativeTransfers...)
}
