// Package settlement turns transfer notifications into bound purchase
// records: edge selection, direction filters, amount resolution, stage and
// bonus pricing, and the purchase matcher.
package settlement

import (
	"errors"
	"fmt"

	"presale-settler/internal/domain"
)

// Reasons a notification is not a purchase.
var (
	ErrNoEdge           = errors.New("no transfer edge")
	ErrSelfTransfer     = errors.New("payer equals payee")
	ErrTreasuryOutbound = errors.New("payer is the treasury")
	ErrNotTreasury      = errors.New("destination is not the treasury")
)

// Payment is the candidate purchase extracted from one notification.
type Payment struct {
	Signature string
	Payer     string
	Payee     string
	Edge      domain.TransferEdge
	Amount    Resolution // filled by the amount resolver
}

// SelectEdge picks the edge paying the treasury, preferring token edges
// over native ones. Without a treasury edge it returns the first edge so
// that the direction filter can reject it.
func SelectEdge(n *domain.Notification, treasury string) (domain.TransferEdge, bool) {
	edges := n.Edges()
	if len(edges) == 0 {
		return domain.TransferEdge{}, false
	}
	for _, e := range edges {
		if e.Destination == treasury && e.Raw > 0 {
			return e, true
		}
	}
	return edges[0], true
}

// NewPayment extracts the payment carried by n.
func NewPayment(n *domain.Notification, treasury string) (Payment, error) {
	edge, ok := SelectEdge(n, treasury)
	if !ok {
		return Payment{}, fmt.Errorf("%s: %w", n.Signature, ErrNoEdge)
	}
	payer := edge.Source
	if payer == "" {
		payer = n.FeePayer
	}
	return Payment{
		Signature: n.Signature,
		Payer:     payer,
		Payee:     edge.Destination,
		Edge:      edge,
	}, nil
}

// Validate applies the direction filters.
func (p Payment) Validate(treasury string) error {
	switch {
	case p.Payer == p.Payee:
		return ErrSelfTransfer
	case p.Payer == treasury:
		return ErrTreasuryOutbound
	case p.Payee != treasury:
		return ErrNotTreasury
	}
	return nil
}

// SkipReason maps a filter error to a metric label.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrNoEdge):
		return "no_edge"
	case errors.Is(err, ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, ErrTreasuryOutbound):
		return "treasury_outbound"
	case errors.Is(err, ErrNotTreasury):
		return "not_treasury"
	default:
		return "invalid"
	}
}
