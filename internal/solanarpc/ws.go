package solanarpc

import (
	"context"
	"encoding/json"
)

// SignatureWatcher waits for a transaction signature to reach a commitment
// over a push subscription.
type SignatureWatcher interface {
	// WaitSignature blocks until the node reports the signature or ctx ends.
	WaitSignature(ctx context.Context, signature string) (*SignatureResult, error)

	// Close tears down the subscription connection.
	Close() error
}

// SignatureResult is the payload of a signatureNotification.
type SignatureResult struct {
	Slot uint64
	Err  json.RawMessage // null on success
}

// Failed reports whether the transaction landed with an error.
func (r *SignatureResult) Failed() bool {
	return len(r.Err) > 0 && string(r.Err) != "null"
}
