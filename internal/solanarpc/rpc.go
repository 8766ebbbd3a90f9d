package solanarpc

import "context"

// Client is the subset of the Solana JSON-RPC HTTP interface used for settlement.
type Client interface {
	// GetAccountInfo returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetLatestBlockhash returns a recent blockhash and its expiry height.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendTransaction submits a base64-encoded signed transaction with preflight enabled.
	SendTransaction(ctx context.Context, encoded string) (string, error)

	// GetSignatureStatuses returns one entry per signature, nil when unknown.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetBlockHeight returns the current block height at the client commitment.
	GetBlockHeight(ctx context.Context) (uint64, error)
}
