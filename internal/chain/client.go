package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Account is a decoded on-chain account.
type Account struct {
	Address    solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Executable bool
	Data       []byte
}

// SystemOwned reports whether the account is a plain wallet.
func (a *Account) SystemOwned() bool {
	return a.Owner.Equals(SystemProgramID) && !a.Executable
}

// Submission identifies a sent transaction and the last block height at
// which its blockhash is still valid.
type Submission struct {
	Signature            solana.Signature
	LastValidBlockHeight uint64
}

// IsZero reports whether nothing was signed.
func (s Submission) IsZero() bool {
	return s.Signature.IsZero()
}

// Status is the observed state of a signature.
type Status struct {
	Seen   bool  // known to the node at any commitment
	Landed bool  // reached the client commitment
	Err    error // non-nil when the transaction landed with an error
}

// Client is the narrow chain surface used by settlement. Implementations
// classify every failure as *Error.
type Client interface {
	// Payer is the custodial address that pays fees and signs transfers.
	Payer() solana.PublicKey

	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error)

	// GetTokenBalance returns the raw balance of a token account, 0 if absent.
	GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)

	// Submit signs and sends instructions against a fresh blockhash.
	// The returned Submission is populated whenever signing succeeded,
	// even if sending failed, so the caller can track an ambiguous send.
	Submit(ctx context.Context, instructions []solana.Instruction) (Submission, error)

	// Confirm waits until the submission reaches the client commitment.
	// Expiry of the blockhash yields KindStaleBlockhash, the deadline KindConfirmTimeout.
	Confirm(ctx context.Context, sub Submission) error

	// SignatureStatus looks up one signature.
	SignatureStatus(ctx context.Context, sig solana.Signature) (Status, error)

	// BlockHeight returns the current block height.
	BlockHeight(ctx context.Context) (uint64, error)
}
