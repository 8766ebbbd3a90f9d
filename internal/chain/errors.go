package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"presale-settler/internal/solanarpc"
)

// ErrorKind classifies chain failures for retry decisions.
type ErrorKind int

// Error kinds.
const (
	KindUnknown ErrorKind = iota
	KindAccountNotFound
	KindStaleBlockhash
	KindNodeLag
	KindConfirmTimeout
	KindProgramMismatch
	KindInsufficientFunds
	KindSignatureRejected
	KindMalformed
	KindTransactionFailed
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "unknown",
	KindAccountNotFound:   "account_not_found",
	KindStaleBlockhash:    "stale_blockhash",
	KindNodeLag:           "node_lag",
	KindConfirmTimeout:    "confirm_timeout",
	KindProgramMismatch:   "program_mismatch",
	KindInsufficientFunds: "insufficient_funds",
	KindSignatureRejected: "signature_rejected",
	KindMalformed:         "malformed",
	KindTransactionFailed: "transaction_failed",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the failure is transient.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAccountNotFound, KindStaleBlockhash, KindNodeLag, KindConfirmTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified chain failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// JSON-RPC error codes returned by Solana nodes.
const (
	codeSendTransactionPreflightFailure = -32002
	codeSignatureVerificationFailure    = -32003
	codeBlockNotAvailable               = -32004
	codeNodeUnhealthy                   = -32005
	codeMinContextSlotNotReached        = -32016
	codeInvalidParams                   = -32602
)

// classifyRPC converts a raw RPC client error into a *Error.
// Context cancellation passes through unclassified.
func classifyRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, solanarpc.ErrUnavailable) {
		return NewError(KindNodeLag, op, err)
	}

	var rpcErr *solanarpc.RPCError
	if !errors.As(err, &rpcErr) {
		return NewError(KindUnknown, op, err)
	}

	switch rpcErr.Code {
	case codeSendTransactionPreflightFailure:
		var data struct {
			Err json.RawMessage `json:"err"`
		}
		if len(rpcErr.Data) > 0 && json.Unmarshal(rpcErr.Data, &data) == nil {
			if kind := ClassifyTransactionError(data.Err); kind != KindUnknown {
				return NewError(kind, op, err)
			}
		}
		return NewError(KindTransactionFailed, op, err)
	case codeSignatureVerificationFailure:
		return NewError(KindSignatureRejected, op, err)
	case codeBlockNotAvailable, codeNodeUnhealthy, codeMinContextSlotNotReached:
		return NewError(KindNodeLag, op, err)
	case codeInvalidParams:
		return NewError(KindMalformed, op, err)
	default:
		return NewError(KindUnknown, op, err)
	}
}

// Token program custom error codes that mean the account was touched
// through the wrong program or with the wrong mint.
const (
	tokenErrInsufficientFunds = 1
	tokenErrMintMismatch      = 3
)

// ClassifyTransactionError maps a TransactionError JSON value to a kind.
// It returns KindUnknown for null or unrecognised errors.
func ClassifyTransactionError(raw json.RawMessage) ErrorKind {
	if len(raw) == 0 || string(raw) == "null" {
		return KindUnknown
	}

	var name string
	if json.Unmarshal(raw, &name) == nil {
		switch name {
		case "BlockhashNotFound":
			return KindStaleBlockhash
		case "AccountNotFound", "ProgramAccountNotFound":
			return KindAccountNotFound
		case "InsufficientFundsForFee":
			return KindInsufficientFunds
		case "SignatureFailure", "MissingSignatureForFee":
			return KindSignatureRejected
		case "SanitizeFailure", "InvalidAccountIndex", "InvalidProgramForExecution", "AccountLoadedTwice":
			return KindMalformed
		}
		return KindTransactionFailed
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return KindUnknown
	}
	if _, ok := obj["InsufficientFundsForRent"]; ok {
		return KindInsufficientFunds
	}
	ixRaw, ok := obj["InstructionError"]
	if !ok {
		return KindTransactionFailed
	}

	var pair []json.RawMessage
	if json.Unmarshal(ixRaw, &pair) != nil || len(pair) != 2 {
		return KindTransactionFailed
	}
	return classifyInstructionError(pair[1])
}

func classifyInstructionError(raw json.RawMessage) ErrorKind {
	var name string
	if json.Unmarshal(raw, &name) == nil {
		switch name {
		case "IncorrectProgramId", "InvalidAccountOwner", "IllegalOwner":
			return KindProgramMismatch
		case "InsufficientFunds":
			return KindInsufficientFunds
		case "MissingRequiredSignature":
			return KindSignatureRejected
		case "NotEnoughAccountKeys", "InvalidInstructionData", "InvalidArgument":
			return KindMalformed
		}
		return KindTransactionFailed
	}

	var custom struct {
		Custom *uint32 `json:"Custom"`
	}
	if json.Unmarshal(raw, &custom) == nil && custom.Custom != nil {
		switch *custom.Custom {
		case tokenErrInsufficientFunds:
			return KindInsufficientFunds
		case tokenErrMintMismatch:
			return KindProgramMismatch
		}
	}
	return KindTransactionFailed
}
