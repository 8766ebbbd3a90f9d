package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"presale-settler/internal/solanarpc"
)

func TestClassifyTransactionError(t *testing.T) {
	tests := []struct {
		raw  string
		want ErrorKind
	}{
		{`null`, KindUnknown},
		{`"BlockhashNotFound"`, KindStaleBlockhash},
		{`"AccountNotFound"`, KindAccountNotFound},
		{`"InsufficientFundsForFee"`, KindInsufficientFunds},
		{`{"InsufficientFundsForRent":{"account_index":0}}`, KindInsufficientFunds},
		{`{"InstructionError":[0,"IncorrectProgramId"]}`, KindProgramMismatch},
		{`{"InstructionError":[1,"InvalidAccountOwner"]}`, KindProgramMismatch},
		{`{"InstructionError":[0,"IllegalOwner"]}`, KindProgramMismatch},
		{`{"InstructionError":[2,{"Custom":3}]}`, KindProgramMismatch},
		{`{"InstructionError":[2,{"Custom":1}]}`, KindInsufficientFunds},
		{`{"InstructionError":[0,{"Custom":17}]}`, KindTransactionFailed},
		{`{"InstructionError":[0,"InvalidInstructionData"]}`, KindMalformed},
		{`"AlreadyProcessed"`, KindTransactionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTransactionError(json.RawMessage(tt.raw)))
		})
	}
}

func TestClassifyRPC(t *testing.T) {
	preflight := func(data string) error {
		return &solanarpc.RPCError{Code: -32002, Message: "Transaction simulation failed", Data: json.RawMessage(data)}
	}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"stale blockhash preflight", preflight(`{"err":"BlockhashNotFound"}`), KindStaleBlockhash},
		{"program mismatch preflight", preflight(`{"err":{"InstructionError":[0,"IncorrectProgramId"]}}`), KindProgramMismatch},
		{"unclassified preflight", preflight(`{"err":null}`), KindTransactionFailed},
		{"signature verification", &solanarpc.RPCError{Code: -32003}, KindSignatureRejected},
		{"node behind", &solanarpc.RPCError{Code: -32005}, KindNodeLag},
		{"min context slot", &solanarpc.RPCError{Code: -32016}, KindNodeLag},
		{"invalid params", &solanarpc.RPCError{Code: -32602}, KindMalformed},
		{"transport exhausted", fmt.Errorf("getBlockHeight: %w: boom", solanarpc.ErrUnavailable), KindNodeLag},
		{"unknown", errors.New("weird"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(classifyRPC("op", tt.err)))
		})
	}
}

func TestClassifyRPC_ContextPassesThrough(t *testing.T) {
	err := classifyRPC("op", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindUnknown, KindOf(err))
}

func TestRetryableKinds(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindAccountNotFound: true,
		KindStaleBlockhash:  true,
		KindNodeLag:         true,
		KindConfirmTimeout:  true,
	}
	for kind := range kindNames {
		assert.Equal(t, retryable[kind], kind.Retryable(), kind.String())
	}
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("outer: %w", NewError(KindNodeLag, "submit", inner))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "node_lag")
}
