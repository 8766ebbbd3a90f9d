package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/solanarpc"
)

// fakeNode is a scripted solanarpc.Client.
type fakeNode struct {
	mu         sync.Mutex
	accounts   map[string]*solanarpc.AccountInfo
	blockhash  solanarpc.Blockhash
	height     uint64
	heightStep uint64
	statuses   map[string]*solanarpc.SignatureStatus
	sendErr    error
	sent       []string
	landOnSend *solanarpc.SignatureStatus
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		accounts:  make(map[string]*solanarpc.AccountInfo),
		blockhash: solanarpc.Blockhash{Blockhash: solana.Hash{7}.String(), LastValidBlockHeight: 150},
		height:    100,
		statuses:  make(map[string]*solanarpc.SignatureStatus),
	}
}

func (f *fakeNode) GetAccountInfo(_ context.Context, pubkey string) (*solanarpc.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[pubkey], nil
}

func (f *fakeNode) GetLatestBlockhash(context.Context) (*solanarpc.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bh := f.blockhash
	return &bh, nil
}

func (f *fakeNode) SendTransaction(_ context.Context, encoded string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, encoded)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return "", err
	}
	if f.landOnSend != nil {
		f.statuses[tx.Signatures[0].String()] = f.landOnSend
	}
	return tx.Signatures[0].String(), nil
}

func (f *fakeNode) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solanarpc.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*solanarpc.SignatureStatus, len(signatures))
	for i, s := range signatures {
		out[i] = f.statuses[s]
	}
	return out, nil
}

func (f *fakeNode) GetBlockHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height += f.heightStep
	return f.height, nil
}

func newTestRPC(t *testing.T, node *fakeNode) (*RPC, solana.PrivateKey) {
	t.Helper()
	wallet := solana.NewWallet()
	signer, err := NewSigner(wallet.PrivateKey)
	require.NoError(t, err)
	return NewRPC(node, signer, RPCConfig{
		ConfirmTimeout: 500 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}), wallet.PrivateKey
}

func transferIx(payer solana.PublicKey) []solana.Instruction {
	return []solana.Instruction{
		TransferChecked(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
			solana.NewWallet().PublicKey(), payer, 10, 6, ProgramToken),
	}
}

func TestRPC_SubmitSignsWithPayer(t *testing.T) {
	node := newFakeNode()
	r, _ := newTestRPC(t, node)

	sub, err := r.Submit(context.Background(), transferIx(r.Payer()))
	require.NoError(t, err)
	assert.Equal(t, uint64(150), sub.LastValidBlockHeight)
	require.Len(t, node.sent, 1)

	tx, err := solana.TransactionFromBase64(node.sent[0])
	require.NoError(t, err)
	require.NoError(t, tx.VerifySignatures())
	assert.Equal(t, sub.Signature, tx.Signatures[0])
	assert.Equal(t, r.Payer(), tx.Message.AccountKeys[0])
}

func TestRPC_SubmitErrorKeepsSignature(t *testing.T) {
	node := newFakeNode()
	node.sendErr = &solanarpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data:    json.RawMessage(`{"err":{"InstructionError":[0,"IncorrectProgramId"]}}`),
	}
	r, _ := newTestRPC(t, node)

	sub, err := r.Submit(context.Background(), transferIx(r.Payer()))
	require.Error(t, err)
	assert.Equal(t, KindProgramMismatch, KindOf(err))
	assert.False(t, sub.IsZero())
}

func TestRPC_ConfirmLanded(t *testing.T) {
	node := newFakeNode()
	node.landOnSend = &solanarpc.SignatureStatus{Slot: 9, ConfirmationStatus: "confirmed", Err: json.RawMessage("null")}
	r, _ := newTestRPC(t, node)

	sub, err := r.Submit(context.Background(), transferIx(r.Payer()))
	require.NoError(t, err)
	assert.NoError(t, r.Confirm(context.Background(), sub))
}

func TestRPC_ConfirmLandedWithError(t *testing.T) {
	node := newFakeNode()
	node.landOnSend = &solanarpc.SignatureStatus{
		Slot:               9,
		ConfirmationStatus: "processed",
		Err:                json.RawMessage(`{"InstructionError":[0,{"Custom":1}]}`),
	}
	r, _ := newTestRPC(t, node)

	sub, err := r.Submit(context.Background(), transferIx(r.Payer()))
	require.NoError(t, err)
	err = r.Confirm(context.Background(), sub)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
}

func TestRPC_ConfirmExpiredBlockhash(t *testing.T) {
	node := newFakeNode()
	node.heightStep = 30
	r, _ := newTestRPC(t, node)

	sub, err := r.Submit(context.Background(), transferIx(r.Payer()))
	require.NoError(t, err)

	err = r.Confirm(context.Background(), sub)
	assert.Equal(t, KindStaleBlockhash, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestRPC_ConfirmTimeout(t *testing.T) {
	node := newFakeNode()
	r, _ := newTestRPC(t, node)

	sub, err := r.Submit(context.Background(), transferIx(r.Payer()))
	require.NoError(t, err)

	err = r.Confirm(context.Background(), sub)
	assert.Equal(t, KindConfirmTimeout, KindOf(err))
}

func TestRPC_ConfirmParentCancelled(t *testing.T) {
	node := newFakeNode()
	r, _ := newTestRPC(t, node)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Confirm(ctx, Submission{Signature: solana.Signature{1}, LastValidBlockHeight: 150})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRPC_GetTokenBalance(t *testing.T) {
	node := newFakeNode()
	r, _ := newTestRPC(t, node)

	addr := solana.NewWallet().PublicKey()
	data := make([]byte, 165)
	binary.LittleEndian.PutUint64(data[64:72], 4200)
	node.accounts[addr.String()] = &solanarpc.AccountInfo{
		Owner: Token2022ProgramID.String(),
		Data:  base64.StdEncoding.EncodeToString(data),
	}

	bal, err := r.GetTokenBalance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(4200), bal)

	missing, err := r.GetTokenBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestRPC_GetAccountSystemOwned(t *testing.T) {
	node := newFakeNode()
	r, _ := newTestRPC(t, node)

	addr := solana.NewWallet().PublicKey()
	node.accounts[addr.String()] = &solanarpc.AccountInfo{Owner: SystemProgramID.String(), Lamports: 5}

	acct, err := r.GetAccount(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.True(t, acct.SystemOwned())
}
