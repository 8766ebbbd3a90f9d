// Package chaintest provides an in-memory ledger implementing chain.Client.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"presale-settler/internal/chain"
)

// Op names a Ledger operation for failure injection and call counting.
type Op string

// Ledger operations.
const (
	OpGetAccount  Op = "get_account"
	OpBalance     Op = "balance"
	OpSubmit      Op = "submit"
	OpConfirm     Op = "confirm"
	OpStatus      Op = "status"
	OpBlockHeight Op = "block_height"
)

// Account data sizes.
const (
	mintDataLen         = 82
	mintDecimalsOffset  = 44
	tokenAccountDataLen = 165
)

const blockhashLifetime = 150

// Submitted is one transaction accepted by Submit.
type Submitted struct {
	Submission   chain.Submission
	Instructions []solana.Instruction
	Applied      bool
}

// Ledger is a fake chain. Submit executes create-idempotent and
// transfer-checked instructions atomically against the account map.
type Ledger struct {
	mu       sync.Mutex
	payer    solana.PublicKey
	accounts map[solana.PublicKey]*chain.Account
	hidden   map[solana.PublicKey]int // remaining invisible reads
	landed   map[solana.Signature]bool
	height   uint64
	sigSeq   uint64

	failures    map[Op][]error
	calls       map[Op]int
	submitted   []Submitted
	dropNext    int
	hideCreated int
}

// Compile-time interface check.
var _ chain.Client = (*Ledger)(nil)

// NewLedger creates a ledger whose payer is a funded system account.
func NewLedger(payer solana.PublicKey) *Ledger {
	l := &Ledger{
		payer:    payer,
		accounts: make(map[solana.PublicKey]*chain.Account),
		hidden:   make(map[solana.PublicKey]int),
		landed:   make(map[solana.Signature]bool),
		height:   1000,
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
	}
	l.AddWallet(payer)
	return l
}

// AddWallet creates a system-owned account.
func (l *Ledger) AddWallet(pk solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[pk] = &chain.Account{Address: pk, Owner: chain.SystemProgramID, Lamports: 1_000_000_000}
}

// AddAccount stores an arbitrary account, e.g. a program or PDA.
func (l *Ledger) AddAccount(acct chain.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := acct
	l.accounts[acct.Address] = &c
}

// AddMint creates a mint owned by program.
func (l *Ledger) AddMint(mint solana.PublicKey, program chain.Program, decimals uint8) {
	data := make([]byte, mintDataLen)
	data[mintDecimalsOffset] = decimals
	data[45] = 1 // is_initialized
	l.AddAccount(chain.Account{Address: mint, Owner: program.ID(), Lamports: 1_461_600, Data: data})
}

// AddTokenAccount creates a token account at address holding amount.
func (l *Ledger) AddTokenAccount(address, mint, owner solana.PublicKey, program chain.Program, amount uint64) {
	l.AddAccount(chain.Account{
		Address:  address,
		Owner:    program.ID(),
		Lamports: 2_039_280,
		Data:     tokenAccountData(mint, owner, amount),
	})
}

func tokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, tokenAccountDataLen)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	return data
}

// Fail queues err to be returned by the next call of op.
func (l *Ledger) Fail(op Op, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = append(l.failures[op], errs...)
}

// DropNext makes the next n submissions vanish: accepted, never applied,
// and expired once confirmation is attempted.
func (l *Ledger) DropNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropNext += n
}

// HideCreated keeps accounts created by later submissions invisible to
// the next n GetAccount reads of each.
func (l *Ledger) HideCreated(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hideCreated = n
}

// Calls returns how many times op was invoked.
func (l *Ledger) Calls(op Op) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// Submissions returns every transaction passed to Submit.
func (l *Ledger) Submissions() []Submitted {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submitted, len(l.submitted))
	copy(out, l.submitted)
	return out
}

// Account returns a copy of the stored account regardless of visibility.
func (l *Ledger) Account(pk solana.PublicKey) *chain.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[pk]
	if !ok {
		return nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// Balance returns the raw token amount at address, 0 if absent.
func (l *Ledger) Balance(pk solana.PublicKey) uint64 {
	a := l.Account(pk)
	if a == nil || len(a.Data) < 72 {
		return 0
	}
	return binary.LittleEndian.Uint64(a.Data[64:72])
}

// AdvanceBlockHeight moves the chain forward.
func (l *Ledger) AdvanceBlockHeight(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height += n
}

// takeFailure must be called with l.mu held.
func (l *Ledger) takeFailure(op Op) error {
	l.calls[op]++
	q := l.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	l.failures[op] = q[1:]
	return err
}

// Payer implements chain.Client.
func (l *Ledger) Payer() solana.PublicKey {
	return l.payer
}

// GetAccount implements chain.Client.
func (l *Ledger) GetAccount(ctx context.Context, address solana.PublicKey) (*chain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpGetAccount); err != nil {
		return nil, err
	}
	if n := l.hidden[address]; n > 0 {
		l.hidden[address] = n - 1
		return nil, nil
	}
	a, ok := l.accounts[address]
	if !ok {
		return nil, nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c, nil
}

// GetTokenBalance implements chain.Client.
func (l *Ledger) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	err := l.takeFailure(OpBalance)
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}

	acct, err := l.GetAccount(ctx, tokenAccount)
	if err != nil || acct == nil {
		return 0, err
	}
	return chain.TokenAmount(acct)
}

// BlockHeight implements chain.Client.
func (l *Ledger) BlockHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpBlockHeight); err != nil {
		return 0, err
	}
	return l.height, nil
}

// SignatureStatus implements chain.Client.
func (l *Ledger) SignatureStatus(ctx context.Context, sig solana.Signature) (chain.Status, error) {
	if err := ctx.Err(); err != nil {
		return chain.Status{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpStatus); err != nil {
		return chain.Status{}, err
	}
	if l.landed[sig] {
		return chain.Status{Seen: true, Landed: true}, nil
	}
	return chain.Status{}, nil
}

// Submit implements chain.Client.
func (l *Ledger) Submit(ctx context.Context, instructions []solana.Instruction) (chain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return chain.Submission{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sigSeq++
	var sig solana.Signature
	binary.LittleEndian.PutUint64(sig[:8], l.sigSeq)
	sub := chain.Submission{Signature: sig, LastValidBlockHeight: l.height + blockhashLifetime}
	entry := Submitted{Submission: sub, Instructions: instructions}

	if err := l.takeFailure(OpSubmit); err != nil {
		l.submitted = append(l.submitted, entry)
		return sub, err
	}

	if l.dropNext > 0 {
		l.dropNext--
		l.submitted = append(l.submitted, entry)
		return sub, nil
	}

	if err := l.apply(instructions); err != nil {
		l.submitted = append(l.submitted, entry)
		return sub, err
	}
	entry.Applied = true
	l.landed[sig] = true
	l.submitted = append(l.submitted, entry)
	return sub, nil
}

// Confirm implements chain.Client. Injected failures are returned after the
// transaction has already landed, which models an unobserved success.
func (l *Ledger) Confirm(ctx context.Context, sub chain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpConfirm); err != nil {
		return err
	}
	if l.landed[sub.Signature] {
		return nil
	}
	if l.height <= sub.LastValidBlockHeight {
		l.height = sub.LastValidBlockHeight + 1
	}
	return chain.NewError(chain.KindStaleBlockhash, "confirm", fmt.Errorf("%s expired", sub.Signature))
}

// apply executes instructions on a scratch copy and commits on success.
// Must be called with l.mu held.
func (l *Ledger) apply(instructions []solana.Instruction) error {
	scratch := make(map[solana.PublicKey]*chain.Account, len(l.accounts))
	for k, v := range l.accounts {
		c := *v
		c.Data = append([]byte(nil), v.Data...)
		scratch[k] = &c
	}
	var created []solana.PublicKey

	for i, ix := range instructions {
		switch {
		case chain.IsCreateIdempotentATA(ix):
			ata, err := applyCreate(scratch, ix)
			if err != nil {
				return preflight(i, err)
			}
			if ata != nil {
				created = append(created, *ata)
			}
		default:
			fields, ok := chain.DecodeTransferChecked(ix)
			if !ok {
				return preflight(i, chain.NewError(chain.KindMalformed, "simulate", fmt.Errorf("unsupported instruction")))
			}
			if err := applyTransfer(scratch, fields); err != nil {
				return preflight(i, err)
			}
		}
	}

	l.accounts = scratch
	for _, pk := range created {
		if l.hideCreated > 0 {
			l.hidden[pk] = l.hideCreated
		}
	}
	return nil
}

func preflight(index int, err error) error {
	return chain.NewError(chain.KindOf(err), "submit", fmt.Errorf("instruction %d: %w", index, err))
}

func applyCreate(accts map[solana.PublicKey]*chain.Account, ix solana.Instruction) (*solana.PublicKey, error) {
	metas := ix.Accounts()
	ata, owner, mint, programID := metas[1].PublicKey, metas[2].PublicKey, metas[3].PublicKey, metas[5].PublicKey

	mintAcct, ok := accts[mint]
	if !ok {
		return nil, chain.NewError(chain.KindAccountNotFound, "create account", fmt.Errorf("mint %s", mint))
	}
	if !mintAcct.Owner.Equals(programID) {
		return nil, chain.NewError(chain.KindProgramMismatch, "create account",
			fmt.Errorf("mint %s owned by %s, not %s", mint, mintAcct.Owner, programID))
	}

	if existing, ok := accts[ata]; ok {
		if !existing.Owner.Equals(programID) {
			return nil, chain.NewError(chain.KindProgramMismatch, "create account",
				fmt.Errorf("account %s owned by %s", ata, existing.Owner))
		}
		return nil, nil
	}

	accts[ata] = &chain.Account{
		Address:  ata,
		Owner:    programID,
		Lamports: 2_039_280,
		Data:     tokenAccountData(mint, owner, 0),
	}
	return &ata, nil
}

func applyTransfer(accts map[solana.PublicKey]*chain.Account, f chain.TransferCheckedFields) error {
	mintAcct, ok := accts[f.Mint]
	if !ok {
		return chain.NewError(chain.KindAccountNotFound, "transfer", fmt.Errorf("mint %s", f.Mint))
	}
	if !mintAcct.Owner.Equals(f.Program) {
		return chain.NewError(chain.KindProgramMismatch, "transfer", fmt.Errorf("mint owned by %s", mintAcct.Owner))
	}
	if mintAcct.Data[mintDecimalsOffset] != f.Decimals {
		return chain.NewError(chain.KindTransactionFailed, "transfer", fmt.Errorf("decimals mismatch"))
	}

	src, ok := accts[f.Source]
	if !ok {
		return chain.NewError(chain.KindAccountNotFound, "transfer", fmt.Errorf("source %s", f.Source))
	}
	dst, ok := accts[f.Destination]
	if !ok {
		return chain.NewError(chain.KindAccountNotFound, "transfer", fmt.Errorf("destination %s", f.Destination))
	}
	for _, a := range []*chain.Account{src, dst} {
		if !a.Owner.Equals(f.Program) {
			return chain.NewError(chain.KindProgramMismatch, "transfer", fmt.Errorf("account %s owned by %s", a.Address, a.Owner))
		}
		if !solana.PublicKeyFromBytes(a.Data[0:32]).Equals(f.Mint) {
			return chain.NewError(chain.KindProgramMismatch, "transfer", fmt.Errorf("account %s mint mismatch", a.Address))
		}
	}
	if !solana.PublicKeyFromBytes(src.Data[32:64]).Equals(f.Authority) {
		return chain.NewError(chain.KindTransactionFailed, "transfer", fmt.Errorf("authority does not own source"))
	}

	srcBal := binary.LittleEndian.Uint64(src.Data[64:72])
	if srcBal < f.Amount {
		return chain.NewError(chain.KindInsufficientFunds, "transfer", fmt.Errorf("balance %d < %d", srcBal, f.Amount))
	}
	binary.LittleEndian.PutUint64(src.Data[64:72], srcBal-f.Amount)
	dstBal := binary.LittleEndian.Uint64(dst.Data[64:72])
	binary.LittleEndian.PutUint64(dst.Data[64:72], dstBal+f.Amount)
	return nil
}
