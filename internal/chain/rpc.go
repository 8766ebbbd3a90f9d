package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"presale-settler/internal/observability"
	"presale-settler/internal/solanarpc"
)

// Default confirmation settings.
const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// Token account layout: mint(32) owner(32) amount(8).
const tokenAmountOffset = 64

// RPCConfig configures RPC.
type RPCConfig struct {
	Commitment     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// Watcher, when set, races push confirmation against polling.
	Watcher solanarpc.SignatureWatcher
	Logger  *zap.Logger
}

// RPC implements Client over a JSON-RPC node.
type RPC struct {
	rpc            solanarpc.Client
	watcher        solanarpc.SignatureWatcher
	signer         *Signer
	commitment     string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

// Compile-time interface check.
var _ Client = (*RPC)(nil)

// NewRPC creates a chain client that signs with signer.
func NewRPC(client solanarpc.Client, signer *Signer, cfg RPCConfig) *RPC {
	r := &RPC{
		rpc:            client,
		watcher:        cfg.Watcher,
		signer:         signer,
		commitment:     cfg.Commitment,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         cfg.Logger,
	}
	if r.commitment == "" {
		r.commitment = solanarpc.CommitmentConfirmed
	}
	if r.confirmTimeout <= 0 {
		r.confirmTimeout = DefaultConfirmTimeout
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("chain").With(zap.Stringer("payer", signer))
	return r
}

// Payer returns the custodial address.
func (r *RPC) Payer() solana.PublicKey {
	return r.signer.PublicKey()
}

func observe(method string, start time.Time, err error) {
	observability.RecordRPCLatency(method, time.Since(start), err)
}

// GetAccount fetches and decodes an account.
func (r *RPC) GetAccount(ctx context.Context, address solana.PublicKey) (acct *Account, err error) {
	defer func(start time.Time) { observe("getAccountInfo", start, err) }(time.Now())

	info, err := r.rpc.GetAccountInfo(ctx, address.String())
	if err != nil {
		return nil, classifyRPC("get account", err)
	}
	if info == nil {
		return nil, nil
	}

	owner, err := solana.PublicKeyFromBase58(info.Owner)
	if err != nil {
		return nil, NewError(KindMalformed, "get account", fmt.Errorf("owner %q: %w", info.Owner, err))
	}
	data, err := info.DecodeData()
	if err != nil {
		return nil, NewError(KindMalformed, "get account", err)
	}

	return &Account{
		Address:    address,
		Owner:      owner,
		Lamports:   info.Lamports,
		Executable: info.Executable,
		Data:       data,
	}, nil
}

// GetTokenBalance decodes the amount field of a token account.
func (r *RPC) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	acct, err := r.GetAccount(ctx, tokenAccount)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, nil
	}
	return TokenAmount(acct)
}

// TokenAmount reads the raw amount of a token account under either program.
func TokenAmount(acct *Account) (uint64, error) {
	if _, ok := ProgramFromOwner(acct.Owner); !ok {
		return 0, NewError(KindProgramMismatch, "token balance",
			fmt.Errorf("account %s owned by %s", acct.Address, acct.Owner))
	}
	if len(acct.Data) < tokenAmountOffset+8 {
		return 0, NewError(KindMalformed, "token balance",
			fmt.Errorf("account %s data too short (%d bytes)", acct.Address, len(acct.Data)))
	}
	return binary.LittleEndian.Uint64(acct.Data[tokenAmountOffset : tokenAmountOffset+8]), nil
}

// BlockHeight returns the current block height.
func (r *RPC) BlockHeight(ctx context.Context) (h uint64, err error) {
	defer func(start time.Time) { observe("getBlockHeight", start, err) }(time.Now())

	h, err = r.rpc.GetBlockHeight(ctx)
	if err != nil {
		return 0, classifyRPC("block height", err)
	}
	return h, nil
}

// SignatureStatus looks up one signature.
func (r *RPC) SignatureStatus(ctx context.Context, sig solana.Signature) (st Status, err error) {
	defer func(start time.Time) { observe("getSignatureStatuses", start, err) }(time.Now())

	statuses, err := r.rpc.GetSignatureStatuses(ctx, []string{sig.String()})
	if err != nil {
		return Status{}, classifyRPC("signature status", err)
	}
	s := statuses[0]
	if s == nil {
		return Status{}, nil
	}

	st = Status{Seen: true, Landed: s.Reached(r.commitment)}
	if s.Failed() {
		st.Landed = true
		st.Err = landedFailure(sig, s.Err)
	}
	return st, nil
}

func landedFailure(sig solana.Signature, raw []byte) error {
	kind := ClassifyTransactionError(raw)
	if kind == KindUnknown {
		kind = KindTransactionFailed
	}
	return NewError(kind, "transaction", fmt.Errorf("%s failed on-chain: %s", sig, raw))
}

// Submit signs instructions with the custodial key and sends them.
func (r *RPC) Submit(ctx context.Context, instructions []solana.Instruction) (sub Submission, err error) {
	bh, err := r.latestBlockhash(ctx)
	if err != nil {
		return Submission{}, err
	}
	hash, err := solana.HashFromBase58(bh.Blockhash)
	if err != nil {
		return Submission{}, NewError(KindMalformed, "submit", fmt.Errorf("blockhash: %w", err))
	}

	tx, err := solana.NewTransaction(instructions, hash, solana.TransactionPayer(r.signer.PublicKey()))
	if err != nil {
		return Submission{}, NewError(KindMalformed, "submit", fmt.Errorf("build transaction: %w", err))
	}
	if err := r.signer.sign(tx); err != nil {
		return Submission{}, NewError(KindSignatureRejected, "submit", fmt.Errorf("sign transaction: %w", err))
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Submission{}, NewError(KindMalformed, "submit", fmt.Errorf("encode transaction: %w", err))
	}

	sub = Submission{Signature: tx.Signatures[0], LastValidBlockHeight: bh.LastValidBlockHeight}

	defer func(start time.Time) { observe("sendTransaction", start, err) }(time.Now())
	if _, err := r.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw)); err != nil {
		return sub, classifyRPC("submit", err)
	}

	r.logger.Debug("transaction submitted",
		zap.Stringer("signature", sub.Signature),
		zap.Uint64("last_valid_block_height", sub.LastValidBlockHeight),
		zap.Int("instructions", len(instructions)),
	)
	return sub, nil
}

func (r *RPC) latestBlockhash(ctx context.Context) (bh *solanarpc.Blockhash, err error) {
	defer func(start time.Time) { observe("getLatestBlockhash", start, err) }(time.Now())

	bh, err = r.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, classifyRPC("latest blockhash", err)
	}
	return bh, nil
}

type watchResult struct {
	res *solanarpc.SignatureResult
	err error
}

// Confirm waits for the submission to land, polling status and block height
// and, when a watcher is configured, racing a push subscription.
func (r *RPC) Confirm(ctx context.Context, sub Submission) error {
	cctx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	var pushed <-chan watchResult
	if r.watcher != nil {
		ch := make(chan watchResult, 1)
		go func() {
			res, err := r.watcher.WaitSignature(cctx, sub.Signature.String())
			ch <- watchResult{res: res, err: err}
		}()
		pushed = ch
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case w := <-pushed:
			pushed = nil
			if w.err == nil {
				if w.res.Failed() {
					return landedFailure(sub.Signature, w.res.Err)
				}
				return nil
			}
			if cctx.Err() == nil {
				r.logger.Debug("push confirmation unavailable, polling",
					zap.Stringer("signature", sub.Signature), zap.Error(w.err))
			}
		case <-ticker.C:
			if done, err := r.pollOnce(cctx, sub); done {
				return err
			}
		case <-cctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return NewError(KindConfirmTimeout, "confirm",
				fmt.Errorf("%s not confirmed within %s", sub.Signature, r.confirmTimeout))
		}
	}
}

// pollOnce reports done=true when the outcome is final.
func (r *RPC) pollOnce(ctx context.Context, sub Submission) (bool, error) {
	st, err := r.SignatureStatus(ctx, sub.Signature)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			r.logger.Debug("status poll failed", zap.Stringer("signature", sub.Signature), zap.Error(err))
		}
		return false, nil
	}
	if st.Landed {
		return true, st.Err
	}
	if st.Seen {
		return false, nil
	}

	height, err := r.BlockHeight(ctx)
	if err != nil || height <= sub.LastValidBlockHeight {
		return false, nil
	}

	// Recheck once: the transaction may have landed between the two reads.
	st, err = r.SignatureStatus(ctx, sub.Signature)
	if err == nil && st.Seen {
		if st.Landed {
			return true, st.Err
		}
		return false, nil
	}
	return true, NewError(KindStaleBlockhash, "confirm",
		fmt.Errorf("%s expired at block height %d (now %d)", sub.Signature, sub.LastValidBlockHeight, height))
}
