package app

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"presale-settler/internal/chain"
	"presale-settler/internal/chain/chaintest"
	"presale-settler/internal/config"
	"presale-settler/internal/domain"
	"presale-settler/internal/settlement"
	"presale-settler/internal/storage/memory"
	"presale-settler/internal/tokenaccount"
)

func testConfig(mint, treasury, stable solana.PublicKey) *config.Config {
	return &config.Config{
		Solana: config.SolanaConfig{
			RewardMint:     mint.String(),
			RewardDecimals: 6,
			Treasury:       treasury.String(),
			StableMint:     stable.String(),
			DustLamports:   10_000,
		},
		Matcher:     config.MatcherConfig{LookupWindow: time.Millisecond, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Executor:    config.ExecutorConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Provisioner: config.ProvisionerConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, VisibilityPolls: 2, VisibilityInterval: time.Millisecond},
		Backlog:     config.BacklogConfig{BatchSize: 5, MaxAttempts: 3},
		Presale: config.PresaleConfig{Stages: []config.StageConfig{
			{Name: "seed", CapUSD: "100000", RatePerUSD: "100", BonusBps: 2000},
			{Name: "public", CapUSD: "1000000", RatePerUSD: "50"},
		}},
	}
}

func TestWiredEndToEnd(t *testing.T) {
	payer := chaintest.Key("custodian")
	mint := chaintest.Key("reward-mint")
	treasury := chaintest.Key("treasury")
	buyer := chaintest.Key("buyer")
	stable := chaintest.Key("usdc")

	ledger := chaintest.NewLedger(payer)
	ledger.AddMint(mint, chain.ProgramToken, 6)
	ledger.AddWallet(buyer)
	senderATA, err := tokenaccount.Derive(payer, mint, chain.ProgramToken)
	require.NoError(t, err)
	ledger.AddTokenAccount(senderATA, mint, payer, chain.ProgramToken, 1_000_000_000_000)

	stores := Stores{
		Purchases:    memory.NewPurchaseStore(),
		PendingSends: memory.NewPendingSendStore(),
		Diagnostics:  memory.NewDiagnosticStore(),
	}
	a, err := NewWithChain(testConfig(mint, treasury, stable), ledger, stores, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	res := a.Pipeline.Process(ctx, domain.Notification{
		Signature: "payment-1",
		Type:      domain.NotificationTypeTransfer,
		FeePayer:  buyer.String(),
		TokenTransfers: []domain.TransferEdge{{
			Source: buyer.String(), Destination: treasury.String(), Mint: stable.String(), Raw: 35_000_000, Decimals: 6,
		}},
	})
	require.Equal(t, settlement.OutcomeSettled, res.Outcome, res.Reason)

	buyerATA, err := tokenaccount.Derive(buyer, mint, chain.ProgramToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(4200_000_000), ledger.Balance(buyerATA))

	require.NoError(t, stores.PendingSends.Insert(ctx, &domain.PendingSendRecord{
		ID: "ps-1", WalletAddress: buyer.String(), AmountSmallest: 1_000_000,
	}))
	sum, err := a.Worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OK)
	assert.Equal(t, uint64(4201_000_000), ledger.Balance(buyerATA))
}

func TestNewWithChain_BadConfig(t *testing.T) {
	cfg := testConfig(chaintest.Key("m"), chaintest.Key("t"), chaintest.Key("s"))
	cfg.Presale.Stages = nil
	_, err := NewWithChain(cfg, chaintest.NewLedger(chaintest.Key("p")), Stores{}, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig(chaintest.Key("m"), chaintest.Key("t"), chaintest.Key("s"))
	cfg.Solana.RewardMint = "nope"
	_, err = NewWithChain(cfg, chaintest.NewLedger(chaintest.Key("p")), Stores{}, zap.NewNop())
	assert.Error(t, err)
}
