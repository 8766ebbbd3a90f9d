package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMint     = "So11111111111111111111111111111111111111112"
	testTreasury = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func setRequiredEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv("SOLANA_RPC_URL", "http://localhost:8899")
	t.Setenv("SOLANA_REWARD_MINT", testMint)
	t.Setenv("SOLANA_TREASURY", testTreasury)
	t.Setenv("SOLANA_SIGNING_KEY", key)
	t.Setenv("AUTH_WEBHOOK_SECRET", "hook")
	t.Setenv("AUTH_WORKER_SECRET", "worker")
	t.Setenv("DATABASE_USE_MEMORY", "true")
	t.Setenv("PRESALE_STAGES_JSON", `[{"name":"seed","cap_usd":"100000","rate_per_usd":"100","bonus_bps":2000}]`)
}

func TestLoad_FromEnv(t *testing.T) {
	wallet := solana.NewWallet()
	setRequiredEnv(t, wallet.PrivateKey.String())
	t.Setenv("MATCHER_LOOKUP_WINDOW", "3s")
	t.Setenv("SOLANA_REWARD_DECIMALS", "6")

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8899", cfg.Solana.RPCURL)
	assert.Equal(t, 3*time.Second, cfg.Matcher.LookupWindow)
	assert.Equal(t, uint8(6), cfg.Solana.RewardDecimals)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 20*time.Minute, cfg.Executor.ClaimLease)
	assert.Equal(t, []byte(wallet.PrivateKey), []byte(cfg.Solana.SigningKey))
	assert.Empty(t, cfg.Solana.SigningKeyRaw)

	stages, err := cfg.Presale.DomainStages()
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "seed", stages[0].Name)
	assert.Equal(t, int64(2000), stages[0].BonusBps)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9999"
backlog:
  schedule: "@every 1m"
presale:
  stages:
    - name: seed
      cap_usd: 250000
      rate_per_usd: 100
      bonus_bps: 2500
    - name: public
      cap_usd: 1000000
      rate_per_usd: 80
  tiers:
    - min_usd: 100
      bonus_bps: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	setRequiredEnv(t, solana.NewWallet().PrivateKey.String())
	t.Setenv("PRESALE_STAGES_JSON", "")

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "@every 1m", cfg.Backlog.Schedule)

	stages, err := cfg.Presale.DomainStages()
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "80", stages[1].RatePerUSD.String())

	tiers, err := cfg.Presale.DomainTiers()
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, int64(500), tiers[0].BonusBps)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t, solana.NewWallet().PrivateKey.String())
	t.Setenv("AUTH_WEBHOOK_SECRET", "")
	t.Setenv("DATABASE_USE_MEMORY", "false")

	_, err := load(viper.New(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.webhook_secret is required")
	assert.Contains(t, err.Error(), "database.dsn is required")
}

func TestLoad_BadSigningKeyRejected(t *testing.T) {
	setRequiredEnv(t, "not-a-key")
	_, err := load(viper.New(), t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidSigningKey)
}

func TestLoad_BadAddress(t *testing.T) {
	setRequiredEnv(t, solana.NewWallet().PrivateKey.String())
	t.Setenv("SOLANA_TREASURY", "0OIl")
	_, err := load(viper.New(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solana.treasury is not a valid address")
}

func TestParseSigningKey(t *testing.T) {
	wallet := solana.NewWallet()
	want := []byte(wallet.PrivateKey)

	ints := make([]int, len(want))
	for i, b := range want {
		ints[i] = int(b)
	}
	asJSON, err := json.Marshal(ints)
	require.NoError(t, err)

	fromJSON, err := ParseSigningKey(string(asJSON))
	require.NoError(t, err)
	assert.Equal(t, want, []byte(fromJSON))

	fromB58, err := ParseSigningKey("  " + wallet.PrivateKey.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, want, []byte(fromB58))

	bad := []string{
		"",
		"[1,2,3]",
		"[" + strings.Repeat("256,", 63) + "256]",
		"[not json",
		solana.NewWallet().PublicKey().String(), // 32 bytes
		"0OIl",
	}
	for _, raw := range bad {
		_, err := ParseSigningKey(raw)
		assert.ErrorIs(t, err, ErrInvalidSigningKey, raw)
	}
}

func TestSecretKeyRedacted(t *testing.T) {
	wallet := solana.NewWallet()
	key, err := ParseSigningKey(wallet.PrivateKey.String())
	require.NoError(t, err)

	secret := wallet.PrivateKey.String()
	for _, s := range []string{
		fmt.Sprintf("%v", key),
		fmt.Sprintf("%s", key),
		fmt.Sprintf("%#v", key),
		fmt.Sprintf("%+v", SolanaConfig{SigningKey: key}),
	} {
		assert.NotContains(t, s, secret)
		assert.Contains(t, s, "redacted")
	}

	out, err := json.Marshal(SolanaConfig{SigningKey: key})
	require.NoError(t, err)
	assert.NotContains(t, string(out), secret)
}

func TestDomainStages_Invalid(t *testing.T) {
	_, err := PresaleConfig{}.DomainStages()
	assert.Error(t, err)

	_, err = PresaleConfig{Stages: []StageConfig{{CapUSD: "abc", RatePerUSD: "1"}}}.DomainStages()
	assert.Error(t, err)

	_, err = PresaleConfig{Stages: []StageConfig{{CapUSD: "100", RatePerUSD: "0"}}}.DomainStages()
	assert.Error(t, err)

	stages, err := PresaleConfig{Stages: []StageConfig{{CapUSD: "100", RatePerUSD: "2"}}}.DomainStages()
	require.NoError(t, err)
	assert.Equal(t, "stage-1", stages[0].Name)
}
