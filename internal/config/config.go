// Package config loads service configuration from .env, an optional
// config.yaml and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"presale-settler/internal/domain"
)

// Config is the full service configuration.
type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Solana      SolanaConfig      `mapstructure:"solana"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Database    DatabaseConfig    `mapstructure:"database"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	PriceFeed   PriceFeedConfig   `mapstructure:"price_feed"`
	Matcher     MatcherConfig     `mapstructure:"matcher"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Provisioner ProvisionerConfig `mapstructure:"provisioner"`
	Backlog     BacklogConfig     `mapstructure:"backlog"`
	Presale     PresaleConfig     `mapstructure:"presale"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SolanaConfig holds node endpoints, mints and the custodial key.
type SolanaConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	WSURL          string        `mapstructure:"ws_url"` // optional; enables push confirmation
	Commitment     string        `mapstructure:"commitment"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RPCRateLimit   float64       `mapstructure:"rpc_rate_limit"`

	RewardMint     string `mapstructure:"reward_mint"`
	RewardDecimals uint8  `mapstructure:"reward_decimals"`
	Treasury       string `mapstructure:"treasury"`
	StableMint     string `mapstructure:"stable_mint"`
	StableDecimals uint8  `mapstructure:"stable_decimals"`
	DustLamports   uint64 `mapstructure:"dust_lamports"`

	SigningKeyRaw string    `mapstructure:"signing_key"`
	SigningKey    SecretKey `mapstructure:"-"`
}

// AuthConfig holds the shared secrets of the two HTTP entry points.
type AuthConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	WorkerSecret  string `mapstructure:"worker_secret"`
}

// DatabaseConfig selects the purchase and pending-send store.
type DatabaseConfig struct {
	DSN       string `mapstructure:"dsn"`
	MaxConns  int32  `mapstructure:"max_conns"`
	UseMemory bool   `mapstructure:"use_memory"`
	Migrate   bool   `mapstructure:"migrate"`
}

// ClickHouseConfig enables the diagnostics sink when DSN is set.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PriceFeedConfig configures the spot price client.
type PriceFeedConfig struct {
	URL               string        `mapstructure:"url"`
	Asset             string        `mapstructure:"asset"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"rps"`
}

// MatcherConfig bounds the purchase lookup.
type MatcherConfig struct {
	LookupWindow time.Duration `mapstructure:"lookup_window"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// ExecutorConfig bounds transfer retries.
type ExecutorConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
}

// ProvisionerConfig bounds token account creation.
type ProvisionerConfig struct {
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	VisibilityPolls    int           `mapstructure:"visibility_polls"`
	VisibilityInterval time.Duration `mapstructure:"visibility_interval"`
}

// BacklogConfig configures the pending-send worker.
type BacklogConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Schedule    string        `mapstructure:"schedule"` // cron spec; empty disables the in-process schedule
	PassTimeout time.Duration `mapstructure:"pass_timeout"`
	StaleAfter  time.Duration `mapstructure:"stale_after"` // raised to the executor claim lease when shorter
}

// StageConfig is one pricing stage. Amounts are decimal strings.
type StageConfig struct {
	Name       string `mapstructure:"name" json:"name"`
	CapUSD     string `mapstructure:"cap_usd" json:"cap_usd"`
	RatePerUSD string `mapstructure:"rate_per_usd" json:"rate_per_usd"`
	BonusBps   int64  `mapstructure:"bonus_bps" json:"bonus_bps"`
}

// TierConfig is one size bonus step.
type TierConfig struct {
	MinUSD   string `mapstructure:"min_usd" json:"min_usd"`
	BonusBps int64  `mapstructure:"bonus_bps" json:"bonus_bps"`
}

// PresaleConfig holds the pricing schedule. StagesJSON and TiersJSON, when
// set (typically from PRESALE_STAGES_JSON), replace the YAML lists.
type PresaleConfig struct {
	Stages     []StageConfig `mapstructure:"stages"`
	Tiers      []TierConfig  `mapstructure:"tiers"`
	StagesJSON string        `mapstructure:"stages_json"`
	TiersJSON  string        `mapstructure:"tiers_json"`
}

// DispatcherConfig sizes the webhook worker pool.
type DispatcherConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Load reads configuration from .env, config.yaml (./configs or .) and the
// environment, then validates it.
func Load() (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()
	return load(viper.New(), "./configs", ".")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Presale.StagesJSON != "" {
		cfg.Presale.Stages = nil
		if err := json.Unmarshal([]byte(cfg.Presale.StagesJSON), &cfg.Presale.Stages); err != nil {
			return nil, fmt.Errorf("parse presale.stages_json: %w", err)
		}
	}
	if cfg.Presale.TiersJSON != "" {
		cfg.Presale.Tiers = nil
		if err := json.Unmarshal([]byte(cfg.Presale.TiersJSON), &cfg.Presale.Tiers); err != nil {
			return nil, fmt.Errorf("parse presale.tiers_json: %w", err)
		}
	}

	key, err := ParseSigningKey(cfg.Solana.SigningKeyRaw)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Solana.SigningKey = key
	cfg.Solana.SigningKeyRaw = ""

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Keys without a useful default are still registered so AutomaticEnv
	// picks them up during Unmarshal.
	v.SetDefault("solana.rpc_url", "")
	v.SetDefault("solana.ws_url", "")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.confirm_timeout", 60*time.Second)
	v.SetDefault("solana.poll_interval", 2*time.Second)
	v.SetDefault("solana.rpc_rate_limit", 10.0)
	v.SetDefault("solana.reward_mint", "")
	v.SetDefault("solana.reward_decimals", 9)
	v.SetDefault("solana.treasury", "")
	v.SetDefault("solana.stable_mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	v.SetDefault("solana.stable_decimals", 6)
	v.SetDefault("solana.dust_lamports", 1_000_000)
	v.SetDefault("solana.signing_key", "")

	v.SetDefault("auth.webhook_secret", "")
	v.SetDefault("auth.worker_secret", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.use_memory", false)
	v.SetDefault("database.migrate", true)

	v.SetDefault("clickhouse.dsn", "")

	v.SetDefault("price_feed.url", "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd")
	v.SetDefault("price_feed.asset", "solana")
	v.SetDefault("price_feed.timeout", 5*time.Second)
	v.SetDefault("price_feed.rps", 2.0)

	v.SetDefault("matcher.lookup_window", 20*time.Second)
	v.SetDefault("matcher.initial_delay", 500*time.Millisecond)
	v.SetDefault("matcher.max_delay", 4*time.Second)

	v.SetDefault("executor.max_attempts", 5)
	v.SetDefault("executor.base_delay", 500*time.Millisecond)
	v.SetDefault("executor.max_delay", 5*time.Second)
	v.SetDefault("executor.claim_lease", 20*time.Minute)

	v.SetDefault("provisioner.max_attempts", 4)
	v.SetDefault("provisioner.base_delay", 400*time.Millisecond)
	v.SetDefault("provisioner.max_delay", 3*time.Second)
	v.SetDefault("provisioner.visibility_polls", 10)
	v.SetDefault("provisioner.visibility_interval", 500*time.Millisecond)

	v.SetDefault("backlog.batch_size", 25)
	v.SetDefault("backlog.max_attempts", 10)
	v.SetDefault("backlog.schedule", "")
	v.SetDefault("backlog.pass_timeout", 5*time.Minute)
	v.SetDefault("backlog.stale_after", 30*time.Minute)

	v.SetDefault("presale.stages_json", "")
	v.SetDefault("presale.tiers_json", "")

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 256)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	req := func(name, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	pubkey := func(name, val string) {
		if val == "" {
			return
		}
		if _, err := solana.PublicKeyFromBase58(val); err != nil {
			errs = append(errs, fmt.Errorf("%s is not a valid address: %w", name, err))
		}
	}

	req("solana.rpc_url", c.Solana.RPCURL)
	req("solana.reward_mint", c.Solana.RewardMint)
	req("solana.treasury", c.Solana.Treasury)
	req("solana.stable_mint", c.Solana.StableMint)
	req("auth.webhook_secret", c.Auth.WebhookSecret)
	req("auth.worker_secret", c.Auth.WorkerSecret)
	pubkey("solana.reward_mint", c.Solana.RewardMint)
	pubkey("solana.treasury", c.Solana.Treasury)
	pubkey("solana.stable_mint", c.Solana.StableMint)

	if len(c.Solana.SigningKey) != SigningKeyLength {
		errs = append(errs, fmt.Errorf("solana.signing_key is required"))
	}
	if c.Solana.RewardDecimals > 18 {
		errs = append(errs, fmt.Errorf("solana.reward_decimals must be at most 18, got %d", c.Solana.RewardDecimals))
	}
	if !c.Database.UseMemory {
		req("database.dsn", c.Database.DSN)
	}
	if c.Dispatcher.Workers <= 0 || c.Dispatcher.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatcher.workers and dispatcher.queue_size must be positive"))
	}
	if c.Backlog.BatchSize <= 0 || c.Backlog.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("backlog.batch_size and backlog.max_attempts must be positive"))
	}
	if _, err := c.Presale.DomainStages(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Presale.DomainTiers(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// DomainStages converts the configured stages. At least one is required.
func (p PresaleConfig) DomainStages() ([]domain.Stage, error) {
	if len(p.Stages) == 0 {
		return nil, errors.New("presale.stages: at least one stage is required")
	}
	out := make([]domain.Stage, 0, len(p.Stages))
	for i, s := range p.Stages {
		capUSD, err := decimal.NewFromString(s.CapUSD)
		if err != nil {
			return nil, fmt.Errorf("presale.stages[%d].cap_usd: %w", i, err)
		}
		rate, err := decimal.NewFromString(s.RatePerUSD)
		if err != nil {
			return nil, fmt.Errorf("presale.stages[%d].rate_per_usd: %w", i, err)
		}
		if !capUSD.IsPositive() || !rate.IsPositive() || s.BonusBps < 0 {
			return nil, fmt.Errorf("presale.stages[%d]: cap and rate must be positive, bonus non-negative", i)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i+1)
		}
		out = append(out, domain.Stage{Name: name, CapUSD: capUSD, RatePerUSD: rate, BonusBps: s.BonusBps})
	}
	return out, nil
}

// DomainTiers converts the configured size bonus tiers. An empty list
// yields nil, leaving the built-in schedule in effect.
func (p PresaleConfig) DomainTiers() ([]domain.SizeBonusTier, error) {
	if len(p.Tiers) == 0 {
		return nil, nil
	}
	out := make([]domain.SizeBonusTier, 0, len(p.Tiers))
	for i, t := range p.Tiers {
		minUSD, err := decimal.NewFromString(t.MinUSD)
		if err != nil {
			return nil, fmt.Errorf("presale.tiers[%d].min_usd: %w", i, err)
		}
		if minUSD.IsNegative() || t.BonusBps < 0 {
			return nil, fmt.Errorf("presale.tiers[%d]: values must be non-negative", i)
		}
		out = append(out, domain.SizeBonusTier{MinUSD: minUSD, BonusBps: t.BonusBps})
	}
	return out, nil
}
