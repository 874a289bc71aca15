// Package config defines service configuration structures and loading hooks.
//
// Keys are flat and match the koanf tags below; durations accept Go duration
// strings ("90s", "1h") and amounts are decimal strings.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // period_timezone must resolve on hosts without zoneinfo

	"github.com/okian/claimgate/internal/domain/identity"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/internal/domain/policy"
	"github.com/shopspring/decimal"
)

// Chain modes.
const (
	ChainSimulated = "simulated"
	ChainEVM       = "evm"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":3000".
	Addr string `koanf:"addr"`
	// AdminToken guards /admin routes when set.
	AdminToken string `koanf:"admin_token"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is honoured,
	// comma separated. "*" trusts every peer; empty ignores the header.
	TrustedProxies string `koanf:"trusted_proxies"`
	// DataDir holds state.cbor and events.log.
	DataDir string `koanf:"data_dir"`

	// Claim profile: score-based rewards.
	ClaimConversionRate string        `koanf:"claim_conversion_rate"`
	ClaimPeriodCap      string        `koanf:"claim_period_cap"`
	ClaimCooldown       time.Duration `koanf:"claim_cooldown"`
	ClaimOriginWindow   time.Duration `koanf:"claim_origin_window"`

	// Withdraw profile: direct amounts.
	WithdrawPeriodCap    string        `koanf:"withdraw_period_cap"`
	WithdrawCooldown     time.Duration `koanf:"withdraw_cooldown"`
	WithdrawOriginWindow time.Duration `koanf:"withdraw_origin_window"`

	// PeriodTimezone is the IANA zone the daily period is computed in.
	PeriodTimezone string `koanf:"period_timezone"`

	// TransferTimeout bounds each transmitter call before it becomes UNKNOWN.
	TransferTimeout time.Duration `koanf:"transfer_timeout"`
	// BusyPolicy is wait or reject; BusyWait bounds waiting.
	BusyPolicy string        `koanf:"busy_policy"`
	BusyWait   time.Duration `koanf:"busy_wait"`

	// ChainMode selects the transmitter: simulated or evm.
	ChainMode string `koanf:"chain_mode"`
	// SimFailureRate and SimUnknownRate inject faults in simulated mode.
	SimFailureRate  float64 `koanf:"sim_failure_rate"`
	SimUnknownRate  float64 `koanf:"sim_unknown_rate"`
	RPCURL          string  `koanf:"rpc_url"`
	PrivateKey      string  `koanf:"private_key"`
	TokenAddress    string  `koanf:"token_address"`
	MaxFeeGwei      int64   `koanf:"max_fee_gwei"`
	PriorityFeeGwei int64   `koanf:"priority_fee_gwei"`
	TokenDecimals   int     `koanf:"token_decimals"`
	ChainRPS        float64 `koanf:"chain_rps"`
	ChainBurst      int     `koanf:"chain_burst"`

	// Event mirror. An empty RedisAddr logs events instead.
	RedisAddr        string `koanf:"redis_addr"`
	RedisPassword    string `koanf:"redis_password"`
	RedisDB          int    `koanf:"redis_db"`
	RedisStream      string `koanf:"redis_stream"`
	PublisherWorkers int    `koanf:"publisher_workers"`
	PublishQueueSize int    `koanf:"publish_queue_size"`
	DedupeSize       int    `koanf:"dedupe_size"`
}

// New creates a Config with defaults matching the reference deployment:
// 10000 score = 1 token, one token per day, one claim per hour, one request
// per IP per minute.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":3000",
		DataDir:   "data",

		ClaimConversionRate: "0.0001",
		ClaimPeriodCap:      "1",
		ClaimCooldown:       time.Hour,
		ClaimOriginWindow:   time.Minute,

		WithdrawPeriodCap:    "1",
		WithdrawCooldown:     time.Hour,
		WithdrawOriginWindow: time.Minute,

		PeriodTimezone: "UTC",
		TrustedProxies: strings.Join(identity.DefaultTrustedProxies, ","),

		TransferTimeout: 2 * time.Minute,
		BusyPolicy:      "wait",
		BusyWait:        5 * time.Second,

		ChainMode:       ChainSimulated,
		MaxFeeGwei:      50,
		PriorityFeeGwei: 30,
		TokenDecimals:   18,
		ChainRPS:        5,
		ChainBurst:      5,

		RedisStream:      "claimgate:disbursements",
		PublisherWorkers: 2,
		PublishQueueSize: 1024,
		DedupeSize:       10_000,
	}
}

// Location resolves PeriodTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.PeriodTimezone)
	if err != nil {
		return nil, fmt.Errorf("period_timezone %q: %w", c.PeriodTimezone, ErrInvalidConfig)
	}
	return loc, nil
}

// OriginResolver builds the client origin resolver from TrustedProxies.
func (c *Config) OriginResolver() (*identity.Resolver, error) {
	var proxies []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	res, err := identity.NewResolver(proxies...)
	if err != nil {
		return nil, fmt.Errorf("trusted_proxies: %v: %w", err, ErrInvalidConfig)
	}
	return res, nil
}

// Profiles builds the claim and withdraw policy profiles.
func (c *Config) Profiles() ([]policy.Profile, error) {
	rate, err := positiveDecimal("claim_conversion_rate", c.ClaimConversionRate)
	if err != nil {
		return nil, err
	}
	claimCap, err := positiveDecimal("claim_period_cap", c.ClaimPeriodCap)
	if err != nil {
		return nil, err
	}
	withdrawCap, err := positiveDecimal("withdraw_period_cap", c.WithdrawPeriodCap)
	if err != nil {
		return nil, err
	}
	return []policy.Profile{
		{
			Name:           model.ProfileClaim,
			OriginWindow:   c.ClaimOriginWindow,
			Cooldown:       c.ClaimCooldown,
			PeriodCap:      claimCap,
			ConversionRate: rate,
		},
		{
			Name:           model.ProfileWithdraw,
			OriginWindow:   c.WithdrawOriginWindow,
			Cooldown:       c.WithdrawCooldown,
			PeriodCap:      withdrawCap,
			ConversionRate: decimal.NewFromInt(1),
		},
	}, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty: %w", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty: %w", ErrInvalidConfig)
	}
	if _, err := c.Profiles(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.OriginResolver(); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"claim_cooldown":         c.ClaimCooldown,
		"claim_origin_window":    c.ClaimOriginWindow,
		"withdraw_cooldown":      c.WithdrawCooldown,
		"withdraw_origin_window": c.WithdrawOriginWindow,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative: %w", name, ErrInvalidConfig)
		}
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("transfer_timeout must be positive: %w", ErrInvalidConfig)
	}
	switch strings.ToLower(c.BusyPolicy) {
	case "wait", "reject":
	default:
		return fmt.Errorf("busy_policy %q must be wait or reject: %w", c.BusyPolicy, ErrInvalidConfig)
	}
	switch c.ChainMode {
	case ChainSimulated:
		if c.SimFailureRate < 0 || c.SimFailureRate > 1 || c.SimUnknownRate < 0 || c.SimUnknownRate > 1 {
			return fmt.Errorf("sim_failure_rate and sim_unknown_rate must be within [0,1]: %w", ErrInvalidConfig)
		}
	case ChainEVM:
		if c.RPCURL == "" || c.PrivateKey == "" || c.TokenAddress == "" {
			return fmt.Errorf("chain_mode evm needs rpc_url, private_key and token_address: %w", ErrInvalidConfig)
		}
		if c.TokenDecimals < 0 || c.TokenDecimals > 255 {
			return fmt.Errorf("token_decimals %d out of range: %w", c.TokenDecimals, ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("chain_mode %q must be simulated or evm: %w", c.ChainMode, ErrInvalidConfig)
	}
	return nil
}

func positiveDecimal(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %q must be a positive decimal: %w", key, raw, ErrInvalidConfig)
	}
	return d, nil
}
