// Package config loads the StableWatch configuration from YAML and fills in
// built-in defaults for anything the file omits. A missing file yields the
// full default configuration, which monitors USDC/USDT/DAI across
// ethereum, arbitrum and solana.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainProfile describes one blockchain's finality characteristics and RPC
// endpoints. Confirmation thresholds map to tier1/tier2/tier3; the time
// estimates drive off-chain (age based) finality.
type ChainProfile struct {
	Name        string `yaml:"name"`
	BlockTimeMs int    `yaml:"block_time_ms"`

	Tier1Confirmations uint64 `yaml:"tier1_confirmations"`
	Tier2Confirmations uint64 `yaml:"tier2_confirmations"`
	Tier3Confirmations uint64 `yaml:"tier3_confirmations"`

	Tier1TimeSec int `yaml:"tier1_time_sec"`
	Tier2TimeSec int `yaml:"tier2_time_sec"`
	Tier3TimeSec int `yaml:"tier3_time_sec"`

	MaxReorgDepth    int     `yaml:"max_reorg_depth"`
	ReorgProbability float64 `yaml:"reorg_probability"`

	RPCPrimary   string   `yaml:"rpc_primary"`
	RPCFallbacks []string `yaml:"rpc_fallbacks"`

	// Dialect selects the RPC wire format: "evm" or "solana".
	Dialect string `yaml:"dialect"`

	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// CoinProfile describes a monitored stablecoin and its risk thresholds.
type CoinProfile struct {
	Symbol            string            `yaml:"symbol"`
	Name              string            `yaml:"name"`
	Chains            []string          `yaml:"chains"`
	ContractAddresses map[string]string `yaml:"contract_addresses"`
	Decimals          int               `yaml:"decimals"`

	DepegThreshold float64 `yaml:"depeg_threshold"`
	LiquidityMin   float64 `yaml:"liquidity_min"`
	VolatilityMax  float64 `yaml:"volatility_max"`
}

// TCSConfig parameterizes the Temporal Confidence Score calculator.
type TCSConfig struct {
	ExpectedSources  []string           `yaml:"expected_sources"`
	SourceImportance map[string]float64 `yaml:"source_importance"`

	FreshThresholdSec      int `yaml:"fresh_threshold_sec"`
	AcceptableThresholdSec int `yaml:"acceptable_threshold_sec"`

	AttestationThreshold   float64 `yaml:"attestation_threshold"`
	CrossChainGraceSec     int     `yaml:"cross_chain_grace_sec"`
	DivergenceThreshold    float64 `yaml:"divergence_threshold"`
}

// WindowConfig parameterizes the window state machine.
type WindowConfig struct {
	WindowSizeSec        int `yaml:"window_size_sec"`
	ProvisionalDelaySec  int `yaml:"provisional_delay_sec"`
	FinalizationDelaySec int `yaml:"finalization_delay_sec"`
	ReorgGraceSec        int `yaml:"reorg_grace_sec"`
	MaxEventsPerWindow   int `yaml:"max_events_per_window"`
	RetentionHours       int `yaml:"retention_hours"`
	TickIntervalSec      int `yaml:"tick_interval_sec"`
}

// QualityConfig parameterizes the data quality pipeline and the source
// backoff/circuit facility.
type QualityConfig struct {
	OutlierZThreshold float64 `yaml:"outlier_z_threshold"`
	PriceMin          float64 `yaml:"price_min"`
	PriceMax          float64 `yaml:"price_max"`
	DedupWindowSec    int     `yaml:"dedup_window_sec"`

	MaxRetryAttempts        int     `yaml:"max_retry_attempts"`
	RetryBackoffBase        float64 `yaml:"retry_backoff_base"`
	CircuitBreakerThreshold uint32  `yaml:"circuit_breaker_threshold"`
	CircuitCooldownSec      int     `yaml:"circuit_cooldown_sec"`
}

// SourceConfig sets the poll cadence of each source type.
type SourceConfig struct {
	PriceIntervalSec      int `yaml:"price_interval_sec"`
	LiquidityIntervalSec  int `yaml:"liquidity_interval_sec"`
	SupplyIntervalSec     int `yaml:"supply_interval_sec"`
	VolatilityIntervalSec int `yaml:"volatility_interval_sec"`
	SentimentIntervalSec  int `yaml:"sentiment_interval_sec"`
}

// EmitConfig selects snapshot sinks.
type EmitConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
	ReorgLogDir  string `yaml:"reorg_log_dir"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisStream  string `yaml:"redis_stream"`
}

// Config is the root configuration.
type Config struct {
	Chains  map[string]*ChainProfile `yaml:"chains"`
	Coins   map[string]*CoinProfile  `yaml:"coins"`
	TCS     TCSConfig                `yaml:"tcs"`
	Window  WindowConfig             `yaml:"window"`
	Quality QualityConfig            `yaml:"quality"`
	Sources SourceConfig             `yaml:"sources"`
	Emit    EmitConfig               `yaml:"emit"`

	HTTPListenAddr string `yaml:"http_listen_addr"`
	RPCTimeoutSec  int    `yaml:"rpc_timeout_sec"`
}

// Load reads path and merges it over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	for name, chain := range c.Chains {
		if url := os.Getenv(strings.ToUpper(name) + "_RPC_URL"); url != "" {
			chain.RPCPrimary = url
		}
	}
	if addr := os.Getenv("STABLEWATCH_REDIS_ADDR"); addr != "" {
		c.Emit.RedisAddr = addr
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Chains == nil {
		c.Chains = def.Chains
	}
	if c.Coins == nil {
		c.Coins = def.Coins
	}
	for name, chain := range c.Chains {
		if chain.Name == "" {
			chain.Name = name
		}
	}
	if len(c.TCS.ExpectedSources) == 0 {
		c.TCS.ExpectedSources = def.TCS.ExpectedSources
	}
	if len(c.TCS.SourceImportance) == 0 {
		c.TCS.SourceImportance = def.TCS.SourceImportance
	}
	if c.TCS.FreshThresholdSec == 0 {
		c.TCS.FreshThresholdSec = def.TCS.FreshThresholdSec
	}
	if c.TCS.AcceptableThresholdSec == 0 {
		c.TCS.AcceptableThresholdSec = def.TCS.AcceptableThresholdSec
	}
	if c.TCS.AttestationThreshold == 0 {
		c.TCS.AttestationThreshold = def.TCS.AttestationThreshold
	}
	if c.TCS.CrossChainGraceSec == 0 {
		c.TCS.CrossChainGraceSec = def.TCS.CrossChainGraceSec
	}
	if c.TCS.DivergenceThreshold == 0 {
		c.TCS.DivergenceThreshold = def.TCS.DivergenceThreshold
	}
	if c.Window.WindowSizeSec == 0 {
		c.Window = def.Window
	}
	if c.Window.TickIntervalSec == 0 {
		c.Window.TickIntervalSec = def.Window.TickIntervalSec
	}
	if c.Window.RetentionHours == 0 {
		c.Window.RetentionHours = def.Window.RetentionHours
	}
	if c.Quality.OutlierZThreshold == 0 {
		c.Quality = def.Quality
	}
	if c.Sources.PriceIntervalSec == 0 {
		c.Sources = def.Sources
	}
	if c.Emit.SnapshotPath == "" {
		c.Emit.SnapshotPath = def.Emit.SnapshotPath
	}
	if c.Emit.ReorgLogDir == "" {
		c.Emit.ReorgLogDir = def.Emit.ReorgLogDir
	}
	if c.Emit.RedisStream == "" {
		c.Emit.RedisStream = def.Emit.RedisStream
	}
	if c.HTTPListenAddr == "" {
		c.HTTPListenAddr = def.HTTPListenAddr
	}
	if c.RPCTimeoutSec == 0 {
		c.RPCTimeoutSec = def.RPCTimeoutSec
	}
}

// Validate rejects configurations the engine cannot start with: coins on
// unknown chains, chains with no RPC endpoint, inverted tier thresholds.
func (c *Config) Validate() error {
	for name, chain := range c.Chains {
		if chain.RPCPrimary == "" {
			return fmt.Errorf("chain %s: missing rpc_primary", name)
		}
		if chain.Dialect != "evm" && chain.Dialect != "solana" {
			return fmt.Errorf("chain %s: unknown rpc dialect %q", name, chain.Dialect)
		}
		if !(chain.Tier1Confirmations < chain.Tier2Confirmations &&
			chain.Tier2Confirmations < chain.Tier3Confirmations) {
			return fmt.Errorf("chain %s: confirmation thresholds must satisfy c1 < c2 < c3", name)
		}
		if !(chain.Tier1TimeSec < chain.Tier2TimeSec && chain.Tier2TimeSec < chain.Tier3TimeSec) {
			return fmt.Errorf("chain %s: time thresholds must satisfy t1 < t2 < t3", name)
		}
	}
	for symbol, coin := range c.Coins {
		for _, chain := range coin.Chains {
			if _, ok := c.Chains[chain]; !ok {
				return fmt.Errorf("coin %s: unknown chain %q", symbol, chain)
			}
		}
	}
	return nil
}

// Chain returns the profile for a chain name, or nil if unknown.
func (c *Config) Chain(name string) *ChainProfile {
	return c.Chains[strings.ToLower(name)]
}

// Coin returns the profile for a coin symbol, or nil if unknown.
func (c *Config) Coin(symbol string) *CoinProfile {
	return c.Coins[strings.ToUpper(symbol)]
}

// SlowestTier3Time returns the largest tier3 time across the given chains,
// used as the cross-chain grace period.
func (c *Config) SlowestTier3Time(chains []string) int {
	max := 0
	for _, name := range chains {
		if profile := c.Chain(name); profile != nil && profile.Tier3TimeSec > max {
			max = profile.Tier3TimeSec
		}
	}
	return max
}
