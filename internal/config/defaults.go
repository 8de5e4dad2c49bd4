package config

// Default returns the built-in configuration: three chains with
// representative finality profiles and the USDC/USDT/DAI coin catalog.
func Default() *Config {
	return &Config{
		Chains: map[string]*ChainProfile{
			"ethereum": {
				Name:               "ethereum",
				BlockTimeMs:        12_000,
				Tier1Confirmations: 1,
				Tier2Confirmations: 32,
				Tier3Confirmations: 64,
				Tier1TimeSec:       12,
				Tier2TimeSec:       384,
				Tier3TimeSec:       768,
				MaxReorgDepth:      64,
				ReorgProbability:   0.001,
				RPCPrimary:         "https://eth.llamarpc.com",
				RPCFallbacks: []string{
					"https://rpc.ankr.com/eth",
					"https://eth.rpc.blxrbdn.com",
				},
				Dialect:        "evm",
				PollIntervalMs: 3000,
			},
			"arbitrum": {
				Name:               "arbitrum",
				BlockTimeMs:        250,
				Tier1Confirmations: 1,
				Tier2Confirmations: 50,
				Tier3Confirmations: 256,
				Tier1TimeSec:       1,
				Tier2TimeSec:       13,
				Tier3TimeSec:       900,
				MaxReorgDepth:      256,
				ReorgProbability:   0.002,
				RPCPrimary:         "https://arb1.arbitrum.io/rpc",
				RPCFallbacks: []string{
					"https://rpc.ankr.com/arbitrum",
					"https://arbitrum.llamarpc.com",
				},
				Dialect:        "evm",
				PollIntervalMs: 500,
			},
			"solana": {
				Name:               "solana",
				BlockTimeMs:        400,
				Tier1Confirmations: 1,
				Tier2Confirmations: 32,
				Tier3Confirmations: 300,
				Tier1TimeSec:       1,
				Tier2TimeSec:       13,
				Tier3TimeSec:       120,
				MaxReorgDepth:      300,
				ReorgProbability:   0.005,
				RPCPrimary:         "https://api.mainnet-beta.solana.com",
				RPCFallbacks: []string{
					"https://rpc.ankr.com/solana",
				},
				Dialect:        "solana",
				PollIntervalMs: 400,
			},
		},
		Coins: map[string]*CoinProfile{
			"USDC": {
				Symbol: "USDC",
				Name:   "USD Coin",
				Chains: []string{"ethereum", "arbitrum", "solana"},
				ContractAddresses: map[string]string{
					"ethereum": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
					"arbitrum": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
					"solana":   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				},
				Decimals:       6,
				DepegThreshold: 0.02,
				LiquidityMin:   1_000_000,
				VolatilityMax:  0.05,
			},
			"USDT": {
				Symbol: "USDT",
				Name:   "Tether USD",
				Chains: []string{"ethereum", "arbitrum", "solana"},
				ContractAddresses: map[string]string{
					"ethereum": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
					"arbitrum": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
					"solana":   "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
				},
				Decimals:       6,
				DepegThreshold: 0.02,
				LiquidityMin:   1_000_000,
				VolatilityMax:  0.05,
			},
			"DAI": {
				Symbol: "DAI",
				Name:   "Dai Stablecoin",
				Chains: []string{"ethereum", "arbitrum"},
				ContractAddresses: map[string]string{
					"ethereum": "0x6B175474E89094C44Da98b954EedeAC495271d0F",
					"arbitrum": "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
				},
				Decimals:       18,
				DepegThreshold: 0.02,
				LiquidityMin:   1_000_000,
				VolatilityMax:  0.05,
			},
		},
		TCS: TCSConfig{
			ExpectedSources: []string{"price", "liquidity", "supply", "volatility", "sentiment"},
			SourceImportance: map[string]float64{
				"price":      1.0,
				"supply":     0.9,
				"liquidity":  0.8,
				"volatility": 0.7,
				"sentiment":  0.5,
			},
			FreshThresholdSec:      300,
			AcceptableThresholdSec: 600,
			AttestationThreshold:   0.8,
			CrossChainGraceSec:     900,
			DivergenceThreshold:    0.01,
		},
		Window: WindowConfig{
			WindowSizeSec:        300,
			ProvisionalDelaySec:  60,
			FinalizationDelaySec: 900,
			ReorgGraceSec:        300,
			MaxEventsPerWindow:   10_000,
			RetentionHours:       24,
			TickIntervalSec:      10,
		},
		Quality: QualityConfig{
			OutlierZThreshold:       3.0,
			PriceMin:                0.95,
			PriceMax:                1.05,
			DedupWindowSec:          60,
			MaxRetryAttempts:        3,
			RetryBackoffBase:        2,
			CircuitBreakerThreshold: 10,
			CircuitCooldownSec:      300,
		},
		Sources: SourceConfig{
			PriceIntervalSec:      60,
			LiquidityIntervalSec:  300,
			SupplyIntervalSec:     120,
			VolatilityIntervalSec: 3600,
			SentimentIntervalSec:  3600,
		},
		Emit: EmitConfig{
			SnapshotPath: "data/snapshots.jsonl",
			ReorgLogDir:  "data/reorgs",
			RedisStream:  "stablewatch:snapshots",
		},
		HTTPListenAddr: ":8080",
		RPCTimeoutSec:  30,
	}
}
