// Package config loads the execution plane's configuration surface: risk
// defaults, allocation policy, the symbol universe, venue retry tuning, and
// the symbol info cache TTL. Replaces a global-ish parameter service with
// an immutable value handed to component constructors.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RiskConfig holds the position-sizing risk defaults.
type RiskConfig struct {
	MaxRiskPerTrade            float64
	DefaultAtrPercentage       float64
	MinStopDistancePercentage  float64
	PortfolioRiskLimit         float64
}

// AllocationConfig mirrors the UOM's AllocationConfig data model.
type AllocationConfig struct {
	Strategy     string
	Weights      map[string]float64
	CustomRatios map[string]float64
}

// VenueRetryConfig mirrors the venue gateway's fixed backoff schedule,
// expressed as config so deployments can retune it without a rebuild.
type VenueRetryConfig struct {
	Max        int
	InitialMs  int
	MaxMs      int
	Factor     float64
}

// Config is the complete, immutable configuration surface.
type Config struct {
	Risk           RiskConfig
	Allocation     AllocationConfig
	Symbols        []string
	TimeframeHours float64
	InitialCapital float64
	VenueRetry     VenueRetryConfig
	SymbolInfoTTL  time.Duration
}

// Load reads a .env file (if present) followed by EXECPLANE_-prefixed
// environment variables and an optional config file, then applies the
// documented defaults for any option left unset.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXECPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	v.SetDefault("risk.max_risk_per_trade", 0.01)
	v.SetDefault("risk.defaultAtrPercentage", 0.02)
	v.SetDefault("risk.minStopDistancePercentage", 0.01)
	v.SetDefault("portfolioRiskLimit", 0.5)
	v.SetDefault("allocation.strategy", "PRIORITY")
	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("timeframeHours", 1.0)
	v.SetDefault("initialCapital", 10000.0)
	v.SetDefault("venue.retries.max", 7)
	v.SetDefault("venue.retries.initialMs", 1000)
	v.SetDefault("venue.retries.maxMs", 64000)
	v.SetDefault("venue.retries.factor", 2.0)
	v.SetDefault("symbolInfo.ttlMs", 3_600_000)

	cfg := &Config{
		Risk: RiskConfig{
			MaxRiskPerTrade:           v.GetFloat64("risk.max_risk_per_trade"),
			DefaultAtrPercentage:      v.GetFloat64("risk.defaultAtrPercentage"),
			MinStopDistancePercentage: v.GetFloat64("risk.minStopDistancePercentage"),
			PortfolioRiskLimit:        v.GetFloat64("portfolioRiskLimit"),
		},
		Allocation: AllocationConfig{
			Strategy:     strings.ToUpper(v.GetString("allocation.strategy")),
			Weights:      v.GetStringMapFloat64("allocation.weights"),
			CustomRatios: v.GetStringMapFloat64("allocation.customRatios"),
		},
		Symbols:        v.GetStringSlice("symbols"),
		TimeframeHours: v.GetFloat64("timeframeHours"),
		InitialCapital: v.GetFloat64("initialCapital"),
		VenueRetry: VenueRetryConfig{
			Max:       v.GetInt("venue.retries.max"),
			InitialMs: v.GetInt("venue.retries.initialMs"),
			MaxMs:     v.GetInt("venue.retries.maxMs"),
			Factor:    v.GetFloat64("venue.retries.factor"),
		},
		SymbolInfoTTL: time.Duration(v.GetInt64("symbolInfo.ttlMs")) * time.Millisecond,
	}
	return cfg, nil
}
