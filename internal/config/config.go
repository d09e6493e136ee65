// Package config loads the core's external configuration (spec §6.2)
// via viper, bound to environment variables (prefix CROWDWISDOM_) and
// an optional YAML file, with spec defaults as the fallback layer.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// PipelineConfig is the full set of externally tunable parameters
// named in spec §6.2, plus the ambient-only concurrency cap.
type PipelineConfig struct {
	PriorStrength      float64 // kappa, default 50
	HalfLifeHours      float64 // H, default 48
	BeliefEpsilon      float64 // epsilon, default 1e-6; loaded but not read: the backtest's log-loss clamp is its own fixed 1e-6
	SignalMassScale    float64 // M0, default 5
	SupportScale       float64 // N0, default 4
	ParticipationHalf  float64 // N_half, default 8
	DriversK           int     // default 10
	FlowWindowHours    float64 // default 6
	PriceWindowMinutes float64 // default 15
	HorizonShortHours  float64 // default 24
	HorizonMediumDays  float64 // default 7
	EdgeBucketBounds   []float64 // default (0.02, 0.05, 0.10)
	BacktestCutoffHours int     // default 12
	BacktestMaxHours    int     // default 168

	// MaxWorkers bounds the errgroup fan-out of the pipeline's
	// per-market reads and snapshots and of A's per-wallet pull (§5).
	// Ambient-only: no spec-mandated default.
	MaxWorkers int
}

// Default returns the spec-default configuration (§6.2), with
// MaxWorkers set to the host's GOMAXPROCS.
func Default() PipelineConfig {
	return PipelineConfig{
		PriorStrength:       50,
		HalfLifeHours:       48,
		BeliefEpsilon:       1e-6,
		SignalMassScale:     5,
		SupportScale:        4,
		ParticipationHalf:   8,
		DriversK:            10,
		FlowWindowHours:     6,
		PriceWindowMinutes:  15,
		HorizonShortHours:   24,
		HorizonMediumDays:   7,
		EdgeBucketBounds:    []float64{0.02, 0.05, 0.10},
		BacktestCutoffHours: 12,
		BacktestMaxHours:    168,
		MaxWorkers:          runtime.GOMAXPROCS(0),
	}
}

// HalfLife returns H as a time.Duration.
func (c PipelineConfig) HalfLife() time.Duration {
	return time.Duration(c.HalfLifeHours * float64(time.Hour))
}

// FlowWindow returns the flow-summary lookback as a time.Duration.
func (c PipelineConfig) FlowWindow() time.Duration {
	return time.Duration(c.FlowWindowHours * float64(time.Hour))
}

// PriceWindow returns the market-price weighted-mid window as a
// time.Duration.
func (c PipelineConfig) PriceWindow() time.Duration {
	return time.Duration(c.PriceWindowMinutes * float64(time.Minute))
}

// HorizonThresholds returns the configured short/medium boundary.
func (c PipelineConfig) HorizonThresholds() types.HorizonThresholds {
	return types.HorizonThresholds{
		Short:  time.Duration(c.HorizonShortHours * float64(time.Hour)),
		Medium: time.Duration(c.HorizonMediumDays*24) * time.Hour,
	}
}

// Load reads PipelineConfig from an optional YAML file (path may be
// empty, in which case only defaults and environment overrides apply)
// and from CROWDWISDOM_-prefixed environment variables, using viper's
// env > file > default precedence: a set environment variable wins over
// the YAML file, which wins over the defaults.
func Load(path string) (PipelineConfig, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("prior_strength", def.PriorStrength)
	v.SetDefault("half_life_hours", def.HalfLifeHours)
	v.SetDefault("belief_epsilon", def.BeliefEpsilon)
	v.SetDefault("signal_mass_scale", def.SignalMassScale)
	v.SetDefault("support_scale", def.SupportScale)
	v.SetDefault("participation_half", def.ParticipationHalf)
	v.SetDefault("drivers_k", def.DriversK)
	v.SetDefault("flow_window_hours", def.FlowWindowHours)
	v.SetDefault("price_window_minutes", def.PriceWindowMinutes)
	v.SetDefault("horizon_short_hours", def.HorizonShortHours)
	v.SetDefault("horizon_medium_days", def.HorizonMediumDays)
	v.SetDefault("edge_bucket_bounds", def.EdgeBucketBounds)
	v.SetDefault("backtest_cutoff_hours", def.BacktestCutoffHours)
	v.SetDefault("backtest_max_hours", def.BacktestMaxHours)
	v.SetDefault("max_workers", def.MaxWorkers)

	v.SetEnvPrefix("CROWDWISDOM")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return PipelineConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := PipelineConfig{
		PriorStrength:       v.GetFloat64("prior_strength"),
		HalfLifeHours:       v.GetFloat64("half_life_hours"),
		BeliefEpsilon:       v.GetFloat64("belief_epsilon"),
		SignalMassScale:     v.GetFloat64("signal_mass_scale"),
		SupportScale:        v.GetFloat64("support_scale"),
		ParticipationHalf:   v.GetFloat64("participation_half"),
		DriversK:            v.GetInt("drivers_k"),
		FlowWindowHours:     v.GetFloat64("flow_window_hours"),
		PriceWindowMinutes:  v.GetFloat64("price_window_minutes"),
		HorizonShortHours:   v.GetFloat64("horizon_short_hours"),
		HorizonMediumDays:   v.GetFloat64("horizon_medium_days"),
		EdgeBucketBounds:    v.GetFloat64Slice("edge_bucket_bounds"),
		BacktestCutoffHours: v.GetInt("backtest_cutoff_hours"),
		BacktestMaxHours:    v.GetInt("backtest_max_hours"),
		MaxWorkers:          v.GetInt("max_workers"),
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	return cfg, nil
}
