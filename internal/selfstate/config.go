package selfstate

import (
	"time"

	"github.com/banshee-data/roadsense/internal/config"
)

// SpeedConfig holds the speed filter thresholds.
type SpeedConfig struct {
	MinInterval        time.Duration // shortest usable Δt between fixes
	MaxInterval        time.Duration // longest usable Δt between fixes
	JumpDistanceM      float64       // displacement treated as a GPS jump...
	JumpWindow         time.Duration // ...when it happens faster than this
	MaxAccelKmhPerSec  float64       // physical speed-change limit
	AccuracyReferenceM float64       // accuracy at which the filter is fully responsive
	BaseAlpha          float64
	MaxAlpha           float64
	HistoryLength      int // smoothed samples kept for the trimmed mean
}

// HeadingConfig holds the heading estimator thresholds.
type HeadingConfig struct {
	MinSpeedKmh      float64 // below this, movement bearing is not trusted
	MinDisplacementM float64 // jitter floor for recomputing a bearing
	BlendMin         float64
	BlendMax         float64
	BlendSpeedKmh    float64 // speed at which the blend weight reaches 1 before clamping
}

// Config bundles the tracker configuration.
type Config struct {
	Speed         SpeedConfig
	Heading       HeadingConfig
	HistoryLength int // retained SelfState entries
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Speed: SpeedConfig{
			MinInterval:        cfg.GetMinSampleInterval(),
			MaxInterval:        cfg.GetMaxSampleInterval(),
			JumpDistanceM:      cfg.GetGPSJumpDistanceM(),
			JumpWindow:         cfg.GetGPSJumpWindow(),
			MaxAccelKmhPerSec:  cfg.GetMaxAccelKmhPerSec(),
			AccuracyReferenceM: cfg.GetAccuracyReferenceM(),
			BaseAlpha:          cfg.GetBaseAlpha(),
			MaxAlpha:           cfg.GetMaxAlpha(),
			HistoryLength:      cfg.GetSpeedHistoryLength(),
		},
		Heading: HeadingConfig{
			MinSpeedKmh:      cfg.GetHeadingMinSpeedKmh(),
			MinDisplacementM: cfg.GetHeadingMinDisplacementM(),
			BlendMin:         cfg.GetHeadingBlendMin(),
			BlendMax:         cfg.GetHeadingBlendMax(),
			BlendSpeedKmh:    cfg.GetHeadingBlendSpeedKmh(),
		},
		HistoryLength: cfg.GetSelfHistoryLength(),
	}
}
