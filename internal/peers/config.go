package peers

import (
	"time"

	"github.com/banshee-data/roadsense/internal/config"
)

// EmptyReportPolicy decides what an empty transport poll means.
type EmptyReportPolicy string

const (
	// ClearOnEmpty treats an empty poll as "no peers in range" and drops
	// every entry at once.
	ClearOnEmpty EmptyReportPolicy = config.EmptyReportClear
	// KeepOnEmpty ignores empty polls and lets entries fade out on their own,
	// so a transient network failure is not mistaken for an empty road.
	KeepOnEmpty EmptyReportPolicy = config.EmptyReportKeep
)

// Config holds the registry lifecycle and motion-model parameters.
type Config struct {
	FadeStart       time.Duration // report age at which a peer starts fading
	RemoveAfter     time.Duration // report age at which a peer is evicted
	MaxAccelMps2    float64       // bound on the rendered speed change
	HeadingSlewRate float64       // fraction of heading error closed per second
	EaseDuration    time.Duration // time to glide from the old rendered position to a new report
	EmptyPolicy     EmptyReportPolicy
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		FadeStart:       cfg.GetFadeStart(),
		RemoveAfter:     cfg.GetRemoveAfter(),
		MaxAccelMps2:    cfg.GetPeerMaxAccelMps2(),
		HeadingSlewRate: cfg.GetHeadingSlewRate(),
		EaseDuration:    time.Second,
		EmptyPolicy:     EmptyReportPolicy(cfg.GetEmptyReportPolicy()),
	}
}
