package hazard

import (
	"time"

	"github.com/banshee-data/roadsense/internal/config"
)

// Config holds the detection thresholds.
type Config struct {
	SpeedThresholdKmh        float64 // peer speed that makes a close peer "fast"
	CloseDistanceM           float64 // tier one range
	WarnDistanceM            float64 // tier two range
	ApproachRelativeSpeedKmh float64 // peer − self speed below which a peer closes fast
	OpposingDistanceM        float64 // range for the opposing-traffic bend suffix
	CollisionHorizonSecs     float64
	PeerCooldown             time.Duration // per peer, per tier
	GlobalCooldown           time.Duration // shared by bend and collision alerts
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		SpeedThresholdKmh:        cfg.GetSpeedThresholdKmh(),
		CloseDistanceM:           cfg.GetCloseDistanceM(),
		WarnDistanceM:            cfg.GetWarnDistanceM(),
		ApproachRelativeSpeedKmh: cfg.GetApproachRelativeSpeedKmh(),
		OpposingDistanceM:        cfg.GetOpposingDistanceM(),
		CollisionHorizonSecs:     cfg.GetCollisionHorizonSecs(),
		PeerCooldown:             cfg.GetPeerAlertCooldown(),
		GlobalCooldown:           cfg.GetGlobalAlertCooldown(),
	}
}
