package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Empty-report policies applied by the peer registry when a transport poll
// returns no vehicles at all.
const (
	EmptyReportClear = "clear" // drop every peer immediately
	EmptyReportKeep  = "keep"  // ignore; peers fade and expire on their own
)

// TuningConfig holds every threshold of the proximity pipeline. Each field is
// optional: omitted fields fall back to the defaults returned by the Get*
// methods, so partial configs are safe.
type TuningConfig struct {
	// Speed estimation
	MinSampleInterval  *string  `json:"min_sample_interval,omitempty"` // duration string like "100ms"
	MaxSampleInterval  *string  `json:"max_sample_interval,omitempty"`
	GPSJumpDistanceM   *float64 `json:"gps_jump_distance_m,omitempty"`
	GPSJumpWindow      *string  `json:"gps_jump_window,omitempty"`
	MaxAccelKmhPerSec  *float64 `json:"max_accel_kmh_per_sec,omitempty"`
	AccuracyReferenceM *float64 `json:"accuracy_reference_m,omitempty"`
	BaseAlpha          *float64 `json:"base_alpha,omitempty"`
	MaxAlpha           *float64 `json:"max_alpha,omitempty"`
	SpeedHistoryLength *int     `json:"speed_history_length,omitempty"`

	// Heading estimation
	HeadingMinSpeedKmh      *float64 `json:"heading_min_speed_kmh,omitempty"`
	HeadingMinDisplacementM *float64 `json:"heading_min_displacement_m,omitempty"`
	HeadingBlendMin         *float64 `json:"heading_blend_min,omitempty"`
	HeadingBlendMax         *float64 `json:"heading_blend_max,omitempty"`
	HeadingBlendSpeedKmh    *float64 `json:"heading_blend_speed_kmh,omitempty"`

	// Self-state history
	SelfHistoryLength *int `json:"self_history_length,omitempty"`

	// Peer registry
	FadeStart         *string  `json:"fade_start,omitempty"`
	RemoveAfter       *string  `json:"remove_after,omitempty"`
	PeerMaxAccelMps2  *float64 `json:"peer_max_accel_mps2,omitempty"`
	HeadingSlewRate   *float64 `json:"heading_slew_rate,omitempty"` // fraction of the heading error closed per second
	EmptyReportPolicy *string  `json:"empty_report_policy,omitempty"`

	// Hazard detection
	SpeedThresholdKmh        *float64 `json:"speed_threshold_kmh,omitempty"`
	CloseDistanceM           *float64 `json:"close_distance_m,omitempty"`
	WarnDistanceM            *float64 `json:"warn_distance_m,omitempty"`
	ApproachRelativeSpeedKmh *float64 `json:"approach_relative_speed_kmh,omitempty"`
	OpposingDistanceM        *float64 `json:"opposing_distance_m,omitempty"`
	CollisionHorizonSecs     *float64 `json:"collision_horizon_secs,omitempty"`
	PeerAlertCooldown        *string  `json:"peer_alert_cooldown,omitempty"`
	GlobalAlertCooldown      *string  `json:"global_alert_cooldown,omitempty"`

	// Scheduling
	TickInterval      *string `json:"tick_interval,omitempty"`
	TelemetryInterval *string `json:"telemetry_interval,omitempty"`
	ReceiveInterval   *string `json:"receive_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its default value. It mirrors config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MinSampleInterval:  ptrString("100ms"),
		MaxSampleInterval:  ptrString("5s"),
		GPSJumpDistanceM:   ptrFloat64(50),
		GPSJumpWindow:      ptrString("2s"),
		MaxAccelKmhPerSec:  ptrFloat64(10.8),
		AccuracyReferenceM: ptrFloat64(5),
		BaseAlpha:          ptrFloat64(0.3),
		MaxAlpha:           ptrFloat64(0.8),
		SpeedHistoryLength: ptrInt(5),

		HeadingMinSpeedKmh:      ptrFloat64(3),
		HeadingMinDisplacementM: ptrFloat64(3),
		HeadingBlendMin:         ptrFloat64(0.2),
		HeadingBlendMax:         ptrFloat64(0.8),
		HeadingBlendSpeedKmh:    ptrFloat64(20),

		SelfHistoryLength: ptrInt(500),

		FadeStart:         ptrString("5s"),
		RemoveAfter:       ptrString("10s"),
		PeerMaxAccelMps2:  ptrFloat64(2),
		HeadingSlewRate:   ptrFloat64(3),
		EmptyReportPolicy: ptrString(EmptyReportClear),

		SpeedThresholdKmh:        ptrFloat64(30),
		CloseDistanceM:           ptrFloat64(100),
		WarnDistanceM:            ptrFloat64(150),
		ApproachRelativeSpeedKmh: ptrFloat64(-20),
		OpposingDistanceM:        ptrFloat64(100),
		CollisionHorizonSecs:     ptrFloat64(5),
		PeerAlertCooldown:        ptrString("5s"),
		GlobalAlertCooldown:      ptrString("5s"),

		TickInterval:      ptrString("50ms"),
		TelemetryInterval: ptrString("1s"),
		ReceiveInterval:   ptrString("2s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/speed-plot/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"min_sample_interval":   c.MinSampleInterval,
		"max_sample_interval":   c.MaxSampleInterval,
		"gps_jump_window":       c.GPSJumpWindow,
		"fade_start":            c.FadeStart,
		"remove_after":          c.RemoveAfter,
		"peer_alert_cooldown":   c.PeerAlertCooldown,
		"global_alert_cooldown": c.GlobalAlertCooldown,
		"tick_interval":         c.TickInterval,
		"telemetry_interval":    c.TelemetryInterval,
		"receive_interval":      c.ReceiveInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.GetMinSampleInterval() >= c.GetMaxSampleInterval() {
		return fmt.Errorf("min_sample_interval (%s) must be below max_sample_interval (%s)",
			c.GetMinSampleInterval(), c.GetMaxSampleInterval())
	}
	if c.GetFadeStart() >= c.GetRemoveAfter() {
		return fmt.Errorf("fade_start (%s) must be below remove_after (%s)", c.GetFadeStart(), c.GetRemoveAfter())
	}
	if c.GetTickInterval() <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}

	for name, v := range map[string]*float64{
		"base_alpha":        c.BaseAlpha,
		"max_alpha":         c.MaxAlpha,
		"heading_blend_min": c.HeadingBlendMin,
		"heading_blend_max": c.HeadingBlendMax,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	if c.GetHeadingBlendMin() > c.GetHeadingBlendMax() {
		return fmt.Errorf("heading_blend_min must not exceed heading_blend_max")
	}

	for name, v := range map[string]*float64{
		"accuracy_reference_m":    c.AccuracyReferenceM,
		"heading_blend_speed_kmh": c.HeadingBlendSpeedKmh,
		"peer_max_accel_mps2":     c.PeerMaxAccelMps2,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"speed_history_length": c.SpeedHistoryLength,
		"self_history_length":  c.SelfHistoryLength,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	if c.EmptyReportPolicy != nil {
		switch *c.EmptyReportPolicy {
		case "", EmptyReportClear, EmptyReportKeep:
		default:
			return fmt.Errorf("empty_report_policy must be %q or %q, got %q", EmptyReportClear, EmptyReportKeep, *c.EmptyReportPolicy)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetMinSampleInterval returns the shortest fix spacing usable for a speed delta.
func (c *TuningConfig) GetMinSampleInterval() time.Duration {
	return durationOr(c.MinSampleInterval, 100*time.Millisecond)
}

// GetMaxSampleInterval returns the longest fix spacing usable for a speed delta.
func (c *TuningConfig) GetMaxSampleInterval() time.Duration {
	return durationOr(c.MaxSampleInterval, 5*time.Second)
}

// GetGPSJumpDistanceM returns the displacement above which a fast fix is a jump.
func (c *TuningConfig) GetGPSJumpDistanceM() float64 { return floatOr(c.GPSJumpDistanceM, 50) }

// GetGPSJumpWindow returns the interval below which a large displacement is a jump.
func (c *TuningConfig) GetGPSJumpWindow() time.Duration {
	return durationOr(c.GPSJumpWindow, 2*time.Second)
}

// GetMaxAccelKmhPerSec returns the physical speed-change limit (≈3 m/s²).
func (c *TuningConfig) GetMaxAccelKmhPerSec() float64 { return floatOr(c.MaxAccelKmhPerSec, 10.8) }

// GetAccuracyReferenceM returns the accuracy at which the smoothing is fully responsive.
func (c *TuningConfig) GetAccuracyReferenceM() float64 { return floatOr(c.AccuracyReferenceM, 5) }

// GetBaseAlpha returns the base smoothing factor.
func (c *TuningConfig) GetBaseAlpha() float64 { return floatOr(c.BaseAlpha, 0.3) }

// GetMaxAlpha returns the cap on the smoothing factor.
func (c *TuningConfig) GetMaxAlpha() float64 { return floatOr(c.MaxAlpha, 0.8) }

// GetSpeedHistoryLength returns the number of smoothed speeds kept for the trimmed mean.
func (c *TuningConfig) GetSpeedHistoryLength() int { return intOr(c.SpeedHistoryLength, 5) }

// GetHeadingMinSpeedKmh returns the speed below which movement heading is not trusted.
func (c *TuningConfig) GetHeadingMinSpeedKmh() float64 { return floatOr(c.HeadingMinSpeedKmh, 3) }

// GetHeadingMinDisplacementM returns the displacement needed to recompute a bearing.
func (c *TuningConfig) GetHeadingMinDisplacementM() float64 {
	return floatOr(c.HeadingMinDisplacementM, 3)
}

// GetHeadingBlendMin returns the lower clamp of the heading blend weight.
func (c *TuningConfig) GetHeadingBlendMin() float64 { return floatOr(c.HeadingBlendMin, 0.2) }

// GetHeadingBlendMax returns the upper clamp of the heading blend weight.
func (c *TuningConfig) GetHeadingBlendMax() float64 { return floatOr(c.HeadingBlendMax, 0.8) }

// GetHeadingBlendSpeedKmh returns the speed divisor of the heading blend weight.
func (c *TuningConfig) GetHeadingBlendSpeedKmh() float64 {
	return floatOr(c.HeadingBlendSpeedKmh, 20)
}

// GetSelfHistoryLength returns the number of self-states retained.
func (c *TuningConfig) GetSelfHistoryLength() int { return intOr(c.SelfHistoryLength, 500) }

// GetFadeStart returns the report age at which a peer starts fading.
func (c *TuningConfig) GetFadeStart() time.Duration { return durationOr(c.FadeStart, 5*time.Second) }

// GetRemoveAfter returns the report age at which a peer is evicted.
func (c *TuningConfig) GetRemoveAfter() time.Duration {
	return durationOr(c.RemoveAfter, 10*time.Second)
}

// GetPeerMaxAccelMps2 returns the acceleration bound of the peer motion model.
func (c *TuningConfig) GetPeerMaxAccelMps2() float64 { return floatOr(c.PeerMaxAccelMps2, 2) }

// GetHeadingSlewRate returns the fraction of heading error closed per second.
func (c *TuningConfig) GetHeadingSlewRate() float64 { return floatOr(c.HeadingSlewRate, 3) }

// GetEmptyReportPolicy returns the registry behaviour for empty payloads.
func (c *TuningConfig) GetEmptyReportPolicy() string {
	if c.EmptyReportPolicy == nil || *c.EmptyReportPolicy == "" {
		return EmptyReportClear
	}
	return *c.EmptyReportPolicy
}

// GetSpeedThresholdKmh returns the peer speed above which a close peer is "fast".
func (c *TuningConfig) GetSpeedThresholdKmh() float64 { return floatOr(c.SpeedThresholdKmh, 30) }

// GetCloseDistanceM returns the tier-one proximity distance.
func (c *TuningConfig) GetCloseDistanceM() float64 { return floatOr(c.CloseDistanceM, 100) }

// GetWarnDistanceM returns the tier-two proximity distance.
func (c *TuningConfig) GetWarnDistanceM() float64 { return floatOr(c.WarnDistanceM, 150) }

// GetApproachRelativeSpeedKmh returns the relative speed below which a peer closes fast.
func (c *TuningConfig) GetApproachRelativeSpeedKmh() float64 {
	return floatOr(c.ApproachRelativeSpeedKmh, -20)
}

// GetOpposingDistanceM returns the range for "with opposing traffic" context.
func (c *TuningConfig) GetOpposingDistanceM() float64 { return floatOr(c.OpposingDistanceM, 100) }

// GetCollisionHorizonSecs returns the time-to-contact that raises a collision alert.
func (c *TuningConfig) GetCollisionHorizonSecs() float64 {
	return floatOr(c.CollisionHorizonSecs, 5)
}

// GetPeerAlertCooldown returns the per-peer, per-tier alert cooldown.
func (c *TuningConfig) GetPeerAlertCooldown() time.Duration {
	return durationOr(c.PeerAlertCooldown, 5*time.Second)
}

// GetGlobalAlertCooldown returns the cooldown shared by bend and collision alerts.
func (c *TuningConfig) GetGlobalAlertCooldown() time.Duration {
	return durationOr(c.GlobalAlertCooldown, 5*time.Second)
}

// GetTickInterval returns the detector cadence.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 50*time.Millisecond)
}

// GetTelemetryInterval returns the outbound telemetry cadence.
func (c *TuningConfig) GetTelemetryInterval() time.Duration {
	return durationOr(c.TelemetryInterval, time.Second)
}

// GetReceiveInterval returns the relay poll cadence.
func (c *TuningConfig) GetReceiveInterval() time.Duration {
	return durationOr(c.ReceiveInterval, 2*time.Second)
}
