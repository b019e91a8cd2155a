package peerlink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// replayAccuracyM is the accuracy assigned to self fixes rebuilt from
// captured telemetry, which carries none.
const replayAccuracyM = 5

// ReplayStats summarises a capture replay.
type ReplayStats struct {
	PCAP       PCAPStats `json:"pcap"`
	SelfFixes  int       `json:"self_fixes"`
	PeerPolls  int       `json:"peer_polls"`
	Ticks      int       `json:"ticks"`
	Alerts     int       `json:"alerts"`
	BadPayload int       `json:"bad_payload"`
}

// Replay feeds a captured session through e, ticking at e's tick interval on
// the capture's own timeline. Datagrams from e's vehicle id become self
// fixes; everything else is ingested as peer telemetry. clock must be the
// clock e was built with. Alerts are handed to sink as they fire.
func Replay(ctx context.Context, r io.Reader, port int, e *engine.Engine, clock *timeutil.MockClock, tick time.Duration, sink engine.AlertSink) (ReplayStats, error) {
	var stats ReplayStats
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	var next time.Time

	advance := func(to time.Time) {
		if next.IsZero() {
			next = to
		}
		for !next.After(to) {
			clock.Set(next)
			res := e.Tick(next.UnixMilli())
			stats.Ticks++
			for _, a := range res.Alerts {
				stats.Alerts++
				if sink != nil {
					sink.Emit(a)
				}
			}
			next = next.Add(tick)
		}
		clock.Set(to)
	}

	pcapStats, err := ReadPCAP(ctx, r, port, func(d Datagram) error {
		advance(d.Timestamp)

		var raw map[string]any
		if err := json.Unmarshal(d.Payload, &raw); err != nil {
			stats.BadPayload++
			return nil
		}
		if id, _ := raw["i"].(string); id != "" && id == e.VehicleID() {
			rep, err := vehicle.ParsePeerReport(raw)
			if err != nil {
				stats.BadPayload++
				return nil
			}
			if _, err := e.IngestSelfFix(fixFromReport(rep, d.Timestamp)); err == nil {
				stats.SelfFixes++
			}
			return nil
		}
		if err := e.IngestPeerPayload(d.Payload); err != nil {
			stats.BadPayload++
		}
		stats.PeerPolls++
		return nil
	})
	stats.PCAP = pcapStats
	if err != nil {
		return stats, fmt.Errorf("replay: %w", err)
	}
	monitoring.Logf("peerlink: replayed %d datagrams, %d ticks, %d alerts", pcapStats.Datagrams, stats.Ticks, stats.Alerts)
	return stats, nil
}

func fixFromReport(rep vehicle.PeerReport, ts time.Time) vehicle.PositionFix {
	speed := rep.SpeedKmh
	heading := rep.HeadingDeg
	return vehicle.PositionFix{
		Latitude:           rep.Latitude,
		Longitude:          rep.Longitude,
		AccuracyMeters:     replayAccuracyM,
		TimestampMs:        ts.UnixMilli(),
		ReportedSpeedKmh:   &speed,
		ReportedHeadingDeg: &heading,
	}
}
