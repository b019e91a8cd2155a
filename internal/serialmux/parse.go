package serialmux

import (
	"strings"

	"github.com/banshee-data/roadsense/internal/gnss"
)

const (
	EventTypeFix     = "RMC"
	EventTypeQuality = "GGA"
	EventTypeAck     = "ack"
	EventTypeNMEA    = "nmea"
	EventTypeUnknown = "unknown"
)

// ClassifyLine inspects a line from the receiver and returns an event type
// token. Lines failing the checksum are unknown.
func ClassifyLine(line string) string {
	s, err := gnss.Parse(line)
	if err != nil {
		return EventTypeUnknown
	}
	switch {
	case s.Type == "RMC":
		return EventTypeFix
	case s.Type == "GGA":
		return EventTypeQuality
	case s.Talker == "P" && strings.HasPrefix(s.Type, "MTK001"):
		return EventTypeAck
	}
	return EventTypeNMEA
}
