package hazard

import (
	"fmt"
	"math"
)

func meters(d float64) int { return int(math.Round(d)) }

func fastBehindMessage(d float64) string {
	return fmt.Sprintf("Warning! Fast vehicle %d meters behind you", meters(d))
}

func fastOncomingMessage(d float64) string {
	return fmt.Sprintf("Warning! Oncoming vehicle %d meters ahead", meters(d))
}

func approachBehindMessage(d float64) string {
	return fmt.Sprintf("Fast approaching vehicle from behind, %d meters", meters(d))
}

func approachOncomingMessage(d float64) string {
	return fmt.Sprintf("Fast oncoming vehicle, %d meters ahead", meters(d))
}

func bendMessage(hairpin, opposing bool) string {
	msg := "Sharp bend ahead"
	if hairpin {
		msg = "Hairpin bend ahead"
	}
	if opposing {
		msg += " with opposing traffic"
	}
	return msg
}

func collisionMessage(ttc float64) string {
	return fmt.Sprintf("Warning! High collision risk %d seconds ahead", int(math.Round(ttc)))
}
