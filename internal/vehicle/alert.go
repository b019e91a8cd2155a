package vehicle

// HazardClass enumerates the alert categories.
type HazardClass string

const (
	FastBehind    HazardClass = "fast_behind"
	FastOncoming  HazardClass = "fast_oncoming"
	ApproachFast  HazardClass = "approach_fast"
	HairpinBend   HazardClass = "hairpin_bend"
	SharpBend     HazardClass = "sharp_bend"
	CollisionRisk HazardClass = "collision_risk"
)

// Alert is a transient hazard notification for the AlertSink.
type Alert struct {
	Class       HazardClass `json:"class"`
	SubjectID   string      `json:"subject_id,omitempty"`
	Message     string      `json:"message"`
	TimestampMs int64       `json:"timestamp_ms"`
}

// AlertTier is the priority tier of a per-peer proximity alert. Cooldowns
// are tracked per peer and per tier.
type AlertTier int

const (
	TierFastClose AlertTier = 1 // fast vehicle inside the close distance
	TierApproach  AlertTier = 2 // vehicle closing fast inside the warn distance
)
