package vehicle

import "errors"

// Input error taxonomy. None of these halt the pipeline: the offending input
// is dropped and the previous state kept.
var (
	// ErrInvalidFix marks a fix with non-finite or out-of-range coordinates.
	ErrInvalidFix = errors.New("invalid position fix")
	// ErrStaleFix marks a fix older than (or as old as) the last processed one.
	ErrStaleFix = errors.New("stale position fix")
	// ErrMalformedPeerReport marks a peer report with a missing or wrongly
	// typed field.
	ErrMalformedPeerReport = errors.New("malformed peer report")
	// ErrUnreliableSpeedSample marks a fix whose timing is unusable for a
	// speed delta. It is handled inside the speed estimator.
	ErrUnreliableSpeedSample = errors.New("unreliable speed sample")
)
