// Package selfstate turns the raw position fixes of our own vehicle into a
// smoothed SelfState stream.
//
// Pipeline per fix:
//
//	PositionFix → validate (finite, in range, monotonic time)
//	            → SpeedEstimator  (Δt window, jump guard, accel clamp, EMA, trimmed mean)
//	            → HeadingEstimator (device course when slow, blended bearing when moving)
//	            → SelfState, appended to a bounded history
//
// The Tracker is not safe for concurrent use; the engine serialises access.
package selfstate
