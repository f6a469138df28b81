package scan

// Decision is the per-channel verdict for one sampling window.
type Decision int

const (
	// Continue keeps sweeping the channel.
	Continue Decision = iota
	// Complete marks the target rate as reached.
	Complete
	// Disable marks the channel as noisy.
	Disable
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Disable:
		return "disable"
	}
	return "unknown"
}

// Decide classifies an event count against the saturation level and the
// noise ceiling. A non-positive ceiling disables the noise check. Disable
// takes precedence over Complete.
func Decide(count, saturation, noiseCeiling int) Decision {
	if noiseCeiling > 0 && count > noiseCeiling {
		return Disable
	}
	if count >= saturation {
		return Complete
	}
	return Continue
}
