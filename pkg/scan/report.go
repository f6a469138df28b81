package scan

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/golarpix/pkg/stats"
)

// Kind names the scan that produced a report.
type Kind string

const (
	KindThreshold        Kind = "threshold"
	KindTrim             Kind = "trim"
	KindSimultaneousTrim Kind = "simultaneous_trim"
	KindPulseThreshold   Kind = "pulse_threshold"
	KindPulseTrim        Kind = "pulse_trim"
	KindMinSignal        Kind = "min_signal_amplitude"
)

// SweepPoint is one measurement of a channel at one parameter value.
type SweepPoint struct {
	Value      int     `yaml:"value"`
	Count      int     `yaml:"count"`
	Mean       float64 `yaml:"mean"`
	RMS        float64 `yaml:"rms"`
	Pulses     int     `yaml:"pulses,omitempty"`
	Efficiency float64 `yaml:"efficiency,omitempty"`
	Disabling  bool    `yaml:"disabling,omitempty"` // The value at which the channel was found noisy
}

func newPoint(value int, s stats.Summary) SweepPoint {
	return SweepPoint{Value: value, Count: s.Count, Mean: s.Mean, RMS: s.RMS}
}

// OutcomeKind tags a ChannelOutcome.
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	NeverSaturated
	AlwaysSaturated
	Disabled
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case NeverSaturated:
		return "never_saturated"
	case AlwaysSaturated:
		return "always_saturated"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// MarshalYAML writes the outcome kind by name.
func (k OutcomeKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// ChannelOutcome is the final state of one channel.
//
// Value and Count hold the saturation point for Completed, the first point
// for AlwaysSaturated and the disabling point for Disabled. A Masked
// Completed outcome keeps its saturation point; the disabling point is the
// last entry of the history.
type ChannelOutcome struct {
	Kind          OutcomeKind `yaml:"kind"`
	Value         int         `yaml:"value"`
	Count         int         `yaml:"count"`
	Reason        string      `yaml:"reason,omitempty"`
	OverTriggered bool        `yaml:"over_triggered,omitempty"`
	Masked        bool        `yaml:"masked,omitempty"` // Completed, then masked off as noisy
}

// Classify derives the outcome of a count-based sweep history.
func Classify(points []SweepPoint, saturation int) ChannelOutcome {
	return classify(points, func(p SweepPoint) bool { return p.Count >= saturation })
}

// classifyEfficiency derives the outcome of a pulse sweep history.
func classifyEfficiency(points []SweepPoint, minEfficiency float64) ChannelOutcome {
	return classify(points, func(p SweepPoint) bool { return p.Efficiency >= minEfficiency })
}

func classify(points []SweepPoint, reached func(SweepPoint) bool) ChannelOutcome {
	for i, p := range points {
		if !reached(p) {
			continue
		}
		kind := Completed
		if i == 0 {
			kind = AlwaysSaturated
		}
		return ChannelOutcome{Kind: kind, Value: p.Value, Count: p.Count}
	}
	return ChannelOutcome{Kind: NeverSaturated}
}

// ChannelResult is the sweep history and outcome of one channel.
type ChannelResult struct {
	Channel int            `yaml:"channel"`
	Points  []SweepPoint   `yaml:"points"`
	Outcome ChannelOutcome `yaml:"outcome"`
}

// Last returns the most recent point, or false when nothing was recorded.
func (r *ChannelResult) Last() (SweepPoint, bool) {
	if len(r.Points) == 0 {
		return SweepPoint{}, false
	}
	return r.Points[len(r.Points)-1], true
}

// GlobalMean is a mean over completed channels. Defined is false when no
// channel completed.
type GlobalMean struct {
	Value   float64 `yaml:"value"`
	Defined bool    `yaml:"defined"`
}

func globalMean(values []int) GlobalMean {
	if len(values) == 0 {
		return GlobalMean{}
	}
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	return GlobalMean{Value: stats.Summarize(f).Mean, Defined: true}
}

// Report is the assembled result of one scan call.
type Report struct {
	RunID       uuid.UUID              `yaml:"run_id"`
	Kind        Kind                   `yaml:"kind"`
	ChipID      uint8                  `yaml:"chip_id"`
	Started     time.Time              `yaml:"started"`
	Elapsed     time.Duration          `yaml:"elapsed"`
	Channels    map[int]*ChannelResult `yaml:"channels"`
	Recommended GlobalMean             `yaml:"recommended"` // Mean saturation value of completed channels
}

func newReport(kind Kind, chipID uint8) *Report {
	return &Report{
		RunID:    uuid.New(),
		Kind:     kind,
		ChipID:   chipID,
		Started:  time.Now(),
		Channels: make(map[int]*ChannelResult),
	}
}

// finish computes the recommended value from the completed channels.
func (r *Report) finish() {
	r.Elapsed = time.Since(r.Started)
	var values []int
	for _, ch := range r.ChannelIDs() {
		if o := r.Channels[ch].Outcome; o.Kind == Completed {
			values = append(values, o.Value)
		}
	}
	r.Recommended = globalMean(values)
}

// ChannelIDs returns the scanned channels in ascending order.
func (r *Report) ChannelIDs() []int {
	return slices.Sorted(maps.Keys(r.Channels))
}

func (r *Report) channelsWith(kind OutcomeKind) []int {
	var out []int
	for _, ch := range r.ChannelIDs() {
		if r.Channels[ch].Outcome.Kind == kind {
			out = append(out, ch)
		}
	}
	return out
}

// Completed returns the saturation value of every completed channel.
func (r *Report) Completed() map[int]int {
	out := make(map[int]int)
	for _, ch := range r.channelsWith(Completed) {
		out[ch] = r.Channels[ch].Outcome.Value
	}
	return out
}

// TooHigh returns the channels already saturated at the first value.
func (r *Report) TooHigh() []int {
	return r.channelsWith(AlwaysSaturated)
}

// TooLow returns the channels that never reached saturation.
func (r *Report) TooLow() []int {
	return r.channelsWith(NeverSaturated)
}

// Disabled returns the channels masked off as noisy, whether or not they
// had completed first.
func (r *Report) Disabled() []int {
	var out []int
	for _, ch := range r.ChannelIDs() {
		if o := r.Channels[ch].Outcome; o.Kind == Disabled || o.Masked {
			out = append(out, ch)
		}
	}
	return out
}
