package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/golarpix/pkg/larpix"
)

// ErrInvalidParams is returned when scan parameters are inconsistent.
var ErrInvalidParams = errors.New("scan: invalid parameters")

// Seconds is a duration given in (fractional) seconds, as batch files do.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// AllChannels returns every channel index of a chip.
func AllChannels() []int {
	ch := make([]int, larpix.NumChannels)
	for i := range ch {
		ch[i] = i
	}
	return ch
}

// ThresholdParams configures a single-channel global threshold sweep.
type ThresholdParams struct {
	ChannelList       []int   `yaml:"channel_list"`
	ThresholdMin      int     `yaml:"threshold_min_coarse"`
	ThresholdMax      int     `yaml:"threshold_max_coarse"`
	ThresholdStep     int     `yaml:"threshold_step_coarse"`
	SaturationLevel   int     `yaml:"saturation_level"`
	RunTime           Seconds `yaml:"run_time"`
	WithCommunication bool    `yaml:"with_communication"` // Sample by write-read of the threshold register
}

// DefaultThresholdParams returns the parameters of a standard coarse scan.
func DefaultThresholdParams() ThresholdParams {
	return ThresholdParams{
		ChannelList:     AllChannels(),
		ThresholdMin:    26,
		ThresholdMax:    37,
		ThresholdStep:   1,
		SaturationLevel: 1000,
		RunTime:         0.1,
	}
}

func (p *ThresholdParams) validate() error {
	return errors.Join(
		validateChannels(p.ChannelList),
		validateRange("threshold", p.ThresholdMin, p.ThresholdMax, p.ThresholdStep, 255),
		positive("saturation_level", p.SaturationLevel),
		positive("run_time", p.RunTime),
	)
}

// TrimParams configures a single-channel trim sweep at a fixed global threshold.
type TrimParams struct {
	ChannelList     []int   `yaml:"channel_list"`
	TrimMin         int     `yaml:"trim_min"`
	TrimMax         int     `yaml:"trim_max"`
	TrimStep        int     `yaml:"trim_step"`
	SaturationLevel int     `yaml:"saturation_level"`
	GlobalThreshold int     `yaml:"global_threshold"`
	ResetCycles     int     `yaml:"reset_cycles"`
	RunTime         Seconds `yaml:"run_time"`
}

// DefaultTrimParams returns the parameters of a standard fine scan.
func DefaultTrimParams() TrimParams {
	return TrimParams{
		ChannelList:     AllChannels(),
		TrimMin:         0,
		TrimMax:         larpix.MaxTrim,
		TrimStep:        1,
		SaturationLevel: 1000,
		GlobalThreshold: 30,
		ResetCycles:     4092,
		RunTime:         0.1,
	}
}

func (p *TrimParams) validate() error {
	return errors.Join(
		validateChannels(p.ChannelList),
		validateRange("trim", p.TrimMin, p.TrimMax, p.TrimStep, larpix.MaxTrim),
		positive("saturation_level", p.SaturationLevel),
		inRange("global_threshold", p.GlobalThreshold, 0, 255),
		inRange("reset_cycles", p.ResetCycles, 0, larpix.MaxResetCycles),
		positive("run_time", p.RunTime),
	)
}

// SimultaneousParams configures the all-channels trim sweep.
type SimultaneousParams struct {
	ChannelList     []int   `yaml:"channel_list"`
	TrimMin         int     `yaml:"trim_min"`
	TrimMax         int     `yaml:"trim_max"`
	TrimStep        int     `yaml:"trim_step"`
	SaturationLevel int     `yaml:"saturation_level"`
	MaxLevel        int     `yaml:"max_level"` // Noise ceiling; channels above it are disabled
	Writes          int     `yaml:"writes"`    // Write-read cycles per step; zero samples passively
	GlobalThreshold int     `yaml:"global_threshold"`
	ResetCycles     int     `yaml:"reset_cycles"`
	RunTime         Seconds `yaml:"run_time"`
}

// DefaultSimultaneousParams returns the passive capture defaults.
func DefaultSimultaneousParams() SimultaneousParams {
	return SimultaneousParams{
		ChannelList:     AllChannels(),
		TrimMin:         0,
		TrimMax:         larpix.MaxTrim,
		TrimStep:        1,
		SaturationLevel: 1000,
		MaxLevel:        1200,
		GlobalThreshold: 30,
		ResetCycles:     4092,
		RunTime:         0.1,
	}
}

// DefaultSimultaneousWithCommunicationParams returns the write-read defaults.
func DefaultSimultaneousWithCommunicationParams() SimultaneousParams {
	p := DefaultSimultaneousParams()
	p.SaturationLevel = 10
	p.MaxLevel = 100
	p.Writes = 100
	return p
}

func (p *SimultaneousParams) validate() error {
	var ceiling error
	if p.MaxLevel < p.SaturationLevel {
		ceiling = fmt.Errorf("%w: max_level %d below saturation_level %d", ErrInvalidParams, p.MaxLevel, p.SaturationLevel)
	}
	return errors.Join(
		validateChannels(p.ChannelList),
		validateRange("trim", p.TrimMin, p.TrimMax, p.TrimStep, larpix.MaxTrim),
		positive("saturation_level", p.SaturationLevel),
		ceiling,
		inRange("writes", p.Writes, 0, 1<<20),
		inRange("global_threshold", p.GlobalThreshold, 0, 255),
		inRange("reset_cycles", p.ResetCycles, 0, larpix.MaxResetCycles),
		positive("run_time", p.RunTime),
	)
}

// PulseParams holds the test pulse settings shared by pulse sweeps.
type PulseParams struct {
	ChannelList             []int   `yaml:"channel_list"`
	NPulses                 int     `yaml:"n_pulses"`
	DACPulse                int     `yaml:"dac_pulse"` // DAC decrement per pulse
	TestpulseDACMax         int     `yaml:"testpulse_dac_max"`
	TestpulseDACMin         int     `yaml:"testpulse_dac_min"`
	MinAcceptableEfficiency float64 `yaml:"min_acceptable_efficiency"`
	MaxAcceptableEfficiency float64 `yaml:"max_acceptable_efficiency"`
	ResetCycles             int     `yaml:"reset_cycles"`
	PulseWindow             Seconds `yaml:"pulse_window"` // Write-read window after each pulse
	SettleTime              Seconds `yaml:"settle_time"`  // Front-end settle after a DAC reset
}

func defaultPulseParams() PulseParams {
	return PulseParams{
		ChannelList:             AllChannels(),
		NPulses:                 100,
		DACPulse:                6,
		TestpulseDACMax:         235,
		TestpulseDACMin:         229,
		MinAcceptableEfficiency: 0.5,
		MaxAcceptableEfficiency: 1.5,
		ResetCycles:             4096,
		PulseWindow:             0.1,
		SettleTime:              0.1,
	}
}

func (p *PulseParams) validate() error {
	var dac error
	if p.TestpulseDACMax < p.TestpulseDACMin+p.DACPulse {
		dac = fmt.Errorf("%w: testpulse_dac_max %d leaves no room for a %d step above %d",
			ErrInvalidParams, p.TestpulseDACMax, p.DACPulse, p.TestpulseDACMin)
	}
	var eff error
	if p.MinAcceptableEfficiency <= 0 || p.MaxAcceptableEfficiency < p.MinAcceptableEfficiency {
		eff = fmt.Errorf("%w: efficiency window [%g, %g]", ErrInvalidParams, p.MinAcceptableEfficiency, p.MaxAcceptableEfficiency)
	}
	return errors.Join(
		validateChannels(p.ChannelList),
		positive("n_pulses", p.NPulses),
		positive("dac_pulse", p.DACPulse),
		inRange("testpulse_dac_max", p.TestpulseDACMax, 0, 255),
		inRange("testpulse_dac_min", p.TestpulseDACMin, 0, 255),
		dac,
		eff,
		inRange("reset_cycles", p.ResetCycles, 0, larpix.MaxResetCycles),
		positive("pulse_window", p.PulseWindow),
	)
}

// PulseThresholdParams configures the pulse efficiency sweep over the global threshold.
type PulseThresholdParams struct {
	PulseParams   `yaml:",inline"`
	ThresholdMax  int `yaml:"threshold_max"`
	ThresholdMin  int `yaml:"threshold_min"`
	ThresholdStep int `yaml:"threshold_step"`
}

// DefaultPulseThresholdParams returns the standard pulse threshold sweep.
func DefaultPulseThresholdParams() PulseThresholdParams {
	return PulseThresholdParams{
		PulseParams:   defaultPulseParams(),
		ThresholdMax:  40,
		ThresholdMin:  20,
		ThresholdStep: 1,
	}
}

func (p *PulseThresholdParams) validate() error {
	return errors.Join(
		p.PulseParams.validate(),
		validateRange("threshold", p.ThresholdMin, p.ThresholdMax, p.ThresholdStep, 255),
	)
}

// PulseTrimParams configures the pulse efficiency sweep over channel trims.
type PulseTrimParams struct {
	PulseParams `yaml:",inline"`
	TrimMax     int `yaml:"trim_max"`
	TrimMin     int `yaml:"trim_min"`
	TrimStep    int `yaml:"trim_step"`
	Threshold   int `yaml:"threshold"` // Global threshold held during the sweep
}

// DefaultPulseTrimParams returns the standard pulse trim sweep.
func DefaultPulseTrimParams() PulseTrimParams {
	return PulseTrimParams{
		PulseParams: defaultPulseParams(),
		TrimMax:     larpix.MaxTrim,
		TrimMin:     0,
		TrimStep:    1,
		Threshold:   40,
	}
}

func (p *PulseTrimParams) validate() error {
	return errors.Join(
		p.PulseParams.validate(),
		validateRange("trim", p.TrimMin, p.TrimMax, p.TrimStep, larpix.MaxTrim),
		inRange("threshold", p.Threshold, 0, 255),
	)
}

// MinSignalParams configures the test pulse amplitude sweep.
type MinSignalParams struct {
	ChannelList          []int   `yaml:"channel_list"`
	Threshold            int     `yaml:"threshold"`
	Trim                 []int   `yaml:"trim"` // One value for every channel, or one per channel index
	ThresholdTriggerRate float64 `yaml:"threshold_trigger_rate"`
	MaxTriggerRate       float64 `yaml:"max_trigger_rate"`
	NPulses              int     `yaml:"n_pulses"`
	MinDACAmp            int     `yaml:"min_dac_amp"`
	MaxDACAmp            int     `yaml:"max_dac_amp"`
	DACStep              int     `yaml:"dac_step"`
	TestpulseDACMax      int     `yaml:"testpulse_dac_max"`
	TestpulseDACMin      int     `yaml:"testpulse_dac_min"`
	ResetCycles          int     `yaml:"reset_cycles"`
	PulseWindow          Seconds `yaml:"pulse_window"`
	SettleTime           Seconds `yaml:"settle_time"`
}

// DefaultMinSignalParams returns the standard amplitude sweep.
func DefaultMinSignalParams() MinSignalParams {
	trim := make([]int, larpix.NumChannels)
	for i := range trim {
		trim[i] = 16
	}
	return MinSignalParams{
		ChannelList:          AllChannels(),
		Threshold:            40,
		Trim:                 trim,
		ThresholdTriggerRate: 0.9,
		MaxTriggerRate:       1.5,
		NPulses:              100,
		MinDACAmp:            1,
		MaxDACAmp:            20,
		DACStep:              1,
		TestpulseDACMax:      235,
		TestpulseDACMin:      40,
		ResetCycles:          4096,
		PulseWindow:          0.1,
		SettleTime:           1,
	}
}

// pulse returns the shared pulse settings. DACPulse carries the largest
// amplitude so that the DAC room check covers every step.
func (p *MinSignalParams) pulse() PulseParams {
	return PulseParams{
		ChannelList:             p.ChannelList,
		NPulses:                 p.NPulses,
		DACPulse:                p.MaxDACAmp,
		TestpulseDACMax:         p.TestpulseDACMax,
		TestpulseDACMin:         p.TestpulseDACMin,
		MinAcceptableEfficiency: p.ThresholdTriggerRate,
		MaxAcceptableEfficiency: p.MaxTriggerRate,
		ResetCycles:             p.ResetCycles,
		PulseWindow:             p.PulseWindow,
		SettleTime:              p.SettleTime,
	}
}

// trimFor returns the trim held on channel during the sweep.
func (p *MinSignalParams) trimFor(channel int) int {
	if len(p.Trim) == 1 {
		return p.Trim[0]
	}
	return p.Trim[channel]
}

func (p *MinSignalParams) validate() error {
	var trim error
	switch len(p.Trim) {
	case 1, larpix.NumChannels:
		for _, t := range p.Trim {
			if err := inRange("trim", t, 0, larpix.MaxTrim); err != nil {
				trim = err
				break
			}
		}
	default:
		trim = fmt.Errorf("%w: trim needs 1 or %d values, got %d", ErrInvalidParams, larpix.NumChannels, len(p.Trim))
	}
	pulse := p.pulse()
	return errors.Join(
		pulse.validate(),
		validateRange("dac_amp", p.MinDACAmp, p.MaxDACAmp, p.DACStep, 255),
		positive("min_dac_amp", p.MinDACAmp),
		inRange("threshold", p.Threshold, 0, 255),
		trim,
	)
}

// FindParams configures the coarse then fine threshold search.
type FindParams struct {
	ChannelList         []int   `yaml:"channel_list"`
	SaturationLevel     int     `yaml:"saturation_level"`
	ThresholdMinCoarse  int     `yaml:"threshold_min_coarse"`
	ThresholdMaxCoarse  int     `yaml:"threshold_max_coarse"`
	ThresholdStepCoarse int     `yaml:"threshold_step_coarse"`
	TrimMin             int     `yaml:"trim_min"`
	TrimMax             int     `yaml:"trim_max"`
	TrimStep            int     `yaml:"trim_step"`
	ResetCycles         int     `yaml:"reset_cycles"`
	RunTime             Seconds `yaml:"run_time"`
}

// DefaultFindParams returns the standard threshold search.
func DefaultFindParams() FindParams {
	return FindParams{
		ChannelList:         AllChannels(),
		SaturationLevel:     1000,
		ThresholdMinCoarse:  20,
		ThresholdMaxCoarse:  40,
		ThresholdStepCoarse: 1,
		TrimMin:             0,
		TrimMax:             larpix.MaxTrim,
		TrimStep:            1,
		ResetCycles:         4092,
		RunTime:             0.1,
	}
}

// LeakageParams configures the high threshold leakage rate test.
type LeakageParams struct {
	ChannelList     []int   `yaml:"channel_list"`
	ResetCycles     int     `yaml:"reset_cycles"` // Zero disables the periodic reset
	GlobalThreshold int     `yaml:"global_threshold"`
	Trim            int     `yaml:"trim"`
	RunTime         Seconds `yaml:"run_time"`
}

// DefaultLeakageParams returns the standard leakage test.
func DefaultLeakageParams() LeakageParams {
	return LeakageParams{
		ChannelList:     AllChannels(),
		ResetCycles:     4096,
		GlobalThreshold: 125,
		Trim:            16,
		RunTime:         1,
	}
}

func (p *LeakageParams) validate() error {
	return errors.Join(
		validateChannels(p.ChannelList),
		inRange("reset_cycles", p.ResetCycles, 0, larpix.MaxResetCycles),
		inRange("global_threshold", p.GlobalThreshold, 0, 255),
		inRange("trim", p.Trim, 0, larpix.MaxTrim),
		positive("run_time", p.RunTime),
	)
}

// NoiseParams configures the per-channel ADC width test.
type NoiseParams struct {
	ChannelList     []int   `yaml:"channel_list"`
	GlobalThreshold int     `yaml:"global_threshold"`
	RunTime         Seconds `yaml:"run_time"`
	ExternalTrigger bool    `yaml:"external_trigger"` // Enable the channel's external trigger too
}

// DefaultLowThresholdNoiseParams returns the self-triggered noise test.
func DefaultLowThresholdNoiseParams() NoiseParams {
	return NoiseParams{
		ChannelList:     AllChannels(),
		GlobalThreshold: 0,
		RunTime:         1,
	}
}

// DefaultExternalPulserNoiseParams returns the externally triggered noise test.
func DefaultExternalPulserNoiseParams() NoiseParams {
	return NoiseParams{
		ChannelList:     AllChannels(),
		GlobalThreshold: 200,
		RunTime:         10,
		ExternalTrigger: true,
	}
}

func (p *NoiseParams) validate() error {
	return errors.Join(
		validateChannels(p.ChannelList),
		inRange("global_threshold", p.GlobalThreshold, 0, 255),
		positive("run_time", p.RunTime),
	)
}

// CrossTriggerParams configures the internal pulser cross-trigger test.
type CrossTriggerParams struct {
	NPulses         int     `yaml:"n_pulses"`
	PulseChannel    int     `yaml:"pulse_channel"`
	PulseDAC        int     `yaml:"pulse_dac"`
	Threshold       int     `yaml:"threshold"`
	TestpulseDACMax int     `yaml:"testpulse_dac_max"`
	TestpulseDACMin int     `yaml:"testpulse_dac_min"`
	Trim            int     `yaml:"trim"`
	ResetCycles     int     `yaml:"reset_cycles"`
	CSARecoveryTime Seconds `yaml:"csa_recovery_time"`
	ResetDACTime    Seconds `yaml:"reset_dac_time"`
	PulseWindow     Seconds `yaml:"pulse_window"`
}

// DefaultCrossTriggerParams returns the standard internal pulser test.
func DefaultCrossTriggerParams() CrossTriggerParams {
	return CrossTriggerParams{
		NPulses:         1000,
		PulseChannel:    0,
		PulseDAC:        6,
		Threshold:       40,
		TestpulseDACMax: 235,
		TestpulseDACMin: 40,
		Trim:            0,
		ResetCycles:     4096,
		CSARecoveryTime: 0.1,
		ResetDACTime:    1,
		PulseWindow:     0.1,
	}
}

func (p *CrossTriggerParams) validate() error {
	var dac error
	if p.TestpulseDACMax < p.TestpulseDACMin+p.PulseDAC {
		dac = fmt.Errorf("%w: testpulse_dac_max %d leaves no room for a %d step above %d",
			ErrInvalidParams, p.TestpulseDACMax, p.PulseDAC, p.TestpulseDACMin)
	}
	return errors.Join(
		positive("n_pulses", p.NPulses),
		validateChannels([]int{p.PulseChannel}),
		positive("pulse_dac", p.PulseDAC),
		inRange("threshold", p.Threshold, 0, 255),
		inRange("testpulse_dac_max", p.TestpulseDACMax, 0, 255),
		inRange("testpulse_dac_min", p.TestpulseDACMin, 0, 255),
		dac,
		inRange("trim", p.Trim, 0, larpix.MaxTrim),
		inRange("reset_cycles", p.ResetCycles, 0, larpix.MaxResetCycles),
		positive("pulse_window", p.PulseWindow),
	)
}

func validateChannels(channels []int) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: empty channel_list", ErrInvalidParams)
	}
	seen := make(map[int]bool, len(channels))
	for _, ch := range channels {
		if ch < 0 || ch >= larpix.NumChannels {
			return fmt.Errorf("%w: channel %d out of range", ErrInvalidParams, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%w: channel %d listed twice", ErrInvalidParams, ch)
		}
		seen[ch] = true
	}
	return nil
}

func validateRange(name string, lo, hi, step, limit int) error {
	switch {
	case step <= 0:
		return fmt.Errorf("%w: %s step must be positive, got %d", ErrInvalidParams, name, step)
	case lo < 0 || hi > limit:
		return fmt.Errorf("%w: %s range [%d, %d] outside [0, %d]", ErrInvalidParams, name, lo, hi, limit)
	case lo > hi:
		return fmt.Errorf("%w: %s min %d above max %d", ErrInvalidParams, name, lo, hi)
	}
	return nil
}

func inRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d outside [%d, %d]", ErrInvalidParams, name, v, lo, hi)
	}
	return nil
}

func positive[T int | Seconds](name string, v T) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidParams, name)
	}
	return nil
}

// risingValues lists lo up to hi in step increments.
func risingValues(lo, hi, step int) []int {
	var values []int
	for v := lo; v <= hi; v += step {
		values = append(values, v)
	}
	return values
}

// sweepValues lists hi down to lo in step decrements.
func sweepValues(lo, hi, step int) []int {
	var values []int
	for v := hi; v >= lo; v -= step {
		values = append(values, v)
	}
	return values
}
