package scan

import (
	"context"

	"github.com/itohio/golarpix/pkg/larpix"
)

// MonitorParams selects the channel routed to the analog monitor.
type MonitorParams struct {
	Channel int `yaml:"channel"`
}

// DefaultMonitorParams monitors channel 0.
func DefaultMonitorParams() MonitorParams {
	return MonitorParams{}
}

func (p *MonitorParams) validate() error {
	return validateChannels([]int{p.Channel})
}

// MonitorResult reports the channel left on the analog monitor.
type MonitorResult struct {
	ChipID  uint8 `yaml:"chip_id"`
	Channel int   `yaml:"channel"`
}

// AnalogMonitor connects the CSA output of one channel to the analog
// monitor and disconnects all others. Unlike the scans it leaves the new
// selection on the chip.
func AnalogMonitor(ctx context.Context, s *Session, p MonitorParams) (*MonitorResult, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	s.Chip.Config.MonitorChannel(p.Channel)
	if err := s.write(ctx, larpix.MonitorSelectRegisters()...); err != nil {
		return nil, err
	}
	if err := s.verify(ctx); err != nil {
		return nil, err
	}
	s.logger().Info("Analog monitor connected", "chip", s.Chip.ID, "channel", p.Channel)
	return &MonitorResult{ChipID: s.Chip.ID, Channel: p.Channel}, nil
}
