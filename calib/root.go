package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/itohio/golarpix/pkg/batch"
	"github.com/itohio/golarpix/pkg/config"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	configFile string
	port       string
	mock       bool
	verbose    bool
}

var (
	opts    rootOptions
	rootCmd = &cobra.Command{
		Use:   "calib",
		Short: "Calibrate LArPix channel thresholds",
		Long: `Calib sweeps LArPix channel thresholds and trims to find where each
channel starts triggering on noise or on injected test pulses.

Examples:
  calib scan threshold --channels 0,1,2   # Coarse global threshold scan
  calib scan find --apply                  # Coarse then fine scan, write the result
  calib --mock scan simultaneous           # Run against the simulator
  calib monitor 5                          # Route channel 5 to the analog monitor
  calib batch standard_tests.yaml          # Run a batch description
  calib ports                              # List serial ports`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&opts.port, "port", "p", "", "serial port override (e.g., COM3 or /dev/ttyUSB1)")
	rootCmd.PersistentFlags().BoolVar(&opts.mock, "mock", false, "use the simulated board instead of a serial port")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug output")

	rootCmd.AddCommand(newScanCmd(), newMonitorCmd(), newBatchCmd(), newPortsCmd())
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	if opts.port != "" {
		cfg.Serial.Port = opts.port
	}
	level := cfg.Logging.Level
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openBoard connects to the configured board. The returned close function
// must be called when done.
func openBoard() (*batch.Board, func() error, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}

	chips := make([]*larpix.Chip, 0, len(cfg.Chips))
	ids := make([]uint8, 0, len(cfg.Chips))
	for _, c := range cfg.Chips {
		chips = append(chips, larpix.NewChip(uint8(c.ID), uint8(c.IOChain)))
		ids = append(ids, uint8(c.ID))
	}
	board := &batch.Board{
		Chips:  chips,
		Timing: cfg.Timing,
		Log:    logging.Component(logger, "scan"),
	}

	if opts.mock {
		logger.Info("Using simulated board", "chips", ids)
		board.Device = larpix.NewMock(&cfg.Mock, ids...)
		return board, func() error { return nil }, nil
	}

	dev := larpix.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.BufferSize, logging.Component(logger, "serial"))
	dev.SetConfigReadTimeout(cfg.Timing.ConfigReadTimeout)
	if err := dev.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", cfg.Serial.Port, err)
	}
	logger.Info("Connected", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate)
	board.Device = dev
	return board, dev.Close, nil
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
