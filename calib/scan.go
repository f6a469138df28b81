package main

import (
	"fmt"
	"os"

	"github.com/itohio/golarpix/pkg/batch"
	"github.com/itohio/golarpix/pkg/scan"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type scanOptions struct {
	chip       int
	channels   []int
	paramsFile string
}

// scanCommand describes one scan subcommand and the batch handles it runs.
type scanCommand struct {
	use, short string
	handle     string
	alt        string // Handle selected by the --alt flag
	altFlag    string
	altUsage   string
}

var scanCommands = []scanCommand{
	{use: "threshold", short: "Single-channel global threshold scan", handle: "scan_threshold",
		alt: "scan_threshold_with_communication", altFlag: "with-communication", altUsage: "sample by writing the threshold register"},
	{use: "trim", short: "Single-channel trim scan at a fixed threshold", handle: "scan_trim"},
	{use: "simultaneous", short: "All-channels trim scan with noisy channel disabling", handle: "simultaneous_scan_trim",
		alt: "simultaneous_scan_trim_with_communication", altFlag: "with-communication", altUsage: "sample by repeated register writes"},
	{use: "pulse-threshold", short: "Test pulse efficiency scan over the global threshold", handle: "scan_threshold_with_pulse"},
	{use: "pulse-trim", short: "Test pulse efficiency scan over channel trims", handle: "scan_trim_with_pulse"},
	{use: "leakage", short: "Per-channel leakage current rate at a high threshold", handle: "test_leakage_current"},
	{use: "noise", short: "Per-channel ADC noise at a low threshold", handle: "noise_test_low_threshold",
		alt: "noise_test_external_pulser", altFlag: "external", altUsage: "trigger from an external pulser"},
	{use: "cross-trigger", short: "Cross-trigger test driven by the internal pulser", handle: "noise_test_internal_pulser"},
	{use: "min-signal", short: "Smallest test pulse amplitude that triggers reliably", handle: "test_min_signal_amplitude"},
	{use: "threshold-all", short: "Global threshold scan of every chip on the board", handle: "run_threshold_test"},
	{use: "cross-trigger-all", short: "Cross-trigger test of every chip on the board", handle: "noise_test_all_chips"},
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one calibration scan and print its report",
	}
	for _, sc := range scanCommands {
		cmd.AddCommand(newScanSubCmd(sc))
	}
	cmd.AddCommand(newFindCmd())
	return cmd
}

func addScanFlags(cmd *cobra.Command, o *scanOptions) {
	cmd.Flags().IntVar(&o.chip, "chip", 0, "index of the chip on the board")
	cmd.Flags().IntSliceVar(&o.channels, "channels", nil, "channels to scan (default: all)")
	cmd.Flags().StringVar(&o.paramsFile, "params", "", "YAML file with scan parameters")
}

func newScanSubCmd(sc scanCommand) *cobra.Command {
	var (
		o   scanOptions
		alt bool
	)
	cmd := &cobra.Command{
		Use:   sc.use,
		Short: sc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			handle := sc.handle
			if alt {
				handle = sc.alt
			}
			out, err := runHandle(cmd, handle, o, nil)
			if out != nil {
				if perr := printYAML(cmd.OutOrStdout(), out); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	addScanFlags(cmd, &o)
	if sc.alt != "" {
		cmd.Flags().BoolVar(&alt, sc.altFlag, false, sc.altUsage)
	}
	return cmd
}

func newFindCmd() *cobra.Command {
	var (
		o     scanOptions
		apply bool
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Coarse threshold then fine trim scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := runHandle(cmd, "find_channel_thresholds", o, func(b *batch.Board, out any) error {
				th, ok := out.(*scan.Thresholds)
				if !apply || !ok {
					return nil
				}
				s, err := b.Session(o.chip)
				if err != nil {
					return err
				}
				return th.Apply(cmd.Context(), s)
			})
			if out != nil {
				if perr := printYAML(cmd.OutOrStdout(), out); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	addScanFlags(cmd, &o)
	cmd.Flags().BoolVar(&apply, "apply", false, "write the found threshold and trims to the chip")
	return cmd
}

// runHandle builds the batch arguments from flags and the params file and
// runs handle on a freshly opened board. after, if set, runs on success
// before the board is closed.
func runHandle(cmd *cobra.Command, handle string, o scanOptions, after func(*batch.Board, any) error) (out any, err error) {
	args, err := scanArgs(o)
	if err != nil {
		return nil, err
	}
	return runArgs(cmd, handle, args, after)
}

// runArgs runs handle with prepared arguments on a freshly opened board.
func runArgs(cmd *cobra.Command, handle string, args *yaml.Node, after func(*batch.Board, any) error) (out any, err error) {
	h, ok := batch.DefaultRegistry()[handle]
	if !ok {
		return nil, fmt.Errorf("unknown procedure %q", handle)
	}

	board, closeBoard, err := openBoard()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closeBoard(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	out, err = h(cmd.Context(), board, args)
	if err != nil || after == nil {
		return out, err
	}
	return out, after(board, out)
}

func scanArgs(o scanOptions) (*yaml.Node, error) {
	args := map[string]any{}
	if o.paramsFile != "" {
		data, err := os.ReadFile(o.paramsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read params: %w", err)
		}
		if err := yaml.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("failed to parse params: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	args["chip_idx"] = o.chip
	if len(o.channels) > 0 {
		args["channel_list"] = o.channels
	}

	var node yaml.Node
	if err := node.Encode(args); err != nil {
		return nil, err
	}
	return &node, nil
}
