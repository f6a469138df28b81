package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMonitorCmd() *cobra.Command {
	var chip int
	cmd := &cobra.Command{
		Use:   "monitor <channel>",
		Short: "Route one channel to the analog monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel %q: %w", args[0], err)
			}
			var node yaml.Node
			if err := node.Encode(map[string]int{"chip_idx": chip, "channel": ch}); err != nil {
				return err
			}
			out, err := runArgs(cmd, "analog_monitor", &node, nil)
			if out != nil {
				if perr := printYAML(cmd.OutOrStdout(), out); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&chip, "chip", 0, "index of the chip on the board")
	return cmd
}
