package main

import (
	"fmt"

	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/spf13/cobra"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := larpix.Ports()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range ports {
				if p.IsUSB {
					fmt.Fprintf(w, "%s\tUSB %s:%s %s\n", p.Name, p.VID, p.PID, p.Serial)
				} else {
					fmt.Fprintf(w, "%s\n", p.Name)
				}
			}
			return nil
		},
	}
}
