package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/itohio/golarpix/pkg/batch"
	"github.com/itohio/golarpix/pkg/logging"
	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Run a batch description of calibration procedures",
		Long: `Run a YAML or JSON list of {handle, args} records in order.

Unknown handles are skipped. When a procedure fails you are asked whether to
continue, unless --keep-going is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			entries, err := batch.Load(args[0])
			if err != nil {
				return err
			}

			board, closeBoard, err := openBoard()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeBoard(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			r := &batch.Runner{
				Board: board,
				Log:   logging.Component(board.Log, "batch"),
			}
			if keepGoing {
				r.Continue = func(batch.Entry, error) bool { return true }
			} else {
				r.Continue = prompt(cmd.InOrStdin(), cmd.ErrOrStderr())
			}

			results, runErr := r.Run(cmd.Context(), entries)
			if err := printYAML(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue after failed procedures without asking")
	return cmd
}

// prompt asks on w whether to continue after a failure and reads a y/n
// answer from r. Anything but yes stops the batch.
func prompt(r io.Reader, w io.Writer) func(batch.Entry, error) bool {
	in := bufio.NewScanner(r)
	return func(e batch.Entry, err error) bool {
		fmt.Fprintf(w, "%s failed: %v\nContinue? (y/n) ", e.Handle, err)
		if !in.Scan() {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "y", "yes":
			return true
		}
		return false
	}
}
