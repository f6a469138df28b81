package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/itohio/golarpix/pkg/logging"
)

// Result is the outcome of one batch entry.
type Result struct {
	Handle  string        `yaml:"handle"`
	Skipped bool          `yaml:"skipped,omitempty"`
	Output  any           `yaml:"output,omitempty"`
	Error   string        `yaml:"error,omitempty"`
	Elapsed time.Duration `yaml:"elapsed"`
	Err     error         `yaml:"-"`
}

// Runner executes batch entries in order.
type Runner struct {
	Registry Registry
	Board    *Board
	// Continue decides whether to go on after a failed entry. A nil
	// Continue stops at the first failure.
	Continue func(e Entry, err error) bool
	Log      *log.Logger
}

// Run executes entries in order. Unknown handles are skipped. It returns the
// results collected so far and, when the batch stopped early, the error of
// the entry that stopped it.
func (r *Runner) Run(ctx context.Context, entries []Entry) ([]Result, error) {
	logger := r.Log
	if logger == nil {
		logger = logging.Discard()
	}
	registry := r.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	results := make([]Result, 0, len(entries))
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		h, ok := registry[e.Handle]
		if !ok {
			logger.Warn("Skipping unknown handle", "entry", i, "handle", e.Handle)
			results = append(results, Result{Handle: e.Handle, Skipped: true})
			continue
		}

		logger.Info("Running", "entry", i, "handle", e.Handle)
		start := time.Now()
		out, err := h(ctx, r.Board, &e.Args)
		res := Result{Handle: e.Handle, Output: out, Elapsed: time.Since(start), Err: err}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
		if err == nil {
			logger.Info("Done", "entry", i, "handle", e.Handle, "elapsed", res.Elapsed)
			continue
		}

		logger.Error("Entry failed", "entry", i, "handle", e.Handle, "err", err)
		if ctx.Err() != nil || r.Continue == nil || !r.Continue(e, err) {
			return results, fmt.Errorf("batch: entry %d (%s): %w", i, e.Handle, err)
		}
	}
	return results, nil
}
