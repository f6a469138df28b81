// Package batch runs a list of named calibration procedures against one
// board, as described by a YAML or JSON batch file:
//
//	- handle: scan_threshold
//	  args: {chip_idx: 0, threshold_min_coarse: 26, threshold_max_coarse: 37}
//	- handle: test_leakage_current
//	  args: {channel_list: [0, 1, 2]}
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownArgs is returned when an entry names a parameter its
	// procedure does not take, or gives one the wrong type.
	ErrUnknownArgs = errors.New("batch: invalid args")
	// ErrNoChip is returned when chip_idx does not address a board chip.
	ErrNoChip = errors.New("batch: no such chip")
)

// Entry is one record of a batch description.
type Entry struct {
	Handle string    `yaml:"handle"`
	Args   yaml.Node `yaml:"args"`
}

// Common holds the arguments every procedure accepts.
type Common struct {
	ChipIdx int    `yaml:"chip_idx"`
	Board   string `yaml:"board"` // Board name of the original setup; informational
}

type envelope[P any] struct {
	Common `yaml:",inline"`
	Params P `yaml:",inline"`
}

// decodeArgs decodes args over def, rejecting names neither Common nor P
// declares.
func decodeArgs[P any](args *yaml.Node, def P) (Common, P, error) {
	env := envelope[P]{Params: def}
	if args == nil || args.Kind == 0 {
		return env.Common, env.Params, nil
	}

	data, err := yaml.Marshal(args)
	if err != nil {
		return env.Common, def, fmt.Errorf("%w: %v", ErrUnknownArgs, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&env); err != nil {
		return env.Common, def, fmt.Errorf("%w: %v", ErrUnknownArgs, err)
	}
	return env.Common, env.Params, nil
}

// Parse reads a batch description. JSON input is accepted as YAML.
func Parse(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("batch: failed to parse description: %w", err)
	}
	for i, e := range entries {
		if e.Handle == "" {
			return nil, fmt.Errorf("batch: entry %d has no handle", i)
		}
	}
	return entries, nil
}

// Load reads a batch description from a file.
func Load(filename string) ([]Entry, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to read description: %w", err)
	}
	return Parse(data)
}
