// Command calib runs LArPix channel calibration scans against a board on a
// serial port, or against the built-in simulator.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
