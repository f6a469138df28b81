// Package stats reduces captured packets to count, mean and RMS deviation.
package stats

import (
	"math"

	"github.com/itohio/golarpix/pkg/larpix"
	"gonum.org/v1/gonum/stat"
)

// Summary is the reduction of one set of values.
type Summary struct {
	Count int     `yaml:"count"`
	Mean  float64 `yaml:"mean"`
	RMS   float64 `yaml:"rms"` // Root-mean-square deviation from Mean
}

// Summarize returns count, mean and population RMS deviation of values.
// An empty input yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, variance := stat.PopMeanVariance(values, nil)
	return Summary{
		Count: len(values),
		Mean:  mean,
		RMS:   math.Sqrt(variance),
	}
}

// OfPackets summarises the datawords of packets.
func OfPackets(packets []larpix.Packet) Summary {
	return Summarize(larpix.Datawords(packets))
}
