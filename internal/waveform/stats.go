package waveform

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// AxisStatistics summarises one axis.
type AxisStatistics struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	RMS    float64 `json:"rms"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// AxisSet holds statistics for all three axes.
type AxisSet struct {
	X AxisStatistics `json:"x"`
	Y AxisStatistics `json:"y"`
	Z AxisStatistics `json:"z"`
}

// Statistics folds over samples once, keeping O(1) state, so capture windows
// of any length are safe. An empty slice yields the zero value.
func Statistics(samples []float64) AxisStatistics {
	if len(samples) == 0 {
		return AxisStatistics{}
	}

	minV, maxV := samples[0], samples[0]
	var sum, sumSq float64
	for _, v := range samples {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sum += v
		sumSq += v * v
	}

	n := float64(len(samples))
	st := AxisStatistics{
		Min:   minV,
		Max:   maxV,
		Mean:  sum / n,
		RMS:   math.Sqrt(sumSq / n),
		Count: len(samples),
	}
	if len(samples) > 1 {
		st.StdDev = stat.StdDev(samples, nil)
	}
	return st
}
