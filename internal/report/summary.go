// Package report renders completed readings for people: a text summary, a
// PNG waveform plot and an interactive HTML chart.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

var axisNames = []string{waveform.AxisX, waveform.AxisY, waveform.AxisZ}

func axisStats(set waveform.AxisSet, name string) waveform.AxisStatistics {
	switch name {
	case waveform.AxisX:
		return set.X
	case waveform.AxisY:
		return set.Y
	default:
		return set.Z
	}
}

// WriteSummary writes the reading metadata and a per-axis statistics table.
func WriteSummary(w io.Writer, res *acquisition.Result) error {
	if res == nil {
		return fmt.Errorf("report: nil result")
	}

	temp := "n/a"
	if res.Temperature != nil {
		temp = fmt.Sprintf("%.2f °C", *res.Temperature)
	}
	rate := "n/a"
	if res.SampleRate > 0 {
		rate = fmt.Sprintf("%g Hz", res.SampleRate)
	}

	if _, err := fmt.Fprintf(w,
		"Sensor:      %s\nReading:     %d\nTimestamp:   %s\nEncoding:    %s\nSample rate: %s\nSamples:     %d per axis\nTemperature: %s\n\n",
		res.Target.Serial, res.ReadingID, res.Timestamp.UTC().Format(time.RFC3339),
		res.Encoding, rate, res.Samples.Len(), temp,
	); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "%-4s %10s %10s %10s %10s %10s %7s\n",
		"axis", "min", "max", "mean", "rms", "stddev", "count"); err != nil {
		return err
	}
	stats := res.Stats()
	for _, name := range axisNames {
		st := axisStats(stats, name)
		if _, err := fmt.Fprintf(w, "%-4s %10.4f %10.4f %10.4f %10.4f %10.4f %7d\n",
			name, st.Min, st.Max, st.Mean, st.RMS, st.StdDev, st.Count); err != nil {
			return err
		}
	}
	return nil
}

// sampleTimes returns the x coordinate of each sample: seconds when the
// sample rate is known, sample index otherwise.
func sampleTimes(n int, rate float64) ([]float64, string) {
	xs := make([]float64, n)
	for i := range xs {
		if rate > 0 {
			xs[i] = float64(i) / rate
		} else {
			xs[i] = float64(i)
		}
	}
	if rate > 0 {
		return xs, "Time (s)"
	}
	return xs, "Sample"
}
