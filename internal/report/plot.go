package report

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/vibration.report/internal/acquisition"
)

// Plot dimensions.
const (
	PlotWidth  = 14 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

var axisColors = map[string]color.RGBA{
	"x": {R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	"y": {R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	"z": {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
}

func newWaveformPlot(res *acquisition.Result) (*plot.Plot, error) {
	if res == nil || res.Samples.Len() == 0 {
		return nil, fmt.Errorf("report: no samples to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sensor %s - reading %d", res.Target.Serial, res.ReadingID)
	xs, xLabel := sampleTimes(res.Samples.Len(), res.SampleRate)
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Acceleration (g)"
	p.Add(plotter.NewGrid())

	for _, name := range axisNames {
		values := res.Samples.Axis(name)
		pts := make(plotter.XYs, len(values))
		for i, v := range values {
			pts[i] = plotter.XY{X: xs[i], Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("report: axis %s: %w", name, err)
		}
		line.Color = axisColors[name]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(strings.ToUpper(name), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePlot writes the three axes as one line plot. The format follows the
// file extension (png, svg, pdf...).
func SavePlot(path string, res *acquisition.Result) error {
	p, err := newWaveformPlot(res)
	if err != nil {
		return err
	}
	if filepath.Ext(path) == "" {
		return fmt.Errorf("report: plot path %q needs an extension", path)
	}
	if err := p.Save(PlotWidth, PlotHeight, path); err != nil {
		return fmt.Errorf("report: failed to save plot: %w", err)
	}
	return nil
}

// WritePlot renders the plot in format ("png", "svg"...) to w.
func WritePlot(w io.Writer, res *acquisition.Result, format string) error {
	p, err := newWaveformPlot(res)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, format)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
