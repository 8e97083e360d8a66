package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/vibration.report/internal/acquisition"
)

// DefaultMaxChartPoints caps the points per series in RenderChart.
const DefaultMaxChartPoints = 5000

// ChartOptions tunes RenderChart. Zero values select defaults.
type ChartOptions struct {
	// AssetsHost serves the echarts javascript. Empty uses the go-echarts CDN.
	AssetsHost string
	MaxPoints  int
}

// RenderChart writes a standalone HTML page with an interactive line chart of
// the three axes. Long captures are decimated to MaxPoints per series.
func RenderChart(w io.Writer, res *acquisition.Result, o ChartOptions) error {
	if res == nil || res.Samples.Len() == 0 {
		return fmt.Errorf("report: no samples to chart")
	}
	maxPoints := o.MaxPoints
	if maxPoints <= 0 {
		maxPoints = DefaultMaxChartPoints
	}
	n := res.Samples.Len()
	stride := (n + maxPoints - 1) / maxPoints

	xs, xLabel := sampleTimes(n, res.SampleRate)
	labels := make([]string, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		labels = append(labels, strconv.FormatFloat(xs[i], 'f', -1, 64))
	}

	initOpts := opts.Initialization{
		PageTitle: fmt.Sprintf("Vibration %s #%d", res.Target.Serial, res.ReadingID),
		Width:     "100%",
		Height:    "600px",
	}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Sensor %s", res.Target.Serial),
			Subtitle: fmt.Sprintf("reading=%d encoding=%s samples=%d stride=%d", res.ReadingID, res.Encoding, n, stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xLabel, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "g", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(labels)
	for _, name := range axisNames {
		values := res.Samples.Axis(name)
		data := make([]opts.LineData, 0, len(labels))
		for i := 0; i < n; i += stride {
			data = append(data, opts.LineData{Value: values[i]})
		}
		line.AddSeries(strings.ToUpper(name), data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	return line.Render(w)
}
