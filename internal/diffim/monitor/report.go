package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/altair-data/diffim/internal/diffim"
)

// WriteFitReport renders an HTML report for one differencing run: a
// scatter of per-region residual mean vs stddev split by quality
// verdict, and a bar chart of solver ranks. Regions with degenerate
// (NaN-scrubbed) statistics plot at the origin in the rejected series.
func WriteFitReport(runID string, results []*diffim.FitResult, path string) error {
	if len(results) == 0 {
		return fmt.Errorf("no fit results for run %s", runID)
	}

	accepted := make([]opts.ScatterData, 0, len(results))
	rejected := make([]opts.ScatterData, 0, len(results))
	for _, r := range results {
		point := opts.ScatterData{Value: []interface{}{r.ResidualMean, r.ResidualStd}}
		if r.Accepted {
			accepted = append(accepted, point)
		} else {
			rejected = append(rejected, point)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "diffim fit report",
			Width:     "900px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Per-region residual quality",
			Subtitle: fmt.Sprintf("run=%s regions=%d accepted=%d", runID, len(results), len(accepted)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "residual mean"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "residual stddev"}),
	)
	scatter.AddSeries("accepted", accepted,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	scatter.AddSeries("rejected", rejected,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	rankLabels := make([]string, 0, len(results))
	rankData := make([]opts.BarData, 0, len(results))
	for i, r := range results {
		rankLabels = append(rankLabels, fmt.Sprintf("#%d %dx%d", i,
			r.RegionX1-r.RegionX0, r.RegionY1-r.RegionY0))
		rankData = append(rankData, opts.BarData{Value: r.Rank})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "900px",
			Height: "400px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Solver rank per region"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rank"}),
	)
	bar.SetXAxis(rankLabels)
	bar.AddSeries("rank", rankData)

	page := components.NewPage()
	page.AddCharts(scatter, bar)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
