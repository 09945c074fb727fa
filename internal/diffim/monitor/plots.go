// Package monitor renders diagnostic output for differencing runs:
// residual histograms and kernel heat maps as PNGs, and an HTML
// report of per-region fit quality. Nothing in the core depends on
// this package; it consumes the core's public results.
package monitor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/altair-data/diffim/internal/diffim"
)

// ResidualHistogram saves a histogram of the noise-normalized
// residuals of a difference image, excluding masked pixels. A clean
// difference image should look like a unit normal centered on zero.
func ResidualHistogram(diff *diffim.MaskedImage, title, path string) error {
	values := make(plotter.Values, 0, diff.Width()*diff.Height())
	for y := 0; y < diff.Height(); y++ {
		for x := 0; x < diff.Width(); x++ {
			if diff.MaskAt(x, y) != 0 {
				continue
			}
			v := diff.VarianceAt(x, y)
			if v <= 0 {
				continue
			}
			values = append(values, diff.At(x, y)/math.Sqrt(v))
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("no unmasked pixels to histogram")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "residual / sqrt(variance)"
	p.Y.Label.Text = "pixels"

	hist, err := plotter.NewHist(values, 32)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(hist)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

// kernelGrid adapts a kernel to the plotter.GridXYZ interface.
type kernelGrid struct {
	k diffim.Kernel
}

func (g kernelGrid) Dims() (int, int) {
	w, h := g.k.Dimensions()
	return w, h
}
func (g kernelGrid) Z(c, r int) float64 { return g.k.At(c, r) }
func (g kernelGrid) X(c int) float64    { return float64(c) }
func (g kernelGrid) Y(r int) float64    { return float64(r) }

// KernelHeatMap saves a heat map of a kernel's weights.
func KernelHeatMap(k diffim.Kernel, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "kernel col"
	p.Y.Label.Text = "kernel row"

	hm := plotter.NewHeatMap(kernelGrid{k: k}, palette.Heat(16, 1))
	p.Add(hm)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save heat map: %w", err)
	}
	return nil
}
