package swapnerf

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// uvLabels Branch labels by position in the UV collection
var uvLabels = [3]string{"pred", "swap", "rand"}

// RecordUVs Appends one human-readable record per branch to 'uv.txt' inside provided directory
// (created on first write, appended afterwards). Per branch the per-sample coordinates are
// flattened, rounded half-to-even to 3 decimal places and paired into (u, v) tuples:
//
//	<iteration>th <label>-uv : [(u, v), ...]
//
// A trailing blank line separates visualization calls. The log is append-only and never parsed back.
func RecordUVs(dir string, it int, uvs []*tensor.Dense) error {
	if len(uvs) != len(uvLabels) {
		return fmt.Errorf("Expected %d UV collections, but got %d", len(uvLabels), len(uvs))
	}
	outPath := filepath.Join(dir, "uv.txt")
	f, err := os.OpenFile(outPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "Can't open UV log")
	}
	defer f.Close()

	for i := range uvs {
		flat, ok := uvs[i].Data().([]float64)
		if !ok {
			return fmt.Errorf("UV collection '%s' is not float64 backed", uvLabels[i])
		}
		if _, err := f.WriteString(uvLine(it, uvLabels[i], flat)); err != nil {
			return errors.Wrap(err, "Can't write UV line")
		}
	}
	if _, err := f.WriteString("\n"); err != nil {
		return errors.Wrap(err, "Can't write UV record separator")
	}
	return nil
}

func uvLine(it int, label string, flat []float64) string {
	pairs := make([]string, 0, len(flat)/2)
	for idx := 0; idx < len(flat)/2; idx++ {
		u := formatRounded(flat[2*idx], 3)
		v := formatRounded(flat[2*idx+1], 3)
		pairs = append(pairs, fmt.Sprintf("(%s, %s)", u, v))
	}
	return fmt.Sprintf("%dth %s-uv : [%s]\n", it, label, strings.Join(pairs, ", "))
}

// formatRounded Rounds half-to-even to provided number of decimals and renders the shortest
// decimal representation, always keeping a decimal point (so 1 renders as "1.0")
func formatRounded(v float64, decimals int) string {
	p := math.Pow(10, float64(decimals))
	s := strconv.FormatFloat(math.RoundToEven(v*p)/p, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// PlotUVs Plot scatter chart of the three UV collections (pred/swap/rand) on the unit square
func PlotUVs(uvs []*tensor.Dense, fname string) error {
	if len(uvs) != len(uvLabels) {
		return fmt.Errorf("Expected %d UV collections, but got %d", len(uvLabels), len(uvs))
	}
	p := plot.New()
	p.X.Label.Text = "u"
	p.Y.Label.Text = "v"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())
	colors := [3]color.RGBA{
		{R: 255, A: 255},
		{G: 160, A: 255},
		{B: 255, A: 255},
	}
	for i := range uvs {
		flat, ok := uvs[i].Data().([]float64)
		if !ok {
			return fmt.Errorf("UV collection '%s' is not float64 backed", uvLabels[i])
		}
		scatterData := make(plotter.XYs, len(flat)/2)
		for idx := range scatterData {
			scatterData[idx].X = flat[2*idx]
			scatterData[idx].Y = flat[2*idx+1]
		}
		scatter, err := plotter.NewScatter(scatterData)
		if err != nil {
			return errors.Wrap(err, "Can't init new scatter")
		}
		scatter.GlyphStyle.Color = colors[i]
		p.Add(scatter)
		p.Legend.Add(uvLabels[i], scatter)
	}
	if err := p.Save(4*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
