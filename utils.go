package swapnerf

import (
	"fmt"
	"image/color"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values
//
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func NormRandDense(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = rand.NormFloat64()
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// UniformRandDense Return reference to tensor.Dense filled with pseudo-random float64 values in range [0.0,1.0)
//
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func UniformRandDense(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = rand.Float64()
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// Clamp01 Clamps every element of provided dense tensor into [0;1] in place
func Clamp01(t *tensor.Dense) error {
	data, ok := t.Data().([]float64)
	if !ok {
		return fmt.Errorf("Tensor is not float64 backed")
	}
	for i := range data {
		if data[i] < 0 {
			data[i] = 0
		} else if data[i] > 1 {
			data[i] = 1
		}
	}
	return nil
}

// MetricHistory Accumulates scalar training metrics over iterations for later plotting
type MetricHistory struct {
	series map[string][]float64
}

func NewMetricHistory() *MetricHistory {
	return &MetricHistory{series: make(map[string][]float64)}
}

// Append Appends every entry of provided metrics mapping to its named series
func (h *MetricHistory) Append(metrics map[string]float64) {
	for name, value := range metrics {
		h.series[name] = append(h.series[name], value)
	}
}

// Series Returns recorded values for provided metric name
func (h *MetricHistory) Series(name string) []float64 {
	return h.series[name]
}

// PlotMetric Plot chart for recorded metric values over training iterations
func (h *MetricHistory) PlotMetric(name, fname string) error {
	values, ok := h.series[name]
	if !ok {
		return fmt.Errorf("Metric '%s' has not been recorded", name)
	}
	lineData := make(plotter.XYs, len(values))
	for i := range values {
		lineData[i].X = float64(i)
		lineData[i].Y = values[i]
	}
	line, err := plotter.NewLine(lineData)
	if err != nil {
		return errors.Wrap(err, "Can't init new line")
	}
	line.Color = color.RGBA{R: 255, B: 128, A: 255}
	p := plot.New()
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = name
	p.Add(plotter.NewGrid())
	p.Add(line)
	// Save the plot to a PNG file.
	if err := p.Save(4*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
