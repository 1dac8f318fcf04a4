package swapnerf

import (
	"testing"

	"gorgonia.org/tensor"
)

func TestClamp01(t *testing.T) {
	d := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{-0.5, 0, 0.25, 0.99, 1, 1.5}))
	if err := Clamp01(d); err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 0, 0.25, 0.99, 1, 1}
	got := d.Data().([]float64)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element #%d = %f; want %f", i, got[i], want[i])
		}
	}
}

func TestMetricHistory(t *testing.T) {
	h := NewMetricHistory()
	h.Append(map[string]float64{"generator_total": 1.5, "discriminator": 0.7})
	h.Append(map[string]float64{"generator_total": 1.2, "discriminator": 0.9})
	got := h.Series("generator_total")
	if len(got) != 2 || got[0] != 1.5 || got[1] != 1.2 {
		t.Errorf("series = %v; want [1.5 1.2]", got)
	}
	if len(h.Series("missing")) != 0 {
		t.Error("unrecorded metric must yield an empty series")
	}
	if err := h.PlotMetric("missing", "unused.png"); err == nil {
		t.Error("expected error when plotting an unrecorded metric")
	}
}

func TestRandDenseShapes(t *testing.T) {
	want := tensor.Shape{4, 16}
	if got := NormRandDense(4, 16).Shape(); !got.Eq(want) {
		t.Errorf("NormRandDense shape = %v; want %v", got, want)
	}
	uniform := UniformRandDense(4, 16)
	if got := uniform.Shape(); !got.Eq(want) {
		t.Errorf("UniformRandDense shape = %v; want %v", got, want)
	}
	for i, v := range uniform.Data().([]float64) {
		if v < 0 || v >= 1 {
			t.Fatalf("uniform element #%d = %f is outside [0;1)", i, v)
		}
	}
}
