package swapnerf

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestUpdateAverageDense(t *testing.T) {
	dst := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 1, 1, 1}))
	src := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{0, 2, 4, 6}))
	if err := updateAverageDense(dst, src, 0.9); err != nil {
		t.Fatal(err)
	}
	want := []float64{0.9, 1.1, 1.3, 1.5}
	got := dst.Data().([]float64)
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("dst[%d] = %f; want %f", i, got[i], want[i])
		}
	}
}

func TestUpdateAverageDenseSizeMismatch(t *testing.T) {
	dst := tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{0, 0}))
	src := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{0, 0, 0}))
	if err := updateAverageDense(dst, src, 0.5); err == nil {
		t.Error("expected error for tensors of different size")
	}
}

func TestUpdateAverage(t *testing.T) {
	gen, err := NewSceneGenerator(gorgonia.NewGraph(), GeneratorConfig{ImageSize: 8, LatentDim: 8, HiddenDim: 8, UVSamples: 4})
	if err != nil {
		t.Fatal(err)
	}
	twin, err := gen.CloneValues()
	if err != nil {
		t.Fatal(err)
	}
	// Shift every live parameter by one, then average halfway
	for _, node := range gen.Learnables() {
		data := node.Value().(*tensor.Dense).Data().([]float64)
		for i := range data {
			data[i]++
		}
	}
	if err := UpdateAverage(twin, gen, 0.5); err != nil {
		t.Fatal(err)
	}
	genParams := gen.Learnables()
	twinParams := twin.Learnables()
	for p := range twinParams {
		genData := genParams[p].Value().(*tensor.Dense).Data().([]float64)
		twinData := twinParams[p].Value().(*tensor.Dense).Data().([]float64)
		for i := range twinData {
			if math.Abs(twinData[i]-(genData[i]-0.5)) > 1e-12 {
				t.Fatalf("learnable #%d element #%d = %f; want halfway point %f", p, i, twinData[i], genData[i]-0.5)
			}
		}
	}
}

func TestUpdateAverageBadDecay(t *testing.T) {
	gen, err := NewSceneGenerator(gorgonia.NewGraph(), GeneratorConfig{ImageSize: 8, LatentDim: 8, HiddenDim: 8, UVSamples: 4})
	if err != nil {
		t.Fatal(err)
	}
	twin, err := gen.CloneValues()
	if err != nil {
		t.Fatal(err)
	}
	if err := UpdateAverage(twin, gen, 1.5); err == nil {
		t.Error("expected error for decay outside [0;1]")
	}
}
