package swapnerf

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func diagStats(means, variances []float64) *FIDStats {
	d := len(means)
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, variances[i])
	}
	return &FIDStats{
		Mean: mat.NewVecDense(d, means),
		Cov:  cov,
	}
}

func TestFrechetDistanceIdentical(t *testing.T) {
	stats := diagStats([]float64{0.5, -1.0, 2.0}, []float64{1.0, 2.0, 0.5})
	got, err := FrechetDistance(stats, stats, 1e-4)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got) > 1e-6 {
		t.Errorf("distance between identical statistics = %f; want ~0", got)
	}
}

func TestFrechetDistanceDiagonal(t *testing.T) {
	// For diagonal covariances the distance is |m1-m2|^2 + sum(c1+c2-2*sqrt(c1*c2))
	a := diagStats([]float64{0, 0}, []float64{4, 9})
	b := diagStats([]float64{1, 1}, []float64{1, 1})
	got, err := FrechetDistance(a, b, 1e-4)
	if err != nil {
		t.Fatal(err)
	}
	want := 2.0 + (4 + 1 - 2*2.0) + (9 + 1 - 2*3.0)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("distance = %f; want %f", got, want)
	}
}

func TestFrechetDistanceDimensionMismatch(t *testing.T) {
	a := diagStats([]float64{0, 0}, []float64{1, 1})
	b := diagStats([]float64{0}, []float64{1})
	if _, err := FrechetDistance(a, b, 1e-4); err == nil {
		t.Error("expected error for statistics of different dimension")
	}
}

func TestPooledFeatures(t *testing.T) {
	n, c, side := 5, 3, 8
	backing := make([]float64, n*c*side*side)
	for i := range backing {
		backing[i] = 0.25
	}
	images := tensor.New(tensor.WithShape(n, c, side, side), tensor.WithBacking(backing))
	features, err := PooledFeatures(images)
	if err != nil {
		t.Fatal(err)
	}
	rows, cols := features.Dims()
	if rows != n || cols != c*(2+pooledGrid*pooledGrid) {
		t.Fatalf("features dims = (%d,%d); want (%d,%d)", rows, cols, n, c*(2+pooledGrid*pooledGrid))
	}
	// Constant image: per-channel mean and every pooled cell are the constant, std is zero
	if got := features.At(0, 0); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("channel mean = %f; want 0.25", got)
	}
	if got := features.At(0, 1); math.Abs(got) > 1e-12 {
		t.Errorf("channel std = %f; want 0", got)
	}
	if got := features.At(0, 2); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("pooled cell = %f; want 0.25", got)
	}
}

func TestPooledFeaturesTooSmall(t *testing.T) {
	images := tensor.New(tensor.WithShape(1, 3, 2, 2), tensor.WithBacking(make([]float64, 12)))
	if _, err := PooledFeatures(images); err == nil {
		t.Error("expected error for image smaller than the pooling grid")
	}
}

func TestActivationStatistics(t *testing.T) {
	features := mat.NewDense(2, 2, []float64{
		0, 2,
		2, 4,
	})
	stats, err := ActivationStatistics(features)
	if err != nil {
		t.Fatal(err)
	}
	if got := stats.Mean.AtVec(0); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("mean[0] = %f; want 1", got)
	}
	if got := stats.Mean.AtVec(1); math.Abs(got-3.0) > 1e-12 {
		t.Errorf("mean[1] = %f; want 3", got)
	}
	// Unbiased sample covariance of two points
	if got := stats.Cov.At(0, 0); math.Abs(got-2.0) > 1e-12 {
		t.Errorf("cov[0][0] = %f; want 2", got)
	}
	if got := stats.Cov.At(0, 1); math.Abs(got-2.0) > 1e-12 {
		t.Errorf("cov[0][1] = %f; want 2", got)
	}
}

func TestActivationStatisticsTooFewSamples(t *testing.T) {
	if _, err := ActivationStatistics(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected error for single-sample statistics")
	}
}

func TestKeepRGB(t *testing.T) {
	rgb := tensor.New(tensor.WithShape(2, 3, 4, 4), tensor.WithBacking(make([]float64, 96)))
	kept, err := keepRGB(rgb)
	if err != nil {
		t.Fatal(err)
	}
	if kept != rgb {
		t.Error("RGB input must pass through untouched")
	}
	rgba := tensor.New(tensor.WithShape(2, 4, 4, 4), tensor.WithBacking(make([]float64, 128)))
	kept, err = keepRGB(rgba)
	if err != nil {
		t.Fatal(err)
	}
	want := tensor.Shape{2, 3, 4, 4}
	if !kept.Shape().Eq(want) {
		t.Errorf("trimmed shape = %v; want %v", kept.Shape(), want)
	}
}
