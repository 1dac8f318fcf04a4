package swapnerf

import (
	"math"
	"testing"
)

func TestPSNR(t *testing.T) {
	x := make([]float64, 64)
	y := make([]float64, 64)
	for i := range y {
		y[i] = 0.5
	}
	// MSE = 0.25 for data range 1.0 gives 10*log10(1/0.25)
	got, err := PSNR(x, y, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	want := 10 * math.Log10(4)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("PSNR = %f; want %f", got, want)
	}
}

func TestPSNRIdentical(t *testing.T) {
	x := []float64{0.1, 0.2, 0.3, 0.4}
	got, err := PSNR(x, x, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(got, 1) {
		t.Errorf("PSNR of identical images = %f; want +Inf", got)
	}
}

func TestPSNRMismatch(t *testing.T) {
	if _, err := PSNR([]float64{0}, []float64{0, 1}, 1.0); err == nil {
		t.Error("expected error for images of different size")
	}
	if _, err := PSNR(nil, nil, 1.0); err == nil {
		t.Error("expected error for empty images")
	}
}

func TestSSIMIdentical(t *testing.T) {
	h, w := 8, 8
	x := make([]float64, h*w)
	for i := range x {
		x[i] = float64(i%7) / 7
	}
	got, err := SSIM(x, x, 1, h, w, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("SSIM of identical images = %f; want 1.0", got)
	}
}

func TestSSIMRange(t *testing.T) {
	h, w := 8, 8
	x := make([]float64, h*w)
	y := make([]float64, h*w)
	for i := range x {
		x[i] = float64(i%5) / 5
		y[i] = 1 - x[i]
	}
	got, err := SSIM(x, y, 1, h, w, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if got >= 1.0 || got < -1.0 {
		t.Errorf("SSIM of dissimilar images = %f; want value in [-1;1)", got)
	}
}

func TestSSIMShapeErrors(t *testing.T) {
	x := make([]float64, 64)
	if _, err := SSIM(x, x, 2, 8, 8, 1.0); err == nil {
		t.Error("expected error for shape/length mismatch")
	}
	small := make([]float64, 36)
	if _, err := SSIM(small, small, 1, 6, 6, 1.0); err == nil {
		t.Error("expected error for image smaller than the window")
	}
}

func TestBatchSimilarity(t *testing.T) {
	set, err := GenerateSceneSet(2, 8, 42)
	if err != nil {
		t.Fatal(err)
	}
	psnr, ssim, err := batchSimilarity(set.Images, set.Images)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(psnr, 1) {
		t.Errorf("mean PSNR of identical batches = %f; want +Inf", psnr)
	}
	if math.Abs(ssim-1.0) > 1e-9 {
		t.Errorf("mean SSIM of identical batches = %f; want 1.0", ssim)
	}
}
