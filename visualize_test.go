package swapnerf

import (
	"image"
	"testing"

	"gorgonia.org/tensor"
)

func constantBatch(n, c, h, w int, v float64) *tensor.Dense {
	backing := make([]float64, n*c*h*w)
	for i := range backing {
		backing[i] = v
	}
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(backing))
}

func TestMakeGrid(t *testing.T) {
	n, h, w := 3, 4, 5
	rows := []*tensor.Dense{
		constantBatch(n, 3, h, w, 0.5),
		constantBatch(n, 3, h, w, 1.0),
	}
	grid, err := MakeGrid(rows)
	if err != nil {
		t.Fatal(err)
	}
	wantBounds := image.Rect(0, 0, gridPadding+n*(w+gridPadding), gridPadding+len(rows)*(h+gridPadding))
	if grid.Bounds() != wantBounds {
		t.Fatalf("grid bounds = %v; want %v", grid.Bounds(), wantBounds)
	}
	// Top-left corner is padding, so black
	r, g, b, a := grid.At(0, 0).RGBA()
	if r != 0 || g != 0 || b != 0 || a != 0xffff {
		t.Errorf("padding pixel = (%d,%d,%d,%d); want opaque black", r, g, b, a)
	}
	// First cell of the first row holds the 0.5 constant
	r, _, _, _ = grid.At(gridPadding, gridPadding).RGBA()
	if r>>8 != 128 {
		t.Errorf("first row pixel = %d; want 128", r>>8)
	}
	// First cell of the second row holds the 1.0 constant
	r, _, _, _ = grid.At(gridPadding, gridPadding+h+gridPadding).RGBA()
	if r>>8 != 255 {
		t.Errorf("second row pixel = %d; want 255", r>>8)
	}
}

func TestMakeGridErrors(t *testing.T) {
	if _, err := MakeGrid(nil); err == nil {
		t.Error("expected error for empty grid")
	}
	mismatched := []*tensor.Dense{
		constantBatch(2, 3, 4, 4, 0),
		constantBatch(3, 3, 4, 4, 0),
	}
	if _, err := MakeGrid(mismatched); err == nil {
		t.Error("expected error for rows of different shape")
	}
	gray := []*tensor.Dense{constantBatch(2, 1, 4, 4, 0)}
	if _, err := MakeGrid(gray); err == nil {
		t.Error("expected error for non-RGB rows")
	}
}

func TestSnapshotFileName(t *testing.T) {
	if got := snapshotFileName(5); got != "visualization_0000000005.png" {
		t.Errorf("snapshotFileName(5) = %q", got)
	}
	if got := snapshotFileName(1234567890); got != "visualization_1234567890.png" {
		t.Errorf("snapshotFileName(1234567890) = %q", got)
	}
}

func TestValidationFileName(t *testing.T) {
	if got := validationFileName(100, 24.0, 0.5); got != "visualization_100_evaluation_P24.0_S0.5.png" {
		t.Errorf("validationFileName = %q", got)
	}
	if got := validationFileName(0, 18.756, 0.625); got != "visualization_0_evaluation_P18.76_S0.62.png" {
		t.Errorf("validationFileName = %q", got)
	}
}
