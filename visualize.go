package swapnerf

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// gridPadding Pixels of black padding between grid cells
const gridPadding = 2

// MakeGrid Assembles image batches into a single grid image: one row per provided batch, one
// column per sample, with black padding between cells. Every batch must be shaped
// (batch, 3, height, width) with values in [0;1].
func MakeGrid(rows []*tensor.Dense) (image.Image, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("Grid must have one row atleast")
	}
	shape := rows[0].Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("Grid row must be 4-dimensional, but got %d dimensions", len(shape))
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if c != 3 {
		return nil, fmt.Errorf("Grid rows must have 3 channels, but got %d", c)
	}
	for i := range rows {
		if !rows[i].Shape().Eq(shape) {
			return nil, fmt.Errorf("Grid row #%d shape %v differs from %v", i, rows[i].Shape(), shape)
		}
	}
	gridW := gridPadding + n*(w+gridPadding)
	gridH := gridPadding + len(rows)*(h+gridPadding)
	img := image.NewNRGBA(image.Rect(0, 0, gridW, gridH))
	// Padding stays opaque black
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	for row := range rows {
		data, ok := rows[row].Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("Grid row #%d is not float64 backed", row)
		}
		top := gridPadding + row*(h+gridPadding)
		for sample := 0; sample < n; sample++ {
			left := gridPadding + sample*(w+gridPadding)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					idx := img.PixOffset(left+x, top+y)
					for ch := 0; ch < 3; ch++ {
						v := data[((sample*c+ch)*h+y)*w+x]
						img.Pix[idx+ch] = uint8(v*255 + 0.5)
					}
					img.Pix[idx+3] = 255
				}
			}
		}
	}
	return img, nil
}

// SaveImage Writes provided image as PNG
func SaveImage(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "Can't create image file")
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrap(err, "Can't encode PNG")
	}
	return nil
}

func snapshotFileName(it int) string {
	return fmt.Sprintf("visualization_%010d.png", it)
}

func validationFileName(it int, psnr, ssim float64) string {
	return fmt.Sprintf("visualization_%d_evaluation_P%s_S%s.png", it, formatRounded(psnr, 2), formatRounded(ssim, 2))
}

// preview Runs the EMA-preferred generator on provided batch with the fixed visualization
// latents, UV output requested, and clamps the synthesized branches into [0;1]
func (t *Trainer) preview(batch Batch) (*GeneratorOutput, error) {
	out, err := t.previewRT.Run(batch.Images, t.visLatents)
	if err != nil {
		return nil, errors.Wrap(err, "Can't run visualization pipeline")
	}
	for _, images := range []*tensor.Dense{out.Pred, out.Swap, out.Rand} {
		if err := Clamp01(images); err != nil {
			return nil, errors.Wrap(err, "Can't clamp synthesized batch")
		}
	}
	return out, nil
}

// VisualizeSnapshot Periodic training-time snapshot: builds the [real | pred | swap | rand]
// grid, saves it into the training visualization directory as visualization_<iteration,
// 10-digit zero-padded>.png and appends UV records there. Returns the grid.
func (t *Trainer) VisualizeSnapshot(batch Batch, it int) (image.Image, error) {
	out, err := t.preview(batch)
	if err != nil {
		return nil, err
	}
	grid, err := MakeGrid([]*tensor.Dense{batch.Images, out.Pred, out.Swap, out.Rand})
	if err != nil {
		return nil, errors.Wrap(err, "Can't assemble image grid")
	}
	if err := SaveImage(grid, filepath.Join(t.cfg.VisDir, snapshotFileName(it))); err != nil {
		return nil, errors.Wrap(err, "Can't save visualization")
	}
	if err := RecordUVs(t.cfg.VisDir, it, out.UVs); err != nil {
		return nil, errors.Wrap(err, "Can't record UV samples")
	}
	return grid, nil
}

// ValidationMetrics Metrics-only validation pass: mean PSNR and mean SSIM between the real
// batch and its reconstruction, averaged over the batch with data range 1.0. Writes no files.
func (t *Trainer) ValidationMetrics(batch Batch) (float64, float64, error) {
	out, err := t.preview(batch)
	if err != nil {
		return 0, 0, err
	}
	psnr, ssim, err := batchSimilarity(batch.Images, out.Pred)
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't compute similarity metrics")
	}
	return psnr, ssim, nil
}

// ValidationSnapshot Validation pass with a saved grid: computes PSNR/SSIM like
// ValidationMetrics, saves the [real | pred | swap | rand] grid into the validation
// visualization directory under a filename encoding iteration and rounded metrics, and
// appends UV records there. Returns the grid and both metrics.
func (t *Trainer) ValidationSnapshot(batch Batch, it int) (image.Image, float64, float64, error) {
	out, err := t.preview(batch)
	if err != nil {
		return nil, 0, 0, err
	}
	psnr, ssim, err := batchSimilarity(batch.Images, out.Pred)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "Can't compute similarity metrics")
	}
	grid, err := MakeGrid([]*tensor.Dense{batch.Images, out.Pred, out.Swap, out.Rand})
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "Can't assemble image grid")
	}
	if err := SaveImage(grid, filepath.Join(t.cfg.ValVisDir, validationFileName(it, psnr, ssim))); err != nil {
		return nil, 0, 0, errors.Wrap(err, "Can't save visualization")
	}
	if err := RecordUVs(t.cfg.ValVisDir, it, out.UVs); err != nil {
		return nil, 0, 0, errors.Wrap(err, "Can't record UV samples")
	}
	if err := PlotUVs(out.UVs, filepath.Join(t.cfg.ValVisDir, fmt.Sprintf("uv_%d.png", it))); err != nil {
		return nil, 0, 0, errors.Wrap(err, "Can't plot UV samples")
	}
	return grid, psnr, ssim, nil
}
