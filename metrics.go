package swapnerf

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// ssimWindow Side of the sliding window used by SSIM (skimage default)
const ssimWindow = 7

// PSNR Peak signal-to-noise ratio between two images given as flat slices of equal length.
// Identical images yield +Inf.
func PSNR(x, y []float64, dataRange float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("Images must have same number of elements, but got %d and %d", len(x), len(y))
	}
	if len(x) == 0 {
		return 0, fmt.Errorf("Images must be non-empty")
	}
	mse := 0.0
	for i := range x {
		diff := x[i] - y[i]
		mse += diff * diff
	}
	mse /= float64(len(x))
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(dataRange*dataRange/mse), nil
}

// SSIM Mean structural similarity between two single images given flat in (channels, height, width)
// order. Uses a uniform 7x7 window over fully-interior positions, unbiased covariance
// normalization and the standard K1=0.01, K2=0.03 stabilizers; channel results are averaged.
func SSIM(x, y []float64, channels, height, width int, dataRange float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("Images must have same number of elements, but got %d and %d", len(x), len(y))
	}
	if channels*height*width != len(x) {
		return 0, fmt.Errorf("Shape (%d,%d,%d) does not match %d elements", channels, height, width, len(x))
	}
	if height < ssimWindow || width < ssimWindow {
		return 0, fmt.Errorf("Image sides must be atleast %d, but got %dx%d", ssimWindow, height, width)
	}
	c1 := (0.01 * dataRange) * (0.01 * dataRange)
	c2 := (0.03 * dataRange) * (0.03 * dataRange)
	np := float64(ssimWindow * ssimWindow)
	covNorm := np / (np - 1)

	total := 0.0
	for c := 0; c < channels; c++ {
		offset := c * height * width
		channelSum := 0.0
		windows := 0
		for top := 0; top+ssimWindow <= height; top++ {
			for left := 0; left+ssimWindow <= width; left++ {
				var sx, sy, sxx, syy, sxy float64
				for dy := 0; dy < ssimWindow; dy++ {
					row := offset + (top+dy)*width + left
					for dx := 0; dx < ssimWindow; dx++ {
						xv := x[row+dx]
						yv := y[row+dx]
						sx += xv
						sy += yv
						sxx += xv * xv
						syy += yv * yv
						sxy += xv * yv
					}
				}
				ux := sx / np
				uy := sy / np
				vx := covNorm * (sxx/np - ux*ux)
				vy := covNorm * (syy/np - uy*uy)
				vxy := covNorm * (sxy/np - ux*uy)
				a1 := 2*ux*uy + c1
				a2 := 2*vxy + c2
				b1 := ux*ux + uy*uy + c1
				b2 := vx + vy + c2
				channelSum += (a1 * a2) / (b1 * b2)
				windows++
			}
		}
		total += channelSum / float64(windows)
	}
	return total / float64(channels), nil
}

// batchSimilarity Mean PSNR and mean SSIM between real and fake image batches shaped
// (batch, channels, height, width), averaged per sample with data range 1.0
func batchSimilarity(real, fake *tensor.Dense) (float64, float64, error) {
	shape := real.Shape()
	if len(shape) != 4 {
		return 0, 0, fmt.Errorf("Batch must be 4-dimensional, but got %d dimensions", len(shape))
	}
	if !shape.Eq(fake.Shape()) {
		return 0, 0, fmt.Errorf("Batches must have same shape, but got %v and %v", shape, fake.Shape())
	}
	realData, ok := real.Data().([]float64)
	if !ok {
		return 0, 0, fmt.Errorf("Real batch is not float64 backed")
	}
	fakeData, ok := fake.Data().([]float64)
	if !ok {
		return 0, 0, fmt.Errorf("Fake batch is not float64 backed")
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	sampleSize := c * h * w
	var psnrSum, ssimSum float64
	for i := 0; i < n; i++ {
		x := realData[i*sampleSize : (i+1)*sampleSize]
		y := fakeData[i*sampleSize : (i+1)*sampleSize]
		p, err := PSNR(x, y, 1.0)
		if err != nil {
			return 0, 0, err
		}
		s, err := SSIM(x, y, c, h, w, 1.0)
		if err != nil {
			return 0, 0, err
		}
		psnrSum += p
		ssimSum += s
	}
	return psnrSum / float64(n), ssimSum / float64(n), nil
}
