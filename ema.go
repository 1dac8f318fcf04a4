package swapnerf

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// UpdateAverage Moves every parameter of dst toward the matching parameter of src:
//
//	dst = beta*dst + (1-beta)*src
//
// applied per parameter over raw backing slices, with no gradient tracking involved.
// dst and src must be structurally identical generators.
func UpdateAverage(dst, src *SceneGenerator, beta float64) error {
	if beta < 0 || beta > 1 {
		return fmt.Errorf("Decay must be inside [0;1], but got %f", beta)
	}
	dstParams := dst.Learnables()
	srcParams := src.Learnables()
	if len(dstParams) != len(srcParams) {
		return fmt.Errorf("Generators have different number of learnables: %d vs %d", len(dstParams), len(srcParams))
	}
	for i := range dstParams {
		dstDense, ok := dstParams[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("Learnable #%d of target generator does not hold a dense tensor", i)
		}
		srcDense, ok := srcParams[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("Learnable #%d of source generator does not hold a dense tensor", i)
		}
		if err := updateAverageDense(dstDense, srcDense, beta); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't average learnable #%d", i))
		}
	}
	return nil
}

func updateAverageDense(dst, src *tensor.Dense, beta float64) error {
	dstData, ok := dst.Data().([]float64)
	if !ok {
		return fmt.Errorf("Target tensor is not float64 backed")
	}
	srcData, ok := src.Data().([]float64)
	if !ok {
		return fmt.Errorf("Source tensor is not float64 backed")
	}
	if len(dstData) != len(srcData) {
		return fmt.Errorf("Tensor size mismatch: %d vs %d", len(dstData), len(srcData))
	}
	for i := range dstData {
		dstData[i] = beta*dstData[i] + (1-beta)*srcData[i]
	}
	return nil
}
