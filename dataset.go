package swapnerf

import (
	"fmt"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch One training batch of real images shaped (batch, channels, height, width)
// with values normalized to [0;1]
type Batch struct {
	Images *tensor.Dense
}

// ImageSet In-memory set of real images for training
type ImageSet struct {
	Images *tensor.Dense
	Count  int
}

// Batch Extracts batch of provided size starting at provided sample index
func (s *ImageSet) Batch(start, batchSize int) (Batch, error) {
	if start < 0 || start+batchSize > s.Count {
		return Batch{}, fmt.Errorf("Batch [%d;%d) is out of range for set of %d samples", start, start+batchSize, s.Count)
	}
	view, err := s.Images.Slice(tensor.S(start, start+batchSize))
	if err != nil {
		return Batch{}, errors.Wrap(err, "Can't slice image set")
	}
	images, ok := view.Materialize().(*tensor.Dense)
	if !ok {
		return Batch{}, fmt.Errorf("Materialized batch is not a dense tensor")
	}
	return Batch{Images: images}, nil
}

// GenerateSceneSet Generates synthetic scene images: a colored rectangle ("object") at a random
// position over a dark background. Good enough for smoke-training and for examples.
//
// numSamples - how many images to generate
// imageSize - side of the square image
// seed - seed for the underlying random generator
//
func GenerateSceneSet(numSamples, imageSize int, seed int64) (*ImageSet, error) {
	if numSamples < 1 {
		return nil, fmt.Errorf("Number of samples must be positive, but got %d", numSamples)
	}
	if imageSize < 4 {
		return nil, fmt.Errorf("Image size must be atleast 4, but got %d", imageSize)
	}
	uniform := rng.NewUniformGenerator(seed)
	channels := 3
	data := make([]float64, numSamples*channels*imageSize*imageSize)
	for sample := 0; sample < numSamples; sample++ {
		// Background intensity per image
		background := uniform.Float64Range(0.0, 0.15)
		// Object color, position and extent
		objColor := []float64{
			uniform.Float64Range(0.3, 1.0),
			uniform.Float64Range(0.3, 1.0),
			uniform.Float64Range(0.3, 1.0),
		}
		side := int(uniform.Float64Range(float64(imageSize)/4, float64(imageSize)/2))
		if side < 1 {
			side = 1
		}
		top := int(uniform.Float64Range(0, float64(imageSize-side)))
		left := int(uniform.Float64Range(0, float64(imageSize-side)))
		for c := 0; c < channels; c++ {
			for y := 0; y < imageSize; y++ {
				for x := 0; x < imageSize; x++ {
					idx := ((sample*channels+c)*imageSize+y)*imageSize + x
					if y >= top && y < top+side && x >= left && x < left+side {
						data[idx] = objColor[c]
					} else {
						data[idx] = background
					}
				}
			}
		}
	}
	images := tensor.New(tensor.WithShape(numSamples, channels, imageSize, imageSize), tensor.WithBacking(data))
	return &ImageSet{Images: images, Count: numSamples}, nil
}
