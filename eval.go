package swapnerf

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// FIDStats Activation statistics of an image distribution: feature mean vector and covariance matrix
type FIDStats struct {
	Mean *mat.VecDense
	Cov  *mat.SymDense
}

// FeatureFunc Maps an image batch (batch, channels, height, width) to a (batch, features) matrix.
// The Fréchet distance is computed over statistics of these features.
type FeatureFunc func(images *tensor.Dense) (*mat.Dense, error)

// pooledGrid Side of the coarse pooling grid used by PooledFeatures
const pooledGrid = 4

// PooledFeatures Default feature extractor: per-channel spatial mean and standard deviation plus
// a 4x4 average-pooled grid per channel, giving channels*(2+16) features per image.
func PooledFeatures(images *tensor.Dense) (*mat.Dense, error) {
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("Image batch must be 4-dimensional, but got %d dimensions", len(shape))
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if h < pooledGrid || w < pooledGrid {
		return nil, fmt.Errorf("Image sides must be atleast %d, but got %dx%d", pooledGrid, h, w)
	}
	data, ok := images.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Image batch is not float64 backed")
	}
	perChannel := 2 + pooledGrid*pooledGrid
	features := mat.NewDense(n, c*perChannel, nil)
	spatial := float64(h * w)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			offset := (i*c + ch) * h * w
			sum, sumSq := 0.0, 0.0
			for p := 0; p < h*w; p++ {
				v := data[offset+p]
				sum += v
				sumSq += v * v
			}
			mean := sum / spatial
			variance := sumSq/spatial - mean*mean
			if variance < 0 {
				variance = 0
			}
			col := ch * perChannel
			features.Set(i, col, mean)
			features.Set(i, col+1, math.Sqrt(variance))
			for gy := 0; gy < pooledGrid; gy++ {
				rowFrom, rowTo := gy*h/pooledGrid, (gy+1)*h/pooledGrid
				for gx := 0; gx < pooledGrid; gx++ {
					colFrom, colTo := gx*w/pooledGrid, (gx+1)*w/pooledGrid
					cellSum := 0.0
					for y := rowFrom; y < rowTo; y++ {
						for x := colFrom; x < colTo; x++ {
							cellSum += data[offset+y*w+x]
						}
					}
					cell := float64((rowTo - rowFrom) * (colTo - colFrom))
					features.Set(i, col+2+gy*pooledGrid+gx, cellSum/cell)
				}
			}
		}
	}
	return features, nil
}

// ActivationStatistics Mean vector and covariance matrix of provided (samples, features) matrix
func ActivationStatistics(features *mat.Dense) (*FIDStats, error) {
	n, d := features.Dims()
	if n < 2 {
		return nil, fmt.Errorf("Need atleast 2 samples for covariance, but got %d", n)
	}
	mean := mat.NewVecDense(d, nil)
	for j := 0; j < d; j++ {
		mean.SetVec(j, stat.Mean(mat.Col(nil, j, features), nil))
	}
	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, features, nil)
	return &FIDStats{Mean: mean, Cov: cov}, nil
}

// FrechetDistance Fréchet distance between two Gaussians given by their statistics:
//
//	|mu1-mu2|^2 + Tr(C1 + C2 - 2*sqrtm(C1*C2))
//
// The trace of the matrix square root is taken as the sum of square roots of the eigenvalues
// of the covariance product. On numerical failure the computation is retried once with eps
// added to the covariance diagonals.
func FrechetDistance(a, b *FIDStats, eps float64) (float64, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("Both statistics must be provided")
	}
	d := a.Mean.Len()
	if b.Mean.Len() != d {
		return 0, fmt.Errorf("Feature dimensions differ: %d vs %d", d, b.Mean.Len())
	}
	meanDiff := 0.0
	for i := 0; i < d; i++ {
		diff := a.Mean.AtVec(i) - b.Mean.AtVec(i)
		meanDiff += diff * diff
	}
	traceSum := mat.Trace(a.Cov) + mat.Trace(b.Cov)

	trSqrt, err := traceOfSqrtProduct(a.Cov, b.Cov)
	if err != nil || !isFinite(trSqrt) {
		stabilizedA := addDiagonal(a.Cov, eps)
		stabilizedB := addDiagonal(b.Cov, eps)
		trSqrt, err = traceOfSqrtProduct(stabilizedA, stabilizedB)
		if err != nil {
			return 0, errors.Wrap(err, "Can't compute matrix square root trace even with stabilizer")
		}
		if !isFinite(trSqrt) {
			return 0, fmt.Errorf("Matrix square root trace is not finite even with stabilizer %g", eps)
		}
	}
	return meanDiff + traceSum - 2*trSqrt, nil
}

func traceOfSqrtProduct(a, b mat.Matrix) (float64, error) {
	var product mat.Dense
	product.Mul(a, b)
	var eig mat.Eigen
	if ok := eig.Factorize(&product, mat.EigenNone); !ok {
		return 0, fmt.Errorf("Eigendecomposition of covariance product failed")
	}
	values := eig.Values(nil)
	total := 0.0
	for _, v := range values {
		re := real(v)
		// Tiny negative eigenvalues are numerical noise on a PSD-product spectrum
		if re < 0 {
			re = 0
		}
		total += math.Sqrt(re)
	}
	return total, nil
}

func addDiagonal(m *mat.SymDense, eps float64) *mat.SymDense {
	d := m.SymmetricDim()
	out := mat.NewSymDense(d, nil)
	out.CopySym(m)
	for i := 0; i < d; i++ {
		out.SetSym(i, i, out.At(i, i)+eps)
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// EvalStep Scores the current generator against the reference statistics: synthesizes
// EvalIterations batches of fully-random samples with the EMA generator when present (the live
// one otherwise), keeps the first 3 channels, clamps into [0;1] and computes the Fréchet
// distance to the configured reference with stabilizer 1e-4.
func (t *Trainer) EvalStep() (map[string]float64, error) {
	if t.cfg.FID == nil {
		return nil, fmt.Errorf("FID reference statistics are not configured")
	}
	var samples *tensor.Dense
	for i := 0; i < t.cfg.EvalIterations; i++ {
		out, err := t.previewRT.Run(t.zeroReal, t.generator.SampleLatents(t.cfg.BatchSize))
		if err != nil {
			return nil, errors.Wrap(err, "Can't synthesize eval batch")
		}
		rand, err := keepRGB(out.Rand)
		if err != nil {
			return nil, errors.Wrap(err, "Can't trim eval batch to RGB")
		}
		if samples == nil {
			samples = rand
			continue
		}
		concat, err := tensor.Concat(0, samples, rand)
		if err != nil {
			return nil, errors.Wrap(err, "Can't concatenate eval batches")
		}
		dense, ok := concat.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("Concatenated eval batch is not a dense tensor")
		}
		samples = dense
	}
	if err := Clamp01(samples); err != nil {
		return nil, errors.Wrap(err, "Can't clamp eval samples")
	}
	features, err := t.cfg.Features(samples)
	if err != nil {
		return nil, errors.Wrap(err, "Can't extract eval features")
	}
	stats, err := ActivationStatistics(features)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute activation statistics")
	}
	fid, err := FrechetDistance(stats, t.cfg.FID, 1e-4)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute Fréchet distance")
	}
	return map[string]float64{"fid_score": fid}, nil
}

// keepRGB Returns the first 3 channels of provided image batch (no-op copy path for RGB input)
func keepRGB(images *tensor.Dense) (*tensor.Dense, error) {
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("Image batch must be 4-dimensional, but got %d dimensions", len(shape))
	}
	if shape[1] <= 3 {
		return images, nil
	}
	view, err := images.Slice(nil, tensor.S(0, 3))
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice channels")
	}
	dense, ok := view.Materialize().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Materialized batch is not a dense tensor")
	}
	return dense, nil
}
