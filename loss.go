package swapnerf

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(sqr)
	case LossReductionMean:
		return gorgonia.Mean(sqr)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// BCEWithLogitsLoss Binary cross-entropy between raw discriminator scores and a constant
// target label (0 or 1), computed in logit space for numerical stability:
//
//	softplus(s) - label*s == -label*log(sigmoid(s)) - (1-label)*log(1-sigmoid(s))
//
// Default reduction is 'mean'
func BCEWithLogitsLoss(scores *gorgonia.Node, label float64, reduction ...LossReduction) (*gorgonia.Node, error) {
	loss, err := gorgonia.Softplus(scores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do softplus(S)")
	}
	if label != 0 {
		labelNode := gorgonia.NewConstant(label)
		scaled, err := gorgonia.Mul(labelNode, scores)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (label*S)")
		}
		loss, err = gorgonia.Sub(loss, scaled)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x - label*S)")
		}
	}
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(loss)
	case LossReductionMean:
		return gorgonia.Mean(loss)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// SquaredGradNorm Per-sample squared norm of d(cost)/d(wrt). cost must be a scalar node,
// wrt a batched node whose leading axis is the batch. Returns a vector node of length
// batch size holding sum-of-squared gradient entries per sample (the R1 penalty core).
func SquaredGradNorm(cost, wrt *gorgonia.Node) (*gorgonia.Node, error) {
	grads, err := gorgonia.Grad(cost, wrt)
	if err != nil {
		return nil, errors.Wrap(err, "Can't differentiate cost w.r.t. input")
	}
	if len(grads) != 1 {
		return nil, fmt.Errorf("Expected single gradient node, got %d", len(grads))
	}
	sqr, err := gorgonia.Square(grads[0])
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	axes := make([]int, 0, wrt.Dims()-1)
	for axis := 1; axis < wrt.Dims(); axis++ {
		axes = append(axes, axis)
	}
	out, err := gorgonia.Sum(sqr, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sum squared gradient over non-batch axes")
	}
	return out, nil
}
