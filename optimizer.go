package swapnerf

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Optimizer Thin wrapper around a gorgonia solver keeping an observable step counter
type Optimizer struct {
	solver gorgonia.Solver
	steps  int
}

// NewAdam Adam solver with provided learning rate and batch size
func NewAdam(learnRate float64, batchSize int) *Optimizer {
	return &Optimizer{
		solver: gorgonia.NewAdamSolver(gorgonia.WithLearnRate(learnRate), gorgonia.WithBatchSize(float64(batchSize))),
	}
}

// NewRMSProp RMSProp solver with provided learning rate and batch size
func NewRMSProp(learnRate float64, batchSize int) *Optimizer {
	return &Optimizer{
		solver: gorgonia.NewRMSPropSolver(gorgonia.WithLearnRate(learnRate), gorgonia.WithBatchSize(float64(batchSize))),
	}
}

// Step Applies one solver step over provided value/gradient pairs
func (o *Optimizer) Step(grads []gorgonia.ValueGrad) error {
	if err := o.solver.Step(grads); err != nil {
		return errors.Wrap(err, "Can't do solver step")
	}
	o.steps++
	return nil
}

// Steps Returns how many steps have been applied so far
func (o *Optimizer) Steps() int {
	return o.steps
}
