package swapnerf

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func evalScalar(t *testing.T, g *gorgonia.ExprGraph, out *gorgonia.Node) float64 {
	t.Helper()
	var val gorgonia.Value
	gorgonia.Read(out, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	scalar, err := scalarOf(val)
	if err != nil {
		t.Fatal(err)
	}
	return scalar
}

func TestBCEWithLogitsLossZeroScores(t *testing.T) {
	g := gorgonia.NewGraph()
	scores := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(4, 1), gorgonia.WithName("scores"), gorgonia.WithValue(tensor.New(tensor.WithShape(4, 1), tensor.WithBacking(make([]float64, 4)))))
	// softplus(0) - label*0 == ln(2) regardless of the label
	for _, label := range []float64{0, 1} {
		loss, err := BCEWithLogitsLoss(scores, label)
		if err != nil {
			t.Fatal(err)
		}
		got := evalScalar(t, g, loss)
		if math.Abs(got-math.Ln2) > 1e-9 {
			t.Errorf("loss at zero scores with label %v = %f; want ln(2)", label, got)
		}
	}
}

func TestBCEWithLogitsLossSumReduction(t *testing.T) {
	g := gorgonia.NewGraph()
	backing := []float64{2, -3}
	scores := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 1), gorgonia.WithName("scores"), gorgonia.WithValue(tensor.New(tensor.WithShape(2, 1), tensor.WithBacking(backing))))
	loss, err := BCEWithLogitsLoss(scores, 1, LossReductionSum)
	if err != nil {
		t.Fatal(err)
	}
	want := 0.0
	for _, s := range backing {
		want += math.Log(1+math.Exp(s)) - s
	}
	got := evalScalar(t, g, loss)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("sum-reduced loss = %f; want %f", got, want)
	}
}

func TestMSELoss(t *testing.T) {
	g := gorgonia.NewGraph()
	// Anonymous input nodes get deduplicated, so both operands carry names
	a := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("a"), gorgonia.WithValue(tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))))
	b := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("b"), gorgonia.WithValue(tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 0, 3, 2}))))
	loss, err := MSELoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	got := evalScalar(t, g, loss)
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("mean squared error = %f; want 2", got)
	}
}

func TestSquaredGradNorm(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6}))))
	squared, err := gorgonia.Square(x)
	if err != nil {
		t.Fatal(err)
	}
	cost, err := gorgonia.Sum(squared)
	if err != nil {
		t.Fatal(err)
	}
	// d(sum(x^2))/dx = 2x, so the per-sample squared norm is sum of (2x)^2 over the row
	norm, err := SquaredGradNorm(cost, x)
	if err != nil {
		t.Fatal(err)
	}
	var val gorgonia.Value
	gorgonia.Read(norm, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	got := val.Data().([]float64)
	want := []float64{4 * (1 + 4 + 9), 4 * (16 + 25 + 36)}
	if len(got) != len(want) {
		t.Fatalf("norm has %d elements; want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("norm[%d] = %f; want %f", i, got[i], want[i])
		}
	}
}
