package swapnerf

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config Trainer configuration. Immutable after construction.
//
// Generator - scene generator; its home graph becomes the generator training graph
// Discriminator - discriminator; its home graph becomes the discriminator training graph
// GeneratorOptimizer, DiscriminatorOptimizer - solvers for the respective parameter sets
// BatchSize - training batch size; also sizes the fixed visualization latents
// VisDir - training-time visualization output directory (created eagerly if missing)
// ValVisDir - validation visualization output directory (created eagerly if missing)
// MultiDevice - accepted and recorded; device placement is a build-time concern of gorgonia
// OverwriteVisualization - accepted and recorded
// FID - reference activation statistics for EvalStep
// EvalIterations - number of sample batches per EvalStep (default 10)
// ReconWeight - weight of the reconstruction loss term (default 1.0)
// EMADecay - decay of the exponential-moving-average generator (default 0.999)
// DisableEMA - skip the EMA twin entirely; eval/visualization then use the live generator
// Features - feature extractor for EvalStep (default PooledFeatures)
//
type Config struct {
	Generator              *SceneGenerator
	Discriminator          *DiscriminatorNet
	GeneratorOptimizer     *Optimizer
	DiscriminatorOptimizer *Optimizer
	BatchSize              int
	VisDir                 string
	ValVisDir              string
	MultiDevice            bool
	OverwriteVisualization bool
	FID                    *FIDStats
	EvalIterations         int
	ReconWeight            float64
	EMADecay               float64
	DisableEMA             bool
	Features               FeatureFunc
}

// Trainer Orchestrates adversarial training of the scene generator: alternating
// generator/discriminator updates with R1 regularization, EMA weight averaging, FID
// evaluation and grid/UV visualization. The trainer owns the only mutable references to
// both models and the EMA twin; a single training process is assumed to drive all steps.
type Trainer struct {
	cfg Config

	generator     *SceneGenerator
	discriminator *DiscriminatorNet
	emaGenerator  *SceneGenerator

	visLatents *tensor.Dense
	zeroReal   *tensor.Dense

	// Generator training tape: generator branches plus a frozen (aliased, gradient-free)
	// discriminator copy scoring the random branch
	genPipe       *GeneratorPipeline
	genVM         gorgonia.VM
	genLearnables gorgonia.Nodes
	genTotalVal   gorgonia.Value
	genReconVal   gorgonia.Value
	genRandVal    gorgonia.Value

	// Discriminator training tape: real input plus a detached random sample input; the R1
	// penalty arrives through discRegIn
	discReal        *gorgonia.Node
	discRand        *gorgonia.Node
	discRegIn       *gorgonia.Node
	discVM          gorgonia.VM
	discLearnables  gorgonia.Nodes
	discCombinedVal gorgonia.Value
	discRegVal      gorgonia.Value
	discRealVal     gorgonia.Value
	discRandVal     gorgonia.Value

	// R1 penalty tape: a dedicated graph holding the symbolic gradient of the real scores
	// w.r.t. the real input. It is only ever executed, never differentiated, so the
	// gradient nodes inside it stay out of both training graphs.
	penReal *gorgonia.Node
	penVM   gorgonia.VM
	penVal  gorgonia.Value

	// sampler draws detached random samples from the live generator for discriminator steps;
	// previewRT runs the EMA-preferred generator for eval/visualization
	sampler   *GeneratorRuntime
	previewRT *GeneratorRuntime
}

// NewTrainer Constructor for Trainer. Creates output directories, samples the fixed
// visualization latents, builds the EMA twin and wires both training tapes.
func NewTrainer(cfg Config) (*Trainer, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("Generator must be provided")
	}
	if cfg.Discriminator == nil {
		return nil, fmt.Errorf("Discriminator must be provided")
	}
	if cfg.GeneratorOptimizer == nil || cfg.DiscriminatorOptimizer == nil {
		return nil, fmt.Errorf("Both optimizers must be provided")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", cfg.BatchSize)
	}
	if cfg.Generator.Graph() == cfg.Discriminator.Graph() {
		return nil, fmt.Errorf("Generator and discriminator must live on separate graphs")
	}
	if cfg.EvalIterations < 0 {
		return nil, fmt.Errorf("Number of eval iterations must be positive, but got %d", cfg.EvalIterations)
	}
	if cfg.EvalIterations == 0 {
		cfg.EvalIterations = 10
	}
	if cfg.ReconWeight == 0 {
		cfg.ReconWeight = 1.0
	}
	if cfg.EMADecay == 0 {
		cfg.EMADecay = 0.999
	}
	if cfg.Features == nil {
		cfg.Features = PooledFeatures
	}
	for _, dir := range []string{cfg.VisDir, cfg.ValVisDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "Can't create visualization directory")
		}
	}

	t := &Trainer{
		cfg:           cfg,
		generator:     cfg.Generator,
		discriminator: cfg.Discriminator,
	}
	genCfg := cfg.Generator.Config()
	t.visLatents = cfg.Generator.SampleLatents(cfg.BatchSize)
	t.zeroReal = tensor.New(tensor.WithShape(cfg.BatchSize, genCfg.Channels, genCfg.ImageSize, genCfg.ImageSize), tensor.WithBacking(make([]float64, cfg.BatchSize*genCfg.Channels*genCfg.ImageSize*genCfg.ImageSize)))

	if !cfg.DisableEMA {
		ema, err := cfg.Generator.CloneValues()
		if err != nil {
			return nil, errors.Wrap(err, "Can't build EMA generator")
		}
		t.emaGenerator = ema
	}

	if err := t.wireGeneratorTape(); err != nil {
		return nil, errors.Wrap(err, "Can't wire generator training tape")
	}
	if err := t.wirePenaltyTape(); err != nil {
		return nil, errors.Wrap(err, "Can't wire gradient penalty tape")
	}
	if err := t.wireDiscriminatorTape(); err != nil {
		return nil, errors.Wrap(err, "Can't wire discriminator training tape")
	}

	sampler, err := cfg.Generator.Runtime(cfg.BatchSize, false)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build detached sampler")
	}
	t.sampler = sampler

	previewGen := t.emaGenerator
	if previewGen == nil {
		previewGen = t.generator
	}
	previewRT, err := previewGen.Runtime(cfg.BatchSize, true)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build preview runtime")
	}
	t.previewRT = previewRT
	return t, nil
}

func (t *Trainer) wireGeneratorTape() error {
	g := t.generator.Graph()
	pipe, learnables, err := t.generator.Wire(g, t.cfg.BatchSize, false)
	if err != nil {
		return errors.Wrap(err, "Can't wire generator branches")
	}
	// The discriminator enters this graph as an aliased copy: it scores the random branch
	// but stays out of the gradient set and the solver step, so no gradient flows into it
	score, err := t.discriminator.Score(g, pipe.Rand, t.cfg.BatchSize, "_gan")
	if err != nil {
		return errors.Wrap(err, "Can't score random branch")
	}
	glossRand, err := BCEWithLogitsLoss(score, 1)
	if err != nil {
		return errors.Wrap(err, "Can't build adversarial loss of random branch")
	}
	gorgonia.WithName("generator_random_loss")(glossRand)
	recon, err := MSELoss(pipe.Pred, pipe.Real)
	if err != nil {
		return errors.Wrap(err, "Can't build reconstruction loss")
	}
	// The weight applies to the reconstruction term only, never to the adversarial term
	weighted, err := gorgonia.Mul(gorgonia.NewConstant(t.cfg.ReconWeight), recon)
	if err != nil {
		return errors.Wrap(err, "Can't scale reconstruction loss")
	}
	gorgonia.WithName("generator_recon_loss")(weighted)
	total, err := gorgonia.Add(glossRand, weighted)
	if err != nil {
		return errors.Wrap(err, "Can't build total generator loss")
	}
	gorgonia.WithName("generator_loss")(total)

	gorgonia.Read(total, &t.genTotalVal)
	gorgonia.Read(weighted, &t.genReconVal)
	gorgonia.Read(glossRand, &t.genRandVal)

	if _, err := gorgonia.Grad(total, learnables...); err != nil {
		return errors.Wrap(err, "Can't differentiate generator loss")
	}
	t.genPipe = pipe
	t.genLearnables = learnables
	t.genVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	return nil
}

// wirePenaltyTape Builds the R1 penalty graph: an aliased discriminator copy scores the real
// batch and the per-sample squared norm of d(sum of scores)/d(input) is read out. The aliased
// weights follow every solver step against the canonical discriminator, so the penalty is
// always evaluated at the current parameters.
func (t *Trainer) wirePenaltyTape() error {
	g := gorgonia.NewGraph()
	genCfg := t.generator.Config()
	t.penReal = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(t.cfg.BatchSize, genCfg.Channels, genCfg.ImageSize, genCfg.ImageSize), gorgonia.WithName("penalty_real"))
	score, err := t.discriminator.Score(g, t.penReal, t.cfg.BatchSize, "_r1")
	if err != nil {
		return errors.Wrap(err, "Can't score real batch on penalty graph")
	}
	scoreSum, err := gorgonia.Sum(score)
	if err != nil {
		return errors.Wrap(err, "Can't sum real scores")
	}
	gradSq, err := SquaredGradNorm(scoreSum, t.penReal)
	if err != nil {
		return errors.Wrap(err, "Can't build gradient penalty core")
	}
	gorgonia.Read(gradSq, &t.penVal)
	t.penVM = gorgonia.NewTapeMachine(g)
	return nil
}

func (t *Trainer) wireDiscriminatorTape() error {
	g := t.discriminator.Graph()
	genCfg := t.generator.Config()
	t.discReal = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(t.cfg.BatchSize, genCfg.Channels, genCfg.ImageSize, genCfg.ImageSize), gorgonia.WithName("discriminator_real"))
	t.discRand = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(t.cfg.BatchSize, genCfg.Channels, genCfg.ImageSize, genCfg.ImageSize), gorgonia.WithName("discriminator_rand"))

	dReal, err := t.discriminator.Score(g, t.discReal, t.cfg.BatchSize, "")
	if err != nil {
		return errors.Wrap(err, "Can't score real batch")
	}
	dRand, err := t.discriminator.Score(g, t.discRand, t.cfg.BatchSize, "")
	if err != nil {
		return errors.Wrap(err, "Can't score random batch")
	}
	lossReal, err := BCEWithLogitsLoss(dReal, 1)
	if err != nil {
		return errors.Wrap(err, "Can't build real-sample loss")
	}
	// Zero-centered R1 penalty: 10x the mean squared norm of d(score)/d(real input). The
	// per-sample norms come from the penalty tape as a plain input, which keeps this graph
	// free of symbolic-gradient nodes so Grad over the learnables stays possible.
	t.discRegIn = gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(t.cfg.BatchSize), gorgonia.WithName("discriminator_reg_input"))
	regMean, err := gorgonia.Mean(t.discRegIn)
	if err != nil {
		return errors.Wrap(err, "Can't average gradient penalty")
	}
	reg, err := gorgonia.Mul(gorgonia.NewConstant(10.0), regMean)
	if err != nil {
		return errors.Wrap(err, "Can't scale gradient penalty")
	}
	gorgonia.WithName("discriminator_regularizer")(reg)
	lossRand, err := BCEWithLogitsLoss(dRand, 0)
	if err != nil {
		return errors.Wrap(err, "Can't build random-sample loss")
	}
	withReg, err := gorgonia.Add(lossReal, reg)
	if err != nil {
		return errors.Wrap(err, "Can't add gradient penalty to real-sample loss")
	}
	full, err := gorgonia.Add(withReg, lossRand)
	if err != nil {
		return errors.Wrap(err, "Can't build full discriminator loss")
	}
	gorgonia.WithName("discriminator_loss")(full)
	combined, err := gorgonia.Add(lossReal, lossRand)
	if err != nil {
		return errors.Wrap(err, "Can't combine real and random losses")
	}

	gorgonia.Read(combined, &t.discCombinedVal)
	gorgonia.Read(reg, &t.discRegVal)
	gorgonia.Read(lossReal, &t.discRealVal)
	gorgonia.Read(lossRand, &t.discRandVal)

	learnables := t.discriminator.Learnables()
	if _, err := gorgonia.Grad(full, learnables...); err != nil {
		return errors.Wrap(err, "Can't differentiate discriminator loss")
	}
	t.discLearnables = learnables
	t.discVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	return nil
}

// EMAGenerator Returns the exponential-moving-average twin, or nil when disabled
func (t *Trainer) EMAGenerator() *SceneGenerator {
	return t.emaGenerator
}

// TrainStep Runs a generator update followed by a discriminator update on the same batch.
// The iteration index is metadata only and does not influence control flow. Returns the seven
// scalar metrics of both updates.
func (t *Trainer) TrainStep(batch Batch, it int) (map[string]float64, error) {
	genTotal, genRecon, genRand, err := t.TrainStepGenerator(batch)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do generator step")
	}
	discLoss, reg, realD, randD, err := t.TrainStepDiscriminator(batch)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do discriminator step")
	}
	return map[string]float64{
		"generator_total":  genTotal,
		"generator_random": genRand,
		"recon":            genRecon,
		"discriminator":    discLoss,
		"regularizer":      reg,
		"real_d":           realD,
		"rand_d":           randD,
	}, nil
}

// TrainStepGenerator One generator update: the discriminator stays frozen (aliased copy
// outside the gradient set), the loss is adversarial(random branch toward label 1) plus
// weighted reconstruction, and the EMA twin is averaged toward the stepped parameters.
// Returns total loss, reconstruction loss and random-branch adversarial loss.
func (t *Trainer) TrainStepGenerator(batch Batch) (float64, float64, float64, error) {
	latents := t.generator.SampleLatents(t.cfg.BatchSize)
	if err := gorgonia.Let(t.genPipe.Real, batch.Images); err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't init real input value")
	}
	if err := gorgonia.Let(t.genPipe.RandLatent, latents); err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't init latent input value")
	}
	if err := t.genVM.RunAll(); err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't run VM")
	}
	if err := t.cfg.GeneratorOptimizer.Step(gorgonia.NodesToValueGrads(t.genLearnables)); err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't step generator optimizer")
	}
	t.genVM.Reset()

	if t.emaGenerator != nil {
		if err := UpdateAverage(t.emaGenerator, t.generator, t.cfg.EMADecay); err != nil {
			return 0, 0, 0, errors.Wrap(err, "Can't update EMA generator")
		}
	}

	total, err := scalarOf(t.genTotalVal)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't read total generator loss")
	}
	recon, err := scalarOf(t.genReconVal)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't read reconstruction loss")
	}
	randLoss, err := scalarOf(t.genRandVal)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "Can't read random-branch loss")
	}
	return total, recon, randLoss, nil
}

// TrainStepDiscriminator One discriminator update: the random sample is synthesized by the
// detached sampler (no gradient can reach generator parameters), the R1 penalty of the real
// input is evaluated on the penalty tape and fed into the loss, and only discriminator
// parameters are stepped. Returns combined (real+random) loss, penalty value, real loss and
// random loss.
func (t *Trainer) TrainStepDiscriminator(batch Batch) (float64, float64, float64, float64, error) {
	sampled, err := t.sampler.Run(batch.Images, t.generator.SampleLatents(t.cfg.BatchSize))
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't synthesize detached random sample")
	}
	if err := gorgonia.Let(t.penReal, batch.Images); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't init penalty input value")
	}
	if err := t.penVM.RunAll(); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't run penalty VM")
	}
	t.penVM.Reset()
	gradSq, err := detachValue(t.penVal)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't detach penalty value")
	}
	if err := gorgonia.Let(t.discReal, batch.Images); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't init real input value")
	}
	if err := gorgonia.Let(t.discRand, sampled.Rand); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't init random input value")
	}
	if err := gorgonia.Let(t.discRegIn, gradSq); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't init penalty norm value")
	}
	if err := t.discVM.RunAll(); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't run VM")
	}
	if err := t.cfg.DiscriminatorOptimizer.Step(gorgonia.NodesToValueGrads(t.discLearnables)); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't step discriminator optimizer")
	}
	t.discVM.Reset()

	combined, err := scalarOf(t.discCombinedVal)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't read combined discriminator loss")
	}
	reg, err := scalarOf(t.discRegVal)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't read gradient penalty")
	}
	realLoss, err := scalarOf(t.discRealVal)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't read real-sample loss")
	}
	randLoss, err := scalarOf(t.discRandVal)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "Can't read random-sample loss")
	}
	return combined, reg, realLoss, randLoss, nil
}

// Close Releases tape machines and inference runtimes
func (t *Trainer) Close() error {
	var firstErr error
	if t.genVM != nil {
		if err := t.genVM.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.discVM != nil {
		if err := t.discVM.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.penVM != nil {
		if err := t.penVM.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.sampler != nil {
		if err := t.sampler.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.previewRT != nil {
		if err := t.previewRT.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func scalarOf(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("Value has not been computed yet")
	}
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
		return 0, fmt.Errorf("Value holds %d elements, expected scalar", len(data))
	default:
		return 0, fmt.Errorf("Value is not float64 backed")
	}
}
