package swapnerf

import (
	"fmt"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GeneratorConfig Hyperparameters of the scene generator
//
// ImageSize - side of the square output image
// Channels - number of image channels
// LatentDim - size of the latent code; first half encodes shape, second half appearance
// HiddenDim - width of the hidden layers
// UVSamples - number of (u,v) surface samples emitted per image
// Seed - seed for the latent sampler
//
type GeneratorConfig struct {
	ImageSize int
	Channels  int
	LatentDim int
	HiddenDim int
	UVSamples int
	Seed      int64
}

func (cfg GeneratorConfig) withDefaults() GeneratorConfig {
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 16
	}
	if cfg.Channels == 0 {
		cfg.Channels = 3
	}
	if cfg.LatentDim == 0 {
		cfg.LatentDim = 64
	}
	if cfg.HiddenDim == 0 {
		cfg.HiddenDim = 128
	}
	if cfg.UVSamples == 0 {
		cfg.UVSamples = 16
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1337
	}
	return cfg
}

// SceneGenerator Latent-swap scene generator. Produces three image branches per real batch:
// 'pred' (reconstruction of the real batch), 'swap' (appearance codes rotated one position
// through the batch) and 'rand' (decoded from a freshly sampled latent batch), plus per-branch
// UV surface samples on demand.
type SceneGenerator struct {
	g   *gorgonia.ExprGraph
	cfg GeneratorConfig

	encoder *Network
	decoder *Network
	uvHead  *Network

	gaussian *rng.GaussianGenerator
}

// GeneratorPipeline Wired three-branch forward pass of a SceneGenerator on some graph
//
// Real - input node for the real image batch
// RandLatent - input node for the sampled latent batch
// Pred, Swap, Rand - output image nodes
// UV - output (u,v) nodes ordered pred/swap/rand; nil entries unless wired with needUV
//
type GeneratorPipeline struct {
	Real       *gorgonia.Node
	RandLatent *gorgonia.Node
	Pred       *gorgonia.Node
	Swap       *gorgonia.Node
	Rand       *gorgonia.Node
	UV         [3]*gorgonia.Node
}

func linearLayer(g *gorgonia.ExprGraph, name string, in, out int, activation ActivationFunc) *Layer {
	w := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(out, in), gorgonia.WithName(name+"_w"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	b := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, out), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	return &Layer{
		WeightNode: w,
		BiasNode:   b,
		Type:       LayerLinear,
		Activation: activation,
	}
}

// NewSceneGenerator Constructor for SceneGenerator. Canonical weights live on provided graph.
func NewSceneGenerator(g *gorgonia.ExprGraph, cfg GeneratorConfig) (*SceneGenerator, error) {
	cfg = cfg.withDefaults()
	if cfg.LatentDim%2 != 0 {
		return nil, fmt.Errorf("Latent dimension must be even (shape half + appearance half), but got %d", cfg.LatentDim)
	}
	pixels := cfg.Channels * cfg.ImageSize * cfg.ImageSize
	gen := &SceneGenerator{
		g:        g,
		cfg:      cfg,
		gaussian: rng.NewGaussianGenerator(cfg.Seed),
	}
	gen.encoder = &Network{
		Name: "generator_encoder",
		Layers: []*Layer{
			{Type: LayerFlatten, Activation: NoActivation},
			linearLayer(g, "generator_encoder_0", pixels, cfg.HiddenDim, Rectify),
			linearLayer(g, "generator_encoder_1", cfg.HiddenDim, cfg.LatentDim, Tanh),
		},
	}
	gen.decoder = &Network{
		Name: "generator_decoder",
		Layers: []*Layer{
			linearLayer(g, "generator_decoder_0", cfg.LatentDim, cfg.HiddenDim, Rectify),
			linearLayer(g, "generator_decoder_1", cfg.HiddenDim, pixels, Sigmoid),
		},
	}
	gen.uvHead = &Network{
		Name: "generator_uv",
		Layers: []*Layer{
			linearLayer(g, "generator_uv_0", cfg.LatentDim, 2*cfg.UVSamples, Sigmoid),
		},
	}
	return gen, nil
}

// Graph Returns the graph holding canonical weights
func (gen *SceneGenerator) Graph() *gorgonia.ExprGraph {
	return gen.g
}

// Config Returns generator's hyperparameters
func (gen *SceneGenerator) Config() GeneratorConfig {
	return gen.cfg
}

// Learnables Returns learnables nodes of all three sub-networks
func (gen *SceneGenerator) Learnables() gorgonia.Nodes {
	learnables := gen.encoder.Learnables()
	learnables = append(learnables, gen.decoder.Learnables()...)
	learnables = append(learnables, gen.uvHead.Learnables()...)
	return learnables
}

// SampleLatents Draws a batch of latent codes from the standard normal distribution
func (gen *SceneGenerator) SampleLatents(batchSize int) *tensor.Dense {
	data := make([]float64, batchSize*gen.cfg.LatentDim)
	for i := range data {
		data[i] = gen.gaussian.Gaussian(0, 1)
	}
	return tensor.New(tensor.WithShape(batchSize, gen.cfg.LatentDim), tensor.WithBacking(data))
}

// CloneValues Builds an independent twin of the generator on a fresh graph with parameters
// deep-copied from the receiver. Used for the exponential-moving-average generator.
func (gen *SceneGenerator) CloneValues() (*SceneGenerator, error) {
	twin, err := NewSceneGenerator(gorgonia.NewGraph(), gen.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Can't construct twin generator")
	}
	if err := twin.encoder.CopyValuesFrom(gen.encoder); err != nil {
		return nil, errors.Wrap(err, "Can't copy encoder parameters")
	}
	if err := twin.decoder.CopyValuesFrom(gen.decoder); err != nil {
		return nil, errors.Wrap(err, "Can't copy decoder parameters")
	}
	if err := twin.uvHead.CopyValuesFrom(gen.uvHead); err != nil {
		return nil, errors.Wrap(err, "Can't copy UV head parameters")
	}
	return twin, nil
}

// sliceMatrix Slices provided (rows, cols) matrix node by row and column ranges. Width-1
// ranges collapse the sliced node to a lower rank, so the result is reshaped back to 2-D.
func sliceMatrix(z *gorgonia.Node, rowFrom, rowTo, colFrom, colTo int) (*gorgonia.Node, error) {
	out, err := gorgonia.Slice(z, gorgonia.S(rowFrom, rowTo), gorgonia.S(colFrom, colTo))
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice matrix")
	}
	if out.Dims() != 2 {
		out, err = gorgonia.Reshape(out, tensor.Shape{rowTo - rowFrom, colTo - colFrom})
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape slice back to matrix")
		}
	}
	return out, nil
}

// rotateRows Rotates the leading axis of provided matrix node by one position (sample i takes
// the appearance of sample i+1, the last one wraps around). Identity for single-sample batches.
func rotateRows(z *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	if batchSize < 2 {
		return z, nil
	}
	cols := z.Shape()[1]
	tail, err := sliceMatrix(z, 1, batchSize, 0, cols)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice rows [1;batch)")
	}
	head, err := sliceMatrix(z, 0, 1, 0, cols)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice row [0;1)")
	}
	rotated, err := gorgonia.Concat(0, tail, head)
	if err != nil {
		return nil, errors.Wrap(err, "Can't concatenate rotated rows")
	}
	return rotated, nil
}

// Wire Builds the three-branch forward pass on provided graph. When the graph differs from the
// generator's home graph the weights enter it as aliased copies (shared backing values), so the
// wired pipeline follows solver steps against the canonical weights without being trainable itself.
func (gen *SceneGenerator) Wire(g *gorgonia.ExprGraph, batchSize int, needUV bool) (*GeneratorPipeline, gorgonia.Nodes, error) {
	encoder, decoder, uvHead := gen.encoder, gen.decoder, gen.uvHead
	if g != gen.g {
		var err error
		if encoder, err = gen.encoder.CloneOnto(g, "_shared"); err != nil {
			return nil, nil, errors.Wrap(err, "Can't clone encoder onto target graph")
		}
		if decoder, err = gen.decoder.CloneOnto(g, "_shared"); err != nil {
			return nil, nil, errors.Wrap(err, "Can't clone decoder onto target graph")
		}
		if uvHead, err = gen.uvHead.CloneOnto(g, "_shared"); err != nil {
			return nil, nil, errors.Wrap(err, "Can't clone UV head onto target graph")
		}
	}

	cfg := gen.cfg
	half := cfg.LatentDim / 2
	pipe := &GeneratorPipeline{}
	pipe.Real = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(batchSize, cfg.Channels, cfg.ImageSize, cfg.ImageSize), gorgonia.WithName("generator_real"))
	pipe.RandLatent = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, cfg.LatentDim), gorgonia.WithName("generator_rand_latent"))

	z, err := encoder.Apply(pipe.Real, batchSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't encode real batch")
	}

	// Latent-swap branch: keep the shape half, rotate the appearance half through the batch
	shapeCode, err := sliceMatrix(z, 0, batchSize, 0, half)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't slice shape half of latent code")
	}
	appearanceCode, err := sliceMatrix(z, 0, batchSize, half, cfg.LatentDim)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't slice appearance half of latent code")
	}
	rotatedAppearance, err := rotateRows(appearanceCode, batchSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't rotate appearance codes")
	}
	zSwap, err := gorgonia.Concat(1, shapeCode, rotatedAppearance)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't concatenate swapped latent code")
	}

	branches := []struct {
		name   string
		latent *gorgonia.Node
		out    **gorgonia.Node
	}{
		{"pred", z, &pipe.Pred},
		{"swap", zSwap, &pipe.Swap},
		{"rand", pipe.RandLatent, &pipe.Rand},
	}
	for i, branch := range branches {
		flat, err := decoder.Apply(branch.latent, batchSize)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't decode '%s' branch", branch.name))
		}
		image, err := gorgonia.Reshape(flat, tensor.Shape{batchSize, cfg.Channels, cfg.ImageSize, cfg.ImageSize})
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't reshape '%s' branch into image batch", branch.name))
		}
		gorgonia.WithName(fmt.Sprintf("generator_%s", branch.name))(image)
		*branch.out = image

		if needUV {
			uvFlat, err := uvHead.Apply(branch.latent, batchSize)
			if err != nil {
				return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't compute UV samples of '%s' branch", branch.name))
			}
			uv, err := gorgonia.Reshape(uvFlat, tensor.Shape{batchSize, cfg.UVSamples, 2})
			if err != nil {
				return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't reshape UV samples of '%s' branch", branch.name))
			}
			gorgonia.WithName(fmt.Sprintf("generator_uv_%s", branch.name))(uv)
			pipe.UV[i] = uv
		}
	}

	// Only parameters that participate in the wired pass belong to its gradient set
	learnables := encoder.Learnables()
	learnables = append(learnables, decoder.Learnables()...)
	if needUV {
		learnables = append(learnables, uvHead.Learnables()...)
	}
	return pipe, learnables, nil
}

// GeneratorOutput Materialized outputs of one generator run
type GeneratorOutput struct {
	Pred *tensor.Dense
	Swap *tensor.Dense
	Rand *tensor.Dense
	UVs  []*tensor.Dense
}

// GeneratorRuntime Inference-only wiring of a SceneGenerator: a dedicated graph with aliased
// weights plus a tape machine. Nothing computed here tracks gradients, so its outputs are
// detached from any training graph.
type GeneratorRuntime struct {
	pipe      *GeneratorPipeline
	vm        gorgonia.VM
	batchSize int
	needUV    bool

	predVal gorgonia.Value
	swapVal gorgonia.Value
	randVal gorgonia.Value
	uvVals  [3]gorgonia.Value
}

// Runtime Builds an inference runtime for provided batch size
func (gen *SceneGenerator) Runtime(batchSize int, needUV bool) (*GeneratorRuntime, error) {
	g := gorgonia.NewGraph()
	pipe, _, err := gen.Wire(g, batchSize, needUV)
	if err != nil {
		return nil, errors.Wrap(err, "Can't wire inference pipeline")
	}
	rt := &GeneratorRuntime{
		pipe:      pipe,
		batchSize: batchSize,
		needUV:    needUV,
	}
	gorgonia.Read(pipe.Pred, &rt.predVal)
	gorgonia.Read(pipe.Swap, &rt.swapVal)
	gorgonia.Read(pipe.Rand, &rt.randVal)
	if needUV {
		for i := range pipe.UV {
			gorgonia.Read(pipe.UV[i], &rt.uvVals[i])
		}
	}
	rt.vm = gorgonia.NewTapeMachine(g)
	return rt, nil
}

// Run Feeds provided real batch and latent batch through the pipeline and returns
// detached copies of every output
func (rt *GeneratorRuntime) Run(real, latents *tensor.Dense) (*GeneratorOutput, error) {
	if err := gorgonia.Let(rt.pipe.Real, real); err != nil {
		return nil, errors.Wrap(err, "Can't init real input value")
	}
	if err := gorgonia.Let(rt.pipe.RandLatent, latents); err != nil {
		return nil, errors.Wrap(err, "Can't init latent input value")
	}
	if err := rt.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	rt.vm.Reset()

	out := &GeneratorOutput{}
	var err error
	if out.Pred, err = detachValue(rt.predVal); err != nil {
		return nil, errors.Wrap(err, "Can't detach 'pred' output")
	}
	if out.Swap, err = detachValue(rt.swapVal); err != nil {
		return nil, errors.Wrap(err, "Can't detach 'swap' output")
	}
	if out.Rand, err = detachValue(rt.randVal); err != nil {
		return nil, errors.Wrap(err, "Can't detach 'rand' output")
	}
	if rt.needUV {
		out.UVs = make([]*tensor.Dense, len(rt.uvVals))
		for i := range rt.uvVals {
			if out.UVs[i], err = detachValue(rt.uvVals[i]); err != nil {
				return nil, errors.Wrap(err, "Can't detach UV output")
			}
		}
	}
	return out, nil
}

// Close Releases the underlying tape machine
func (rt *GeneratorRuntime) Close() error {
	return rt.vm.Close()
}

func detachValue(v gorgonia.Value) (*tensor.Dense, error) {
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Value is not a dense tensor")
	}
	return dense.Clone().(*tensor.Dense), nil
}
