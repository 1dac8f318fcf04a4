package swapnerf

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DiscriminatorNet Abstraction for discriminator part of GAN. It's simple neural network actually.
// Maps an image batch (batch, channels, height, width) to one raw real/fake score (logit) per image.
type DiscriminatorNet struct {
	g       *gorgonia.ExprGraph
	private *Network
}

// Discriminator Constructor for DiscriminatorNet
func Discriminator(g *gorgonia.ExprGraph, layers ...*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{
		g: g,
		private: &Network{
			Name:   "discriminator",
			Layers: layers,
		},
	}
}

// DefaultDiscriminator Conv stack for (batch, channels, imageSize, imageSize) inputs:
// two strided convolutions, flatten, then a linear head producing a single logit per image.
// imageSize must be divisible by 4.
func DefaultDiscriminator(g *gorgonia.ExprGraph, imageSize, channels, hiddenChannels int) (*DiscriminatorNet, error) {
	if imageSize%4 != 0 {
		return nil, fmt.Errorf("Image size must be divisible by 4, but got %d", imageSize)
	}
	if hiddenChannels < 1 {
		return nil, fmt.Errorf("Number of hidden channels must be positive, but got %d", hiddenChannels)
	}
	conv0 := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(hiddenChannels, channels, 3, 3), gorgonia.WithName("discriminator_conv0_w"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	conv1 := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2*hiddenChannels, hiddenChannels, 3, 3), gorgonia.WithName("discriminator_conv1_w"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	headIn := 2 * hiddenChannels * (imageSize / 4) * (imageSize / 4)
	head := linearLayer(g, "discriminator_head", headIn, 1, NoActivation)
	return Discriminator(g,
		&Layer{
			WeightNode:   conv0,
			Type:         LayerConvolutional,
			Activation:   Rectify,
			KernelHeight: 3,
			KernelWidth:  3,
			Padding:      []int{1, 1},
			Stride:       []int{2, 2},
			Dilation:     []int{1, 1},
		},
		&Layer{
			WeightNode:   conv1,
			Type:         LayerConvolutional,
			Activation:   Rectify,
			KernelHeight: 3,
			KernelWidth:  3,
			Padding:      []int{1, 1},
			Stride:       []int{2, 2},
			Dilation:     []int{1, 1},
		},
		&Layer{Type: LayerFlatten, Activation: NoActivation},
		head,
	), nil
}

// Graph Returns the graph holding canonical weights
func (net *DiscriminatorNet) Graph() *gorgonia.ExprGraph {
	return net.g
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Score Wires the discriminator's forward pass for provided input node and returns the score
// node of shape (batchSize, 1). On the home graph the canonical weights are used directly; on a
// foreign graph the weights enter as aliased copies excluded from that graph's gradient set
// (the frozen-discriminator mechanism of the generator training step).
func (net *DiscriminatorNet) Score(g *gorgonia.ExprGraph, input *gorgonia.Node, batchSize int, suffix string) (*gorgonia.Node, error) {
	target := net.private
	if g != net.g {
		var err error
		target, err = net.private.CloneOnto(g, suffix)
		if err != nil {
			return nil, errors.Wrap(err, "Can't clone discriminator onto target graph")
		}
	}
	score, err := target.Apply(input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't feedforward input")
	}
	return score, nil
}
