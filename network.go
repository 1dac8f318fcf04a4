package swapnerf

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
// out - alias to activated output of last layer
//
type Network struct {
	Name   string
	Layers []*Layer
	out    *gorgonia.Node
}

// Out Returns reference to output node
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			if l.WeightNode != nil {
				learnables = append(learnables, l.WeightNode)
			}
			if l.BiasNode != nil {
				learnables = append(learnables, l.BiasNode)
			}
		}
	}
	return learnables
}

// Apply Wires feedforward for provided input and returns the activated output of the last layer.
// Unlike Fwd it does not store the output node, so the same network can be applied to multiple
// inputs on the same graph (the op nodes are distinct, the weight nodes are shared).
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *Network) Apply(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}

	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network must have one layer atleast")
	}

	lastActivated := input
	for i := 0; i < len(net.Layers); i++ {
		if net.Layers[i] == nil {
			return nil, fmt.Errorf("Network's layer #%d is nil", i)
		}
		if net.Layers[i].WeightNode == nil && !noWeightsAllowed(net.Layers[i].Type) {
			return nil, fmt.Errorf("Network's layer's #%d WeightNode is nil", i)
		}
		nonActivated, err := net.Layers[i].Fwd(batchSize, lastActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Network, Layer #%d] Can't feedforward input before activation", i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%d", networkName, i))(nonActivated)
		activated, err := net.Layers[i].Activation(nonActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of Network's layer #%d", i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_activated_%d", networkName, i))(activated)
		lastActivated = activated
	}
	return lastActivated, nil
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *Network) Fwd(input *gorgonia.Node, batchSize int) error {
	out, err := net.Apply(input, batchSize)
	if err != nil {
		return err
	}
	net.out = out
	return nil
}

// CloneOnto Re-materializes the layer stack on another graph. Weight and bias nodes of the
// clone share backing values with the receiver, so solver steps against the original are
// visible through the clone while the clone's own nodes stay out of any gradient set.
//
// g - target graph
// suffix - appended to weight node names to keep names unique on the target graph
//
func (net *Network) CloneOnto(g *gorgonia.ExprGraph, suffix string) (*Network, error) {
	cloned := &Network{
		Name:   net.Name + suffix,
		Layers: make([]*Layer, len(net.Layers)),
	}
	for i, l := range net.Layers {
		if l == nil {
			return nil, fmt.Errorf("Network's layer #%d is nil", i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("Network's layer #%d has nil weight node", i)
		}
		cloned.Layers[i] = l.clone()
		if l.WeightNode != nil {
			cloned.Layers[i].WeightNode = gorgonia.NewTensor(g, gorgonia.Float64, l.WeightNode.Dims(), gorgonia.WithShape(l.WeightNode.Shape()...), gorgonia.WithName(l.WeightNode.Name()+suffix), gorgonia.WithValue(l.WeightNode.Value()))
		}
		if l.BiasNode != nil {
			cloned.Layers[i].BiasNode = gorgonia.NewTensor(g, gorgonia.Float64, l.BiasNode.Dims(), gorgonia.WithShape(l.BiasNode.Shape()...), gorgonia.WithName(l.BiasNode.Name()+suffix), gorgonia.WithValue(l.BiasNode.Value()))
		}
	}
	return cloned, nil
}

// CopyValuesFrom Overwrites every parameter of the receiver with a deep copy of the
// corresponding parameter of src. Networks must have identical layer structure.
func (net *Network) CopyValuesFrom(src *Network) error {
	dst := net.Learnables()
	from := src.Learnables()
	if len(dst) != len(from) {
		return fmt.Errorf("Networks have different number of learnables: %d vs %d", len(dst), len(from))
	}
	for i := range dst {
		dstDense, ok := dst[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("Learnable #%d of target network does not hold a dense tensor", i)
		}
		srcDense, ok := from[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("Learnable #%d of source network does not hold a dense tensor", i)
		}
		dstData, ok := dstDense.Data().([]float64)
		if !ok {
			return fmt.Errorf("Learnable #%d of target network is not float64 backed", i)
		}
		srcData, ok := srcDense.Data().([]float64)
		if !ok {
			return fmt.Errorf("Learnable #%d of source network is not float64 backed", i)
		}
		if len(dstData) != len(srcData) {
			return fmt.Errorf("Learnable #%d size mismatch: %d vs %d", i, len(dstData), len(srcData))
		}
		copy(dstData, srcData)
	}
	return nil
}
