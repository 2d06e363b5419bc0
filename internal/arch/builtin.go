package arch

import (
	"fmt"
	"math/rand"

	"jigsawssl/internal/nn"
)

// SimpleConvEncoder stacks depth blocks of conv(3)+activation+maxpool(2),
// doubling filters per block, then flattens into a dense embedding. It
// works on 2D and 3D channels-last inputs; the activation of every block
// is tapped.
//
// Options: filters (8), depth (2), activation ("relu"), seed (1).
func SimpleConvEncoder(inputShape []int, embedDim int, opts Options) (Encoder, error) {
	filters, err := opts.Int("filters", 8)
	if err != nil {
		return Encoder{}, err
	}
	depth, err := opts.Int("depth", 2)
	if err != nil {
		return Encoder{}, err
	}
	activation, err := opts.String("activation", "relu")
	if err != nil {
		return Encoder{}, err
	}
	seed, err := opts.Int64("seed", 1)
	if err != nil {
		return Encoder{}, err
	}
	if depth <= 0 || filters <= 0 {
		return Encoder{}, fmt.Errorf("simple_conv: depth and filters must be positive, got depth=%d filters=%d", depth, filters)
	}

	var layers []nn.Layer
	var taps []int
	for block := 0; block < depth; block++ {
		layers = append(layers, nn.NewConv(filters<<block, 3, ""), nn.NewActivation(activation))
		taps = append(taps, len(layers)-1)
		layers = append(layers, nn.NewMaxPool(2))
	}
	layers = append(layers, nn.NewFlatten(), nn.NewDense(embedDim, activation))

	m, err := nn.NewModel("encoder", inputShape, rand.New(rand.NewSource(seed)), layers...)
	if err != nil {
		return Encoder{}, fmt.Errorf("simple_conv: %w", err)
	}
	return Encoder{Model: m, Taps: taps}, nil
}

// FullyEncoder is a two-layer perceptron over the flattened patch. It has
// no skip-connection taps.
//
// Options: hidden (256), activation ("relu"), seed (1).
func FullyEncoder(inputShape []int, embedDim int, opts Options) (Encoder, error) {
	hidden, err := opts.Int("hidden", 256)
	if err != nil {
		return Encoder{}, err
	}
	activation, err := opts.String("activation", "relu")
	if err != nil {
		return Encoder{}, err
	}
	seed, err := opts.Int64("seed", 1)
	if err != nil {
		return Encoder{}, err
	}

	m, err := nn.NewModel("encoder", inputShape, rand.New(rand.NewSource(seed)),
		nn.NewFlatten(),
		nn.NewDense(hidden, activation),
		nn.NewDense(embedDim, activation),
	)
	if err != nil {
		return Encoder{}, fmt.Errorf("fully: %w", err)
	}
	return Encoder{Model: m}, nil
}

func denseHead(defaultUnits, layers int) HeadFactory {
	return func(inputShape []int, opts Options) (*nn.Model, error) {
		units, err := opts.Int("units", defaultUnits)
		if err != nil {
			return nil, err
		}
		seed, err := opts.Int64("seed", 1)
		if err != nil {
			return nil, err
		}
		stack := make([]nn.Layer, layers)
		for i := range stack {
			stack[i] = nn.NewDense(units, "relu")
		}
		return nn.NewModel("head", inputShape, rand.New(rand.NewSource(seed)), stack...)
	}
}
