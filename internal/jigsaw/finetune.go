package jigsaw

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"jigsawssl/internal/nn"
)

// GetFinetuningModel rebuilds the classifier, optionally restores its
// weights from checkpoint, and returns a model exposing the encoder
// features. In 2D mode the single output is the flattened per-patch
// embedding. In 3D mode output 0 is the per-patch embedding and the
// remaining outputs are the encoder taps, deepest first.
func (b *Builder) GetFinetuningModel(ctx context.Context, checkpoint string) (*nn.MultiModel, error) {
	if b.dims == 3 && b.layerData == nil {
		return nil, ErrNoLayerData
	}

	complete, err := b.ApplyModel()
	if err != nil {
		return nil, err
	}
	if checkpoint != "" {
		if err := LoadWeights(ctx, checkpoint, complete); err != nil {
			return nil, err
		}
	}
	enc := b.enc
	in := b.InputShape()

	if b.dims == 2 {
		features, err := nn.NewModel(FeaturesName, in, nil, nn.NewTimeDistributed(enc), nn.NewFlatten())
		if err != nil {
			return nil, err
		}
		b.cleanup.Track(features)
		out, err := nn.NewMultiModel(FinetuneName, features)
		if err != nil {
			return nil, err
		}
		b.cleanup.Track(out)
		klog.V(1).InfoS("built fine-tuning model", "outputs", out.NumOutputs(), "checkpoint", checkpoint)
		return out, nil
	}

	features, err := nn.NewModel(FeaturesName, in, nil, nn.NewTimeDistributed(enc))
	if err != nil {
		return nil, err
	}
	b.cleanup.Track(features)

	taps := b.layerData.Taps
	skips := make([]*nn.Model, len(taps))
	for i, tap := range taps {
		sub, err := enc.Prefix(fmt.Sprintf("encoder_tap_%d", i), tap.Layer+1)
		if err != nil {
			return nil, err
		}
		b.cleanup.Track(sub)
		skip, err := nn.NewModel(fmt.Sprintf("jigsaw_skip_%d", i), in, nil, nn.NewTimeDistributed(sub))
		if err != nil {
			return nil, err
		}
		b.cleanup.Track(skip)
		skips[len(taps)-1-i] = skip
	}

	out, err := nn.NewMultiModel(FinetuneName, append([]*nn.Model{features}, skips...)...)
	if err != nil {
		return nil, err
	}
	b.cleanup.Track(out)

	layers := enc.Layers()
	if len(layers) >= 3 {
		deepest := len(layers) - 3
		b.layerData.Deepest = &DeepestLayer{
			Shape:   enc.LayerOutputShape(deepest),
			Pooling: nn.IsPooling(layers[deepest]),
		}
	}
	klog.V(1).InfoS("built fine-tuning model", "outputs", out.NumOutputs(), "taps", len(taps), "checkpoint", checkpoint)
	return out, nil
}
