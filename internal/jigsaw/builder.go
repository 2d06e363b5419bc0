package jigsaw

import (
	"errors"
	"fmt"
	"math/rand"

	"k8s.io/klog/v2"

	"jigsawssl/internal/arch"
	"jigsawssl/internal/nn"
	"jigsawssl/internal/patch"
	"jigsawssl/internal/permutation"
	"jigsawssl/internal/tensor"
)

const (
	ClassifierName = "jigsaw_complete"
	FeaturesName   = "jigsaw_features"
	FinetuneName   = "jigsaw_finetune"
)

// ErrNoLayerData signals a 3D fine-tuning model requested before any
// classifier construction captured encoder taps.
var ErrNoLayerData = errors.New("no layer data for 3D")

type Config struct {
	DataDim             int
	SplitPerSide        int
	PatchJitter         int
	NChannels           int
	LR                  float64
	EmbedDim            int
	Train3D             bool
	PatchDim            int
	TopArchitecture     string
	EncoderArchitecture string
	PermutationPath     string
	NPermutations       int
	Seed                int64
	EncoderOptions      map[string]any
}

func DefaultConfig() Config {
	return Config{
		DataDim:             384,
		SplitPerSide:        3,
		PatchJitter:         0,
		NChannels:           3,
		LR:                  3e-5,
		EmbedDim:            128,
		TopArchitecture:     "big_fully",
		EncoderArchitecture: "simple_conv",
		Seed:                1,
	}
}

// Tap is one encoder activation read out for skip connections.
type Tap struct {
	Layer int
	Shape []int
}

// DeepestLayer describes the last spatial encoder layer, recorded when a
// fine-tuning model is built so a decoder can line up with it.
type DeepestLayer struct {
	Shape   []int
	Pooling bool
}

type LayerTapData struct {
	Taps    []Tap
	Deepest *DeepestLayer
}

// Builder wires one shared encoder into the permutation classifier and the
// fine-tuning feature model. A Builder is owned by a single goroutine.
type Builder struct {
	cfg      Config
	dims     int
	nPatches int
	patchDim int
	perms    permutation.Set
	sampler  *Sampler

	encoderFactory arch.EncoderFactory
	headFactory    arch.HeadFactory

	enc       *nn.Model
	layerData *LayerTapData
	cleanup   nn.Registry
}

func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.DataDim <= 0 || cfg.SplitPerSide <= 0 || cfg.NChannels <= 0 || cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("data_dim, split_per_side, n_channels and embed_dim must be positive: %+v", cfg)
	}
	if cfg.PatchJitter < 0 || cfg.PatchDim < 0 {
		return nil, fmt.Errorf("patch_jitter and patch_dim must be non-negative")
	}
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LR)
	}

	b := &Builder{
		cfg:      cfg,
		dims:     spatialDims(cfg.Train3D),
		patchDim: cfg.PatchDim,
		sampler:  NewSampler(cfg.Seed),
	}
	grid := patch.Grid{Split: cfg.SplitPerSide, Dims: b.dims}
	b.nPatches = grid.Cells()
	if b.patchDim == 0 {
		if cfg.DataDim%cfg.SplitPerSide != 0 {
			return nil, fmt.Errorf("%w: data_dim %d not divisible by split_per_side %d", patch.ErrShape, cfg.DataDim, cfg.SplitPerSide)
		}
		b.patchDim = cfg.DataDim / cfg.SplitPerSide
	}

	var err error
	if b.encoderFactory, err = arch.ResolveEncoder(cfg.EncoderArchitecture); err != nil {
		return nil, err
	}
	if b.headFactory, err = arch.ResolveHead(cfg.TopArchitecture); err != nil {
		return nil, err
	}
	if b.perms, err = permutation.Load(cfg.PermutationPath, cfg.NPermutations, b.nPatches); err != nil {
		return nil, err
	}

	klog.V(1).InfoS("jigsaw builder ready", "patches", b.nPatches, "patch_dim", b.patchDim,
		"permutations", b.perms.Len(), "mode3d", cfg.Train3D, "encoder", cfg.EncoderArchitecture, "head", cfg.TopArchitecture)
	return b, nil
}

func (b *Builder) Config() Config { return b.cfg }

func (b *Builder) Permutations() permutation.Set { return b.perms }

func (b *Builder) NumPatches() int { return b.nPatches }

func (b *Builder) PatchDim() int { return b.patchDim }

// LayerData is nil in 2D mode and before the first ApplyModel in 3D mode.
func (b *Builder) LayerData() *LayerTapData { return b.layerData }

// Tracked reports how many graphs are awaiting Purge.
func (b *Builder) Tracked() int { return b.cleanup.Len() }

func (b *Builder) patchShape() []int {
	shape := make([]int, 0, b.dims+1)
	for i := 0; i < b.dims; i++ {
		shape = append(shape, b.patchDim)
	}
	return append(shape, b.cfg.NChannels)
}

// InputShape is the per-sample model input (N, p, p[, p], C).
func (b *Builder) InputShape() []int {
	return append([]int{b.nPatches}, b.patchShape()...)
}

func (b *Builder) encoderOptions() arch.Options {
	opts := arch.Options(b.cfg.EncoderOptions)
	if _, ok := opts["seed"]; !ok {
		opts = opts.With("seed", b.cfg.Seed)
	}
	return opts
}

// ApplyModel builds a fresh encoder and the full permutation classifier
// around it. Every graph created here is tracked for Purge, including on
// failure part way through.
func (b *Builder) ApplyModel() (*nn.Model, error) {
	enc, err := b.encoderFactory(b.patchShape(), b.cfg.EmbedDim, b.encoderOptions())
	if err != nil {
		return nil, fmt.Errorf("build encoder %s: %w", b.cfg.EncoderArchitecture, err)
	}
	b.cleanup.Track(enc.Model)
	b.enc = enc.Model
	if b.dims == 3 {
		b.layerData = newLayerTapData(enc)
	}

	flat := b.nPatches * tensor.Size(enc.Model.OutputShape())
	head, err := b.headFactory([]int{flat}, arch.Options{"seed": b.cfg.Seed + 1})
	if err != nil {
		return nil, fmt.Errorf("build head %s: %w", b.cfg.TopArchitecture, err)
	}

	layers := []nn.Layer{nn.NewTimeDistributed(enc.Model), nn.NewFlatten()}
	if head != nil {
		b.cleanup.Track(head)
		layers = append(layers, head.Layers()...)
	}
	layers = append(layers, nn.NewDense(b.perms.Len(), ""), nn.NewSoftmax())

	m, err := nn.NewModel(ClassifierName, b.InputShape(), rand.New(rand.NewSource(b.cfg.Seed+2)), layers...)
	if err != nil {
		return nil, err
	}
	b.cleanup.Track(m)

	enc.Model.LogSummary()
	m.LogSummary()
	return m, nil
}

func newLayerTapData(enc arch.Encoder) *LayerTapData {
	data := &LayerTapData{Taps: make([]Tap, len(enc.Taps))}
	for i, layer := range enc.Taps {
		data.Taps[i] = Tap{Layer: layer, Shape: enc.Model.LayerOutputShape(layer)}
	}
	return data
}

// GetTrainingModel compiles the classifier with Adam at the configured
// learning rate, categorical cross-entropy and accuracy.
func (b *Builder) GetTrainingModel() (*TrainingModel, error) {
	m, err := b.ApplyModel()
	if err != nil {
		return nil, err
	}
	return &TrainingModel{
		Model:     m,
		Optimizer: nn.NewAdam(b.cfg.LR),
		Loss:      nn.CategoricalCrossEntropy,
		Metrics:   map[string]nn.MetricFunc{"accuracy": nn.CategoricalAccuracy},
	}, nil
}

func (b *Builder) checkSample(x tensor.Tensor) error {
	if x.Rank() != b.dims+1 {
		return fmt.Errorf("%w: sample shape %s, want %d spatial axes plus channels", patch.ErrShape, tensor.ShapeString(x.Shape), b.dims)
	}
	if c := x.Shape[b.dims]; c != b.cfg.NChannels {
		return fmt.Errorf("%w: sample has %d channels, want %d", patch.ErrShape, c, b.cfg.NChannels)
	}
	return nil
}

// GetTrainingPreprocessing returns the shuffling transform for training and
// its deterministic counterpart for validation. Incoming labels are replaced
// by the one-hot permutation index.
func (b *Builder) GetTrainingPreprocessing() (train, val PreprocessFunc) {
	perms := b.perms
	mk := func(isTraining bool) PreprocessFunc {
		return func(xs, _ []tensor.Tensor) ([]tensor.Tensor, []tensor.Tensor, error) {
			outX := make([]tensor.Tensor, len(xs))
			outY := make([]tensor.Tensor, len(xs))
			for i, x := range xs {
				if err := b.checkSample(x); err != nil {
					return nil, nil, fmt.Errorf("sample %d: %w", i, err)
				}
				patches, target, _, err := TrainPreprocess(x, b.cfg.SplitPerSide, b.cfg.PatchJitter, perms, isTraining, b.cfg.Train3D, b.sampler)
				if err != nil {
					return nil, nil, fmt.Errorf("sample %d: %w", i, err)
				}
				stacked, err := b.stackPadded(patches)
				if err != nil {
					return nil, nil, fmt.Errorf("sample %d: %w", i, err)
				}
				outX[i], outY[i] = stacked, target
			}
			return outX, outY, nil
		}
	}
	return mk(true), mk(false)
}

// GetFinetuningPreprocessing returns the canonical-order transform for both
// training and validation. In 3D mode the label volume is partitioned the
// same way so label patches line up with input patches.
func (b *Builder) GetFinetuningPreprocessing() (PreprocessFunc, PreprocessFunc) {
	f := func(xs, ys []tensor.Tensor) ([]tensor.Tensor, []tensor.Tensor, error) {
		if b.cfg.Train3D && len(ys) != len(xs) {
			return nil, nil, fmt.Errorf("%w: %d samples with %d labels", patch.ErrShape, len(xs), len(ys))
		}
		outX := make([]tensor.Tensor, len(xs))
		outY := make([]tensor.Tensor, len(ys))
		copy(outY, ys)
		for i, x := range xs {
			if err := b.checkSample(x); err != nil {
				return nil, nil, fmt.Errorf("sample %d: %w", i, err)
			}
			stacked, err := b.finetunePatches(x)
			if err != nil {
				return nil, nil, fmt.Errorf("sample %d: %w", i, err)
			}
			outX[i] = stacked
			if b.cfg.Train3D {
				label, err := b.finetunePatches(ys[i])
				if err != nil {
					return nil, nil, fmt.Errorf("label %d: %w", i, err)
				}
				outY[i] = label
			}
		}
		return outX, outY, nil
	}
	return f, f
}

func (b *Builder) finetunePatches(x tensor.Tensor) (tensor.Tensor, error) {
	patches, err := FinetunePreprocess(x, b.cfg.SplitPerSide, b.cfg.Train3D)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return b.stackPadded(patches)
}

func (b *Builder) stackPadded(patches []tensor.Tensor) (tensor.Tensor, error) {
	padded, err := PadPatches(patches, b.patchDim, b.cfg.Train3D)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return tensor.Stack(padded)
}

// Purge releases every graph built so far, newest first. It is safe to call
// repeatedly.
func (b *Builder) Purge() {
	n := b.cleanup.Len()
	b.cleanup.Purge()
	b.enc = nil
	if n > 0 {
		klog.V(1).InfoS("purged model graphs", "count", n)
	}
}
