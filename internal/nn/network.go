package nn

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"jigsawssl/internal/tensor"
)

var ErrReleased = errors.New("model graph released")

// Model is a sequential graph over per-sample tensors. Layers may be shared
// with other models (see Prefix and TimeDistributed); a shared layer keeps a
// single set of parameters.
type Model struct {
	id         string
	name       string
	inputShape []int
	layers     []Layer
	shapes     [][]int
	released   bool
}

// NewModel names any unnamed layers as "<model>/<kind>_<i>" and builds them
// in order against inputShape.
func NewModel(name string, inputShape []int, rng *rand.Rand, layers ...Layer) (*Model, error) {
	if name == "" {
		return nil, errors.New("model name is required")
	}
	if len(inputShape) == 0 {
		return nil, fmt.Errorf("model %s: input shape is required", name)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	m := &Model{
		id:         uuid.NewString(),
		name:       name,
		inputShape: append([]int(nil), inputShape...),
		layers:     append([]Layer(nil), layers...),
		shapes:     make([][]int, len(layers)),
	}
	shape := m.inputShape
	for i, layer := range m.layers {
		if setter, ok := layer.(nameSetter); ok {
			setter.setName(fmt.Sprintf("%s/%s_%d", name, layer.Kind(), i))
		}
		out, err := layer.Build(shape, rng)
		if err != nil {
			return nil, fmt.Errorf("model %s layer %d: %w", name, i, err)
		}
		m.shapes[i] = out
		shape = out
	}
	return m, nil
}

func (m *Model) ID() string { return m.id }

func (m *Model) Name() string { return m.name }

func (m *Model) InputShape() []int { return append([]int(nil), m.inputShape...) }

func (m *Model) OutputShape() []int {
	if len(m.shapes) == 0 {
		return m.InputShape()
	}
	return append([]int(nil), m.shapes[len(m.shapes)-1]...)
}

func (m *Model) Layers() []Layer { return append([]Layer(nil), m.layers...) }

// LayerOutputShape returns the per-sample output shape of layer i.
func (m *Model) LayerOutputShape(i int) []int {
	return append([]int(nil), m.shapes[i]...)
}

func (m *Model) Released() bool { return m.released }

func (m *Model) Predict(x tensor.Tensor) (tensor.Tensor, error) {
	if m.released {
		return tensor.Tensor{}, fmt.Errorf("%w: %s", ErrReleased, m.name)
	}
	if !tensor.SameShape(x.Shape, m.inputShape) {
		return tensor.Tensor{}, fmt.Errorf("%w: model %s got %s, want %s", ErrLayerShape, m.name,
			tensor.ShapeString(x.Shape), tensor.ShapeString(m.inputShape))
	}
	var err error
	for i, layer := range m.layers {
		x, err = layer.Forward(x)
		if err != nil {
			return tensor.Tensor{}, fmt.Errorf("model %s layer %d (%s): %w", m.name, i, layer.Name(), err)
		}
	}
	return x, nil
}

func (m *Model) PredictBatch(xs []tensor.Tensor) ([]tensor.Tensor, error) {
	out := make([]tensor.Tensor, len(xs))
	for i, x := range xs {
		y, err := m.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// Params lists every distinct parameter reachable from the model, in layer order.
func (m *Model) Params() []*Param {
	seen := make(map[*Param]struct{})
	var out []*Param
	for _, layer := range m.layers {
		for _, p := range layer.Params() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func (m *Model) CountParams() int {
	n := 0
	for _, p := range m.Params() {
		n += len(p.Value)
	}
	return n
}

// Prefix returns a model sharing the first n layers, reading out the
// activation of layer n-1.
func (m *Model) Prefix(name string, n int) (*Model, error) {
	if m.released {
		return nil, fmt.Errorf("%w: %s", ErrReleased, m.name)
	}
	if n <= 0 || n > len(m.layers) {
		return nil, fmt.Errorf("model %s: prefix length %d out of range [1, %d]", m.name, n, len(m.layers))
	}
	return &Model{
		id:         uuid.NewString(),
		name:       name,
		inputShape: append([]int(nil), m.inputShape...),
		layers:     append([]Layer(nil), m.layers[:n]...),
		shapes:     append([][]int(nil), m.shapes[:n]...),
	}, nil
}

// Release drops the layer references. Shared layers stay alive in any
// other model holding them.
func (m *Model) Release() {
	m.layers = nil
	m.shapes = nil
	m.released = true
}

func (m *Model) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model %s input=%s\n", m.name, tensor.ShapeString(m.inputShape))
	for i, layer := range m.layers {
		fmt.Fprintf(&b, "  %-40s %-18s %s\n", layer.Name(), layer.Kind(), tensor.ShapeString(m.shapes[i]))
	}
	fmt.Fprintf(&b, "  params=%d", m.CountParams())
	return b.String()
}

func (m *Model) LogSummary() {
	if !klog.V(2).Enabled() {
		return
	}
	for i, layer := range m.layers {
		klog.InfoS("layer", "model", m.name, "index", i, "name", layer.Name(), "kind", layer.Kind(),
			"output", tensor.ShapeString(m.shapes[i]))
	}
	klog.InfoS("model summary", "model", m.name, "id", m.id, "params", m.CountParams())
}

// MultiModel groups several graphs reading the same input.
type MultiModel struct {
	id         string
	name       string
	inputShape []int
	outputs    []*Model
	released   bool
}

func NewMultiModel(name string, outputs ...*Model) (*MultiModel, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("multi model %s: at least one output is required", name)
	}
	in := outputs[0].InputShape()
	for i, out := range outputs[1:] {
		if !tensor.SameShape(out.InputShape(), in) {
			return nil, fmt.Errorf("%w: multi model %s output %d reads %s, want %s", ErrLayerShape, name, i+1,
				tensor.ShapeString(out.InputShape()), tensor.ShapeString(in))
		}
	}
	return &MultiModel{
		id:         uuid.NewString(),
		name:       name,
		inputShape: in,
		outputs:    append([]*Model(nil), outputs...),
	}, nil
}

func (m *MultiModel) ID() string { return m.id }

func (m *MultiModel) Name() string { return m.name }

func (m *MultiModel) InputShape() []int { return append([]int(nil), m.inputShape...) }

func (m *MultiModel) NumOutputs() int { return len(m.outputs) }

func (m *MultiModel) Output(i int) *Model { return m.outputs[i] }

func (m *MultiModel) OutputShapes() [][]int {
	out := make([][]int, len(m.outputs))
	for i, o := range m.outputs {
		out[i] = o.OutputShape()
	}
	return out
}

func (m *MultiModel) Predict(x tensor.Tensor) ([]tensor.Tensor, error) {
	if m.released {
		return nil, fmt.Errorf("%w: %s", ErrReleased, m.name)
	}
	out := make([]tensor.Tensor, len(m.outputs))
	for i, o := range m.outputs {
		y, err := o.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("multi model %s output %d: %w", m.name, i, err)
		}
		out[i] = y
	}
	return out, nil
}

func (m *MultiModel) Params() []*Param {
	seen := make(map[*Param]struct{})
	var out []*Param
	for _, o := range m.outputs {
		for _, p := range o.Params() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func (m *MultiModel) Release() {
	m.outputs = nil
	m.released = true
}
