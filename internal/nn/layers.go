package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"jigsawssl/internal/tensor"
)

var ErrLayerShape = errors.New("layer input shape mismatch")

// Param is a trainable array owned by exactly one layer.
type Param struct {
	Name  string
	Shape []int
	Value []float64
}

// Layer is one node of a sequential graph. Build is called once with the
// per-sample input shape and returns the per-sample output shape.
type Layer interface {
	Name() string
	Kind() string
	Build(in []int, rng *rand.Rand) ([]int, error)
	Forward(x tensor.Tensor) (tensor.Tensor, error)
	Params() []*Param
}

type named struct {
	name string
}

func (n *named) Name() string { return n.name }

func (n *named) setName(name string) {
	if n.name == "" {
		n.name = name
	}
}

type nameSetter interface {
	setName(string)
}

func glorotUniform(rng *rand.Rand, fanIn, fanOut int, out []float64) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * limit
	}
}

type Dense struct {
	named
	Units      int
	Activation string

	in     int
	act    ActivationFunc
	kernel *Param
	bias   *Param
}

func NewDense(units int, activation string) *Dense {
	return &Dense{Units: units, Activation: activation}
}

func (d *Dense) Kind() string { return "dense" }

func (d *Dense) Build(in []int, rng *rand.Rand) ([]int, error) {
	if len(in) != 1 {
		return nil, fmt.Errorf("%w: dense %s expects rank-1 input, got %s", ErrLayerShape, d.name, tensor.ShapeString(in))
	}
	if d.Units <= 0 {
		return nil, fmt.Errorf("dense %s: units must be positive", d.name)
	}
	act, err := GetActivation(d.Activation)
	if err != nil {
		return nil, fmt.Errorf("dense %s: %w", d.name, err)
	}
	if d.kernel != nil {
		if d.in != in[0] {
			return nil, fmt.Errorf("%w: dense %s already built for %d inputs", ErrLayerShape, d.name, d.in)
		}
		return []int{d.Units}, nil
	}

	d.in = in[0]
	d.act = act
	d.kernel = &Param{Name: d.name + "/kernel", Shape: []int{d.in, d.Units}, Value: make([]float64, d.in*d.Units)}
	d.bias = &Param{Name: d.name + "/bias", Shape: []int{d.Units}, Value: make([]float64, d.Units)}
	glorotUniform(rng, d.in, d.Units, d.kernel.Value)
	return []int{d.Units}, nil
}

func (d *Dense) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	if x.Rank() != 1 || x.Shape[0] != d.in {
		return tensor.Tensor{}, fmt.Errorf("%w: dense %s got %s", ErrLayerShape, d.name, tensor.ShapeString(x.Shape))
	}
	w := mat.NewDense(d.in, d.Units, d.kernel.Value)
	y := mat.NewVecDense(d.Units, nil)
	y.MulVec(w.T(), mat.NewVecDense(d.in, x.Data))

	out := y.RawVector().Data
	floats.Add(out, d.bias.Value)
	for i, v := range out {
		out[i] = d.act(v)
	}
	return tensor.Tensor{Shape: []int{d.Units}, Data: out}, nil
}

func (d *Dense) Params() []*Param {
	if d.kernel == nil {
		return nil
	}
	return []*Param{d.kernel, d.bias}
}

// Conv is a stride-1 "same" convolution over 2 or 3 spatial axes.
type Conv struct {
	named
	Filters    int
	Kernel     int
	Activation string

	spatial []int
	inC     int
	act     ActivationFunc
	kernel  *Param
	bias    *Param
	offsets [][]int
}

func NewConv(filters, kernel int, activation string) *Conv {
	return &Conv{Filters: filters, Kernel: kernel, Activation: activation}
}

func (c *Conv) Kind() string { return "conv" }

func (c *Conv) Build(in []int, rng *rand.Rand) ([]int, error) {
	if len(in) != 3 && len(in) != 4 {
		return nil, fmt.Errorf("%w: conv %s expects 2D or 3D channels-last input, got %s", ErrLayerShape, c.name, tensor.ShapeString(in))
	}
	if c.Filters <= 0 || c.Kernel <= 0 || c.Kernel%2 == 0 {
		return nil, fmt.Errorf("conv %s: filters must be positive and kernel odd, got filters=%d kernel=%d", c.name, c.Filters, c.Kernel)
	}
	act, err := GetActivation(c.Activation)
	if err != nil {
		return nil, fmt.Errorf("conv %s: %w", c.name, err)
	}
	spatial := in[:len(in)-1]
	out := append(append([]int(nil), spatial...), c.Filters)
	if c.kernel != nil {
		if !tensor.SameShape(c.spatial, spatial) || c.inC != in[len(in)-1] {
			return nil, fmt.Errorf("%w: conv %s already built for %s", ErrLayerShape, c.name, tensor.ShapeString(append(c.spatial, c.inC)))
		}
		return out, nil
	}

	c.spatial = append([]int(nil), spatial...)
	c.inC = in[len(in)-1]
	c.act = act

	window := make([]int, len(spatial))
	for i := range window {
		window[i] = c.Kernel
	}
	c.offsets = c.offsets[:0]
	eachIndex(window, func(idx []int) {
		off := make([]int, len(idx))
		for i, v := range idx {
			off[i] = v - c.Kernel/2
		}
		c.offsets = append(c.offsets, off)
	})

	taps := len(c.offsets)
	c.kernel = &Param{
		Name:  c.name + "/kernel",
		Shape: append(append([]int(nil), window...), c.inC, c.Filters),
		Value: make([]float64, taps*c.inC*c.Filters),
	}
	c.bias = &Param{Name: c.name + "/bias", Shape: []int{c.Filters}, Value: make([]float64, c.Filters)}
	glorotUniform(rng, taps*c.inC, taps*c.Filters, c.kernel.Value)
	return out, nil
}

func (c *Conv) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	want := append(append([]int(nil), c.spatial...), c.inC)
	if !tensor.SameShape(x.Shape, want) {
		return tensor.Tensor{}, fmt.Errorf("%w: conv %s got %s, want %s", ErrLayerShape, c.name, tensor.ShapeString(x.Shape), tensor.ShapeString(want))
	}
	out := tensor.Zeros(append(append([]int(nil), c.spatial...), c.Filters)...)
	st := strides(c.spatial)
	acc := make([]float64, c.Filters)
	q := make([]int, len(c.spatial))

	eachIndex(c.spatial, func(p []int) {
		copy(acc, c.bias.Value)
		for k, off := range c.offsets {
			inside := true
			pos := 0
			for axis := range p {
				q[axis] = p[axis] + off[axis]
				if q[axis] < 0 || q[axis] >= c.spatial[axis] {
					inside = false
					break
				}
				pos += q[axis] * st[axis]
			}
			if !inside {
				continue
			}
			in := x.Data[pos*c.inC : (pos+1)*c.inC]
			base := k * c.inC * c.Filters
			for ci, v := range in {
				if v == 0 {
					continue
				}
				floats.AddScaled(acc, v, c.kernel.Value[base+ci*c.Filters:base+(ci+1)*c.Filters])
			}
		}
		pos := 0
		for axis := range p {
			pos += p[axis] * st[axis]
		}
		dst := out.Data[pos*c.Filters : (pos+1)*c.Filters]
		for i, v := range acc {
			dst[i] = c.act(v)
		}
	})
	return out, nil
}

func (c *Conv) Params() []*Param {
	if c.kernel == nil {
		return nil
	}
	return []*Param{c.kernel, c.bias}
}

// MaxPool uses window == stride and keeps partial windows at the edges,
// so each spatial extent d becomes ceil(d/size).
type MaxPool struct {
	named
	Size int

	in  []int
	out []int
}

func NewMaxPool(size int) *MaxPool {
	return &MaxPool{Size: size}
}

func (p *MaxPool) Kind() string { return "max_pool" }

// IsPooling marks layers that reduce spatial resolution.
func IsPooling(l Layer) bool {
	_, ok := l.(*MaxPool)
	return ok
}

func (p *MaxPool) Build(in []int, _ *rand.Rand) ([]int, error) {
	if len(in) != 3 && len(in) != 4 {
		return nil, fmt.Errorf("%w: max_pool %s expects 2D or 3D channels-last input, got %s", ErrLayerShape, p.name, tensor.ShapeString(in))
	}
	if p.Size <= 0 {
		return nil, fmt.Errorf("max_pool %s: size must be positive", p.name)
	}
	out := make([]int, len(in))
	for axis := 0; axis < len(in)-1; axis++ {
		out[axis] = (in[axis] + p.Size - 1) / p.Size
	}
	out[len(in)-1] = in[len(in)-1]
	p.in = append([]int(nil), in...)
	p.out = out
	return append([]int(nil), out...), nil
}

func (p *MaxPool) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	if !tensor.SameShape(x.Shape, p.in) {
		return tensor.Tensor{}, fmt.Errorf("%w: max_pool %s got %s", ErrLayerShape, p.name, tensor.ShapeString(x.Shape))
	}
	channels := p.in[len(p.in)-1]
	spatialIn := p.in[:len(p.in)-1]
	spatialOut := p.out[:len(p.out)-1]
	out := tensor.Zeros(p.out...)
	inStrides := strides(spatialIn)
	outStrides := strides(spatialOut)
	window := make([]int, len(spatialIn))
	for i := range window {
		window[i] = p.Size
	}
	best := make([]float64, channels)

	eachIndex(spatialOut, func(o []int) {
		for c := range best {
			best[c] = math.Inf(-1)
		}
		eachIndex(window, func(w []int) {
			pos := 0
			for axis := range o {
				q := o[axis]*p.Size + w[axis]
				if q >= spatialIn[axis] {
					return
				}
				pos += q * inStrides[axis]
			}
			for c, v := range x.Data[pos*channels : (pos+1)*channels] {
				if v > best[c] {
					best[c] = v
				}
			}
		})
		pos := 0
		for axis := range o {
			pos += o[axis] * outStrides[axis]
		}
		copy(out.Data[pos*channels:(pos+1)*channels], best)
	})
	return out, nil
}

func (p *MaxPool) Params() []*Param { return nil }

type Flatten struct {
	named
	size int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Kind() string { return "flatten" }

func (f *Flatten) Build(in []int, _ *rand.Rand) ([]int, error) {
	f.size = tensor.Size(in)
	return []int{f.size}, nil
}

func (f *Flatten) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	if x.Len() != f.size {
		return tensor.Tensor{}, fmt.Errorf("%w: flatten %s got %s", ErrLayerShape, f.name, tensor.ShapeString(x.Shape))
	}
	return x.Reshape(f.size)
}

func (f *Flatten) Params() []*Param { return nil }

type Activation struct {
	named
	Func string

	fn ActivationFunc
}

func NewActivation(name string) *Activation { return &Activation{Func: name} }

func (a *Activation) Kind() string { return "activation" }

func (a *Activation) Build(in []int, _ *rand.Rand) ([]int, error) {
	fn, err := GetActivation(a.Func)
	if err != nil {
		return nil, fmt.Errorf("activation %s: %w", a.name, err)
	}
	a.fn = fn
	return append([]int(nil), in...), nil
}

func (a *Activation) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = a.fn(v)
	}
	return out, nil
}

func (a *Activation) Params() []*Param { return nil }

type Softmax struct {
	named
}

func NewSoftmax() *Softmax { return &Softmax{} }

func (s *Softmax) Kind() string { return "softmax" }

func (s *Softmax) Build(in []int, _ *rand.Rand) ([]int, error) {
	if len(in) != 1 {
		return nil, fmt.Errorf("%w: softmax %s expects rank-1 input, got %s", ErrLayerShape, s.name, tensor.ShapeString(in))
	}
	return []int{in[0]}, nil
}

func (s *Softmax) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	out := x.Clone()
	softmaxInPlace(out.Data)
	return out, nil
}

func (s *Softmax) Params() []*Param { return nil }

func softmaxInPlace(v []float64) {
	if len(v) == 0 {
		return
	}
	floats.AddConst(-floats.Max(v), v)
	for i, x := range v {
		v[i] = math.Exp(x)
	}
	floats.Scale(1/floats.Sum(v), v)
}

// TimeDistributed applies one shared inner model to every slice along the
// leading axis. The inner model's parameters are not copied.
type TimeDistributed struct {
	named
	Inner *Model

	steps int
}

func NewTimeDistributed(inner *Model) *TimeDistributed {
	return &TimeDistributed{Inner: inner}
}

func (t *TimeDistributed) Kind() string { return "time_distributed" }

func (t *TimeDistributed) Build(in []int, _ *rand.Rand) ([]int, error) {
	if t.Inner == nil {
		return nil, fmt.Errorf("time_distributed %s: inner model is required", t.name)
	}
	if len(in) < 2 || !tensor.SameShape(in[1:], t.Inner.InputShape()) {
		return nil, fmt.Errorf("%w: time_distributed %s got %s for inner input %s", ErrLayerShape, t.name,
			tensor.ShapeString(in), tensor.ShapeString(t.Inner.InputShape()))
	}
	t.steps = in[0]
	return append([]int{t.steps}, t.Inner.OutputShape()...), nil
}

func (t *TimeDistributed) Forward(x tensor.Tensor) (tensor.Tensor, error) {
	if x.Rank() < 2 || x.Shape[0] != t.steps {
		return tensor.Tensor{}, fmt.Errorf("%w: time_distributed %s got %s", ErrLayerShape, t.name, tensor.ShapeString(x.Shape))
	}
	outs := make([]tensor.Tensor, t.steps)
	for i := 0; i < t.steps; i++ {
		y, err := t.Inner.Predict(x.Index(i))
		if err != nil {
			return tensor.Tensor{}, fmt.Errorf("time_distributed %s step %d: %w", t.name, i, err)
		}
		outs[i] = y
	}
	return tensor.Stack(outs)
}

func (t *TimeDistributed) Params() []*Param {
	if t.Inner == nil {
		return nil
	}
	return t.Inner.Params()
}

func strides(shape []int) []int {
	out := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		out[i] = step
		step *= shape[i]
	}
	return out
}

// eachIndex visits every index tuple of shape in row-major order. The slice
// passed to fn is reused between calls.
func eachIndex(shape []int, fn func(idx []int)) {
	for _, d := range shape {
		if d <= 0 {
			return
		}
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		axis := len(shape) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return
		}
	}
}
