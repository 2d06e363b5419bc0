package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"jigsawssl/internal/tensor"
)

func seq(shape ...int) tensor.Tensor {
	x := tensor.Zeros(shape...)
	for i := range x.Data {
		x.Data[i] = float64(i%7) - 3
	}
	return x
}

func TestDenseForward(t *testing.T) {
	d := NewDense(2, "identity")
	m, err := NewModel("dense", []int{3}, rand.New(rand.NewSource(1)), d)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	copy(d.kernel.Value, []float64{1, 0, 0, 1, 1, 1})
	copy(d.bias.Value, []float64{0.5, -0.5})

	x, _ := tensor.New([]int{3}, []float64{1, 2, 3})
	y, err := m.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := []float64{1 + 3 + 0.5, 2 + 3 - 0.5}
	for i := range want {
		if math.Abs(y.Data[i]-want[i]) > 1e-9 {
			t.Fatalf("unexpected output: got=%v want=%v", y.Data, want)
		}
	}
}

func TestConvIdentityKernel(t *testing.T) {
	c := NewConv(1, 3, "identity")
	m, err := NewModel("conv", []int{4, 4, 1}, nil, c)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	for i := range c.kernel.Value {
		c.kernel.Value[i] = 0
	}
	// centre tap of the 3x3 window
	c.kernel.Value[4] = 1

	x := seq(4, 4, 1)
	y, err := m.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !tensor.Equal(x, y) {
		t.Fatalf("identity kernel changed input: %v vs %v", x.Data, y.Data)
	}
}

func TestConv3DShapes(t *testing.T) {
	m, err := NewModel("conv3d", []int{3, 3, 3, 2}, nil, NewConv(4, 3, "relu"), NewMaxPool(2))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	if got := m.LayerOutputShape(0); !tensor.SameShape(got, []int{3, 3, 3, 4}) {
		t.Fatalf("unexpected conv shape: %v", got)
	}
	if got := m.OutputShape(); !tensor.SameShape(got, []int{2, 2, 2, 4}) {
		t.Fatalf("unexpected pool shape: %v", got)
	}
	y, err := m.Predict(seq(3, 3, 3, 2))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !tensor.SameShape(y.Shape, []int{2, 2, 2, 4}) {
		t.Fatalf("unexpected output shape: %v", y.Shape)
	}
}

func TestMaxPoolKeepsEdgeWindows(t *testing.T) {
	m, err := NewModel("pool", []int{3, 3, 1}, nil, NewMaxPool(2))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	x, _ := tensor.New([]int{3, 3, 1}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	y, err := m.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := []float64{5, 6, 8, 9}
	for i := range want {
		if y.Data[i] != want[i] {
			t.Fatalf("unexpected pool output: got=%v want=%v", y.Data, want)
		}
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	m, err := NewModel("softmax", []int{4}, nil, NewSoftmax())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	x, _ := tensor.New([]int{4}, []float64{1000, 1001, 999, 0})
	y, err := m.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	sum := 0.0
	for _, v := range y.Data {
		if math.IsNaN(v) {
			t.Fatalf("softmax produced NaN: %v", y.Data)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("softmax sum=%f", sum)
	}
}

func TestTimeDistributedSharesInnerModel(t *testing.T) {
	inner, err := NewModel("enc", []int{2, 2, 1}, rand.New(rand.NewSource(3)), NewFlatten(), NewDense(3, "relu"))
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	outer, err := NewModel("outer", []int{5, 2, 2, 1}, nil, NewTimeDistributed(inner), NewFlatten())
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	if got := outer.OutputShape(); !tensor.SameShape(got, []int{15}) {
		t.Fatalf("unexpected output shape: %v", got)
	}
	if len(outer.Params()) != len(inner.Params()) {
		t.Fatalf("expected shared params, outer=%d inner=%d", len(outer.Params()), len(inner.Params()))
	}

	x := seq(5, 2, 2, 1)
	y, err := outer.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i := 0; i < 5; i++ {
		single, err := inner.Predict(x.Index(i))
		if err != nil {
			t.Fatalf("inner predict: %v", err)
		}
		for j := 0; j < 3; j++ {
			if y.Data[i*3+j] != single.Data[j] {
				t.Fatalf("slot %d differs from direct application", i)
			}
		}
	}
}

func TestTimeDistributedRejectsWrongInner(t *testing.T) {
	inner, err := NewModel("enc", []int{2, 2, 1}, nil, NewFlatten())
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	if _, err := NewModel("outer", []int{4, 3, 3, 1}, nil, NewTimeDistributed(inner)); !errors.Is(err, ErrLayerShape) {
		t.Fatalf("expected ErrLayerShape, got %v", err)
	}
}

func TestPrefixSharesLayers(t *testing.T) {
	conv := NewConv(2, 3, "relu")
	m, err := NewModel("enc", []int{4, 4, 1}, nil, conv, NewMaxPool(2), NewFlatten(), NewDense(3, ""))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	p, err := m.Prefix("enc_tap", 1)
	if err != nil {
		t.Fatalf("prefix: %v", err)
	}
	if !tensor.SameShape(p.OutputShape(), []int{4, 4, 2}) {
		t.Fatalf("unexpected prefix shape: %v", p.OutputShape())
	}
	if p.Params()[0] != conv.kernel {
		t.Fatal("expected prefix to share the conv kernel")
	}
	if _, err := m.Prefix("bad", 9); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	build := func(seed int64) *Model {
		m, err := NewModel("net", []int{4}, rand.New(rand.NewSource(seed)), NewDense(3, "relu"), NewDense(2, ""))
		if err != nil {
			t.Fatalf("new model: %v", err)
		}
		return m
	}
	a, b := build(1), build(2)
	x, _ := tensor.New([]int{4}, []float64{1, -1, 0.5, 2})
	ya, _ := a.Predict(x)
	yb, _ := b.Predict(x)
	if tensor.Equal(ya, yb) {
		t.Fatal("expected different seeds to produce different outputs")
	}

	if err := b.SetWeights(a.Weights()); err != nil {
		t.Fatalf("set weights: %v", err)
	}
	yb, _ = b.Predict(x)
	if !tensor.Equal(ya, yb) {
		t.Fatalf("expected equal outputs after weight copy: %v vs %v", ya.Data, yb.Data)
	}

	other, err := NewModel("net", []int{5}, nil, NewDense(3, "relu"), NewDense(2, ""))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	if err := other.SetWeights(a.Weights()); !errors.Is(err, ErrWeightsMismatch) {
		t.Fatalf("expected ErrWeightsMismatch, got %v", err)
	}
}

func TestRegistryPurge(t *testing.T) {
	var order []string
	r := &Registry{}
	for _, name := range []string{"a", "b", "c"} {
		m, err := NewModel(name, []int{2}, nil, NewFlatten())
		if err != nil {
			t.Fatalf("new model: %v", err)
		}
		r.Track(releaseHook{m: m, fn: func() { order = append(order, m.Name()) }})
	}
	r.Purge()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	if len(order) != 3 || order[0] != "c" || order[2] != "a" {
		t.Fatalf("expected reverse release order, got %v", order)
	}
	r.Purge()
}

func TestScopeReleasesOnError(t *testing.T) {
	var kept *Model
	err := Scope(func(r *Registry) error {
		m, err := NewModel("scoped", []int{2}, nil, NewFlatten())
		if err != nil {
			return err
		}
		kept = m
		r.Track(m)
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error from scope")
	}
	if !kept.Released() {
		t.Fatal("expected model released after scope")
	}
	if _, err := kept.Predict(tensor.Zeros(2)); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

type releaseHook struct {
	m  *Model
	fn func()
}

func (h releaseHook) Release() {
	h.fn()
	h.m.Release()
}

func TestCategoricalCrossEntropyAndAccuracy(t *testing.T) {
	pred := []float64{0.1, 0.7, 0.2}
	target := []float64{0, 1, 0}
	loss, err := CategoricalCrossEntropy(pred, target)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if math.Abs(loss+math.Log(0.7)) > 1e-9 {
		t.Fatalf("unexpected loss: %f", loss)
	}
	acc, err := CategoricalAccuracy(pred, target)
	if err != nil || acc != 1 {
		t.Fatalf("unexpected accuracy: %f err=%v", acc, err)
	}
	if _, err := CategoricalCrossEntropy(pred, []float64{1}); !errors.Is(err, ErrLayerShape) {
		t.Fatalf("expected ErrLayerShape, got %v", err)
	}
}
