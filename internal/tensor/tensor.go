package tensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrShape = errors.New("tensor shape mismatch")

// Tensor is a dense row-major float64 array. Image data is channels-last.
type Tensor struct {
	Shape []int
	Data  []float64
}

func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func New(shape []int, data []float64) (Tensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return Tensor{}, fmt.Errorf("%w: non-positive dimension in %s", ErrShape, ShapeString(shape))
		}
	}
	if len(data) != Size(shape) {
		return Tensor{}, fmt.Errorf("%w: %d values for shape %s", ErrShape, len(data), ShapeString(shape))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

func Zeros(shape ...int) Tensor {
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, Size(shape))}
}

func Scalar(v float64) Tensor {
	return Tensor{Shape: []int{}, Data: []float64{v}}
}

func (t Tensor) Rank() int { return len(t.Shape) }

func (t Tensor) Len() int { return len(t.Data) }

func (t Tensor) Strides() []int {
	return strides(t.Shape)
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

func (t Tensor) Offset(idx ...int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: index rank %d for shape %s", len(idx), ShapeString(t.Shape)))
	}
	off := 0
	for axis, st := range t.Strides() {
		off += idx[axis] * st
	}
	return off
}

func (t Tensor) At(idx ...int) float64 {
	return t.Data[t.Offset(idx...)]
}

func (t Tensor) Set(v float64, idx ...int) {
	t.Data[t.Offset(idx...)] = v
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// Reshape returns a view over the same data.
func (t Tensor) Reshape(shape ...int) (Tensor, error) {
	if Size(shape) != len(t.Data) {
		return Tensor{}, fmt.Errorf("%w: reshape %s to %s", ErrShape, ShapeString(t.Shape), ShapeString(shape))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: t.Data}, nil
}

// Index returns the i-th sub-tensor along the leading axis as a view.
func (t Tensor) Index(i int) Tensor {
	if t.Rank() == 0 || i < 0 || i >= t.Shape[0] {
		panic(fmt.Sprintf("tensor: index %d out of range for shape %s", i, ShapeString(t.Shape)))
	}
	inner := Size(t.Shape[1:])
	return Tensor{
		Shape: append([]int(nil), t.Shape[1:]...),
		Data:  t.Data[i*inner : (i+1)*inner],
	}
}

// Stack joins equally shaped tensors along a new leading axis.
func Stack(ts []Tensor) (Tensor, error) {
	if len(ts) == 0 {
		return Tensor{}, fmt.Errorf("%w: stack of zero tensors", ErrShape)
	}
	inner := ts[0].Shape
	out := Zeros(append([]int{len(ts)}, inner...)...)
	n := Size(inner)
	for i, x := range ts {
		if !SameShape(x.Shape, inner) {
			return Tensor{}, fmt.Errorf("%w: stack element %d has shape %s, want %s", ErrShape, i, ShapeString(x.Shape), ShapeString(inner))
		}
		copy(out.Data[i*n:(i+1)*n], x.Data)
	}
	return out, nil
}

// Unstack splits along the leading axis. The parts are copies.
func Unstack(t Tensor) []Tensor {
	if t.Rank() == 0 {
		return nil
	}
	out := make([]Tensor, t.Shape[0])
	for i := range out {
		out[i] = t.Index(i).Clone()
	}
	return out
}

// CopyRegion copies a block spanning extent along the leading len(extent)
// axes of src (starting at srcOff) into dst (starting at dstOff). Trailing
// axes are copied whole and must agree between src and dst.
func CopyRegion(dst Tensor, dstOff []int, src Tensor, srcOff []int, extent []int) error {
	k := len(extent)
	if len(dstOff) != k || len(srcOff) != k || dst.Rank() < k || src.Rank() < k {
		return fmt.Errorf("%w: region rank %d for %s -> %s", ErrShape, k, ShapeString(src.Shape), ShapeString(dst.Shape))
	}
	if !SameShape(dst.Shape[k:], src.Shape[k:]) {
		return fmt.Errorf("%w: trailing axes %s vs %s", ErrShape, ShapeString(src.Shape[k:]), ShapeString(dst.Shape[k:]))
	}
	for axis := 0; axis < k; axis++ {
		if extent[axis] <= 0 {
			return nil
		}
		if srcOff[axis] < 0 || srcOff[axis]+extent[axis] > src.Shape[axis] ||
			dstOff[axis] < 0 || dstOff[axis]+extent[axis] > dst.Shape[axis] {
			return fmt.Errorf("%w: region out of bounds on axis %d", ErrShape, axis)
		}
	}

	inner := Size(src.Shape[k:])
	srcStrides, dstStrides := src.Strides(), dst.Strides()
	idx := make([]int, k)
	for {
		s, d := 0, 0
		for axis := 0; axis < k; axis++ {
			s += (srcOff[axis] + idx[axis]) * srcStrides[axis]
			d += (dstOff[axis] + idx[axis]) * dstStrides[axis]
		}
		copy(dst.Data[d:d+inner], src.Data[s:s+inner])

		axis := k - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < extent[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return nil
		}
	}
}

func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func Equal(a, b Tensor) bool {
	if !SameShape(a.Shape, b.Shape) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

func HasNaN(t Tensor) bool {
	for _, v := range t.Data {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func ShapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
