package patch

import (
	"errors"
	"fmt"

	"jigsawssl/internal/tensor"
)

var ErrShape = errors.New("sample shape does not fit grid")

// Grid partitions Dims spatial axes into Split cells each. Jitter is the
// margin reserved inside every cell; patches are cell-Jitter wide.
type Grid struct {
	Split  int
	Jitter int
	Dims   int
}

// Cells is N, the number of patches per sample.
func (g Grid) Cells() int {
	n := 1
	for i := 0; i < g.Dims; i++ {
		n *= g.Split
	}
	return n
}

// OffsetFunc picks the position of a patch inside its cell along one axis,
// in [0, jitter].
type OffsetFunc func(jitter int) int

// Centered places the patch in the middle of the jitter margin.
func Centered(jitter int) int { return jitter / 2 }

func (g Grid) validate() error {
	if g.Dims != 2 && g.Dims != 3 {
		return fmt.Errorf("%w: grid dims must be 2 or 3, got %d", ErrShape, g.Dims)
	}
	if g.Split <= 0 {
		return fmt.Errorf("%w: split per side must be positive, got %d", ErrShape, g.Split)
	}
	if g.Jitter < 0 {
		return fmt.Errorf("%w: jitter must be non-negative, got %d", ErrShape, g.Jitter)
	}
	return nil
}

// cellSizes checks that x is channels-last with Dims spatial axes and that
// every spatial extent divides into Split cells wider than Jitter.
func (g Grid) cellSizes(shape []int) ([]int, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	if len(shape) != g.Dims+1 {
		return nil, fmt.Errorf("%w: sample shape %s, want %d spatial axes plus channels", ErrShape, tensor.ShapeString(shape), g.Dims)
	}
	cells := make([]int, g.Dims)
	for axis := 0; axis < g.Dims; axis++ {
		if shape[axis]%g.Split != 0 {
			return nil, fmt.Errorf("%w: extent %d on axis %d not divisible by %d", ErrShape, shape[axis], axis, g.Split)
		}
		cells[axis] = shape[axis] / g.Split
		if g.Jitter >= cells[axis] {
			return nil, fmt.Errorf("%w: jitter %d leaves no patch in cell of %d", ErrShape, g.Jitter, cells[axis])
		}
	}
	return cells, nil
}

// cellOrigins lists the cell start coordinates in raster order (last
// spatial axis fastest).
func (g Grid) cellOrigins(cells []int) [][]int {
	out := make([][]int, 0, g.Cells())
	idx := make([]int, g.Dims)
	for {
		origin := make([]int, g.Dims)
		for axis := range idx {
			origin[axis] = idx[axis] * cells[axis]
		}
		out = append(out, origin)

		axis := g.Dims - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < g.Split {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return out
		}
	}
}

// Partition cuts x into Cells() patches in raster order. offset may be nil
// for centered placement.
func Partition(x tensor.Tensor, g Grid, offset OffsetFunc) ([]tensor.Tensor, error) {
	cells, err := g.cellSizes(x.Shape)
	if err != nil {
		return nil, err
	}
	if offset == nil {
		offset = Centered
	}
	channels := x.Shape[g.Dims]
	extent := make([]int, g.Dims)
	for axis := range extent {
		extent[axis] = cells[axis] - g.Jitter
	}
	patchShape := append(append([]int(nil), extent...), channels)

	origins := g.cellOrigins(cells)
	patches := make([]tensor.Tensor, len(origins))
	zero := make([]int, g.Dims)
	for i, origin := range origins {
		src := make([]int, g.Dims)
		for axis := range src {
			off := 0
			if g.Jitter > 0 {
				off = offset(g.Jitter)
				if off < 0 || off > g.Jitter {
					return nil, fmt.Errorf("%w: offset %d outside [0, %d]", ErrShape, off, g.Jitter)
				}
			}
			src[axis] = origin[axis] + off
		}
		p := tensor.Zeros(patchShape...)
		if err := tensor.CopyRegion(p, zero, x, src, extent); err != nil {
			return nil, err
		}
		patches[i] = p
	}
	return patches, nil
}

// Reassemble is the inverse of a zero-jitter Partition.
func Reassemble(patches []tensor.Tensor, g Grid) (tensor.Tensor, error) {
	if err := g.validate(); err != nil {
		return tensor.Tensor{}, err
	}
	if len(patches) != g.Cells() {
		return tensor.Tensor{}, fmt.Errorf("%w: %d patches for a %d-cell grid", ErrShape, len(patches), g.Cells())
	}
	shape := patches[0].Shape
	if len(shape) != g.Dims+1 {
		return tensor.Tensor{}, fmt.Errorf("%w: patch shape %s", ErrShape, tensor.ShapeString(shape))
	}
	full := make([]int, len(shape))
	for axis := 0; axis < g.Dims; axis++ {
		full[axis] = shape[axis] * g.Split
	}
	full[g.Dims] = shape[g.Dims]
	out := tensor.Zeros(full...)

	cells := shape[:g.Dims]
	zero := make([]int, g.Dims)
	for i, origin := range g.cellOrigins(cells) {
		if !tensor.SameShape(patches[i].Shape, shape) {
			return tensor.Tensor{}, fmt.Errorf("%w: patch %d has shape %s, want %s", ErrShape, i,
				tensor.ShapeString(patches[i].Shape), tensor.ShapeString(shape))
		}
		if err := tensor.CopyRegion(out, origin, patches[i], zero, cells); err != nil {
			return tensor.Tensor{}, err
		}
	}
	return out, nil
}
