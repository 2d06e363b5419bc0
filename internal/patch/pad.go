package patch

import (
	"fmt"

	"jigsawssl/internal/tensor"
)

// PadOrCrop resizes the leading dims spatial axes of p to target: smaller
// axes are zero padded (the odd voxel goes to the trailing side), larger
// axes are center cropped. A patch that already matches is returned as is.
func PadOrCrop(p tensor.Tensor, target, dims int) (tensor.Tensor, error) {
	if target <= 0 {
		return tensor.Tensor{}, fmt.Errorf("%w: target patch dim must be positive, got %d", ErrShape, target)
	}
	if p.Rank() != dims+1 {
		return tensor.Tensor{}, fmt.Errorf("%w: patch shape %s, want %d spatial axes plus channels", ErrShape, tensor.ShapeString(p.Shape), dims)
	}

	same := true
	for axis := 0; axis < dims; axis++ {
		if p.Shape[axis] != target {
			same = false
			break
		}
	}
	if same {
		return p, nil
	}

	outShape := append([]int(nil), p.Shape...)
	src := make([]int, dims)
	dst := make([]int, dims)
	extent := make([]int, dims)
	for axis := 0; axis < dims; axis++ {
		outShape[axis] = target
		d := p.Shape[axis]
		switch {
		case d < target:
			dst[axis] = (target - d) / 2
			extent[axis] = d
		default:
			src[axis] = (d - target) / 2
			extent[axis] = target
		}
	}
	out := tensor.Zeros(outShape...)
	if err := tensor.CopyRegion(out, dst, p, src, extent); err != nil {
		return tensor.Tensor{}, err
	}
	return out, nil
}

func PadOrCropAll(patches []tensor.Tensor, target, dims int) ([]tensor.Tensor, error) {
	out := make([]tensor.Tensor, len(patches))
	for i, p := range patches {
		q, err := PadOrCrop(p, target, dims)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		out[i] = q
	}
	return out, nil
}
