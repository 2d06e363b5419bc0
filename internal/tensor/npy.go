package tensor

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

var ErrUnsupportedDType = errors.New("unsupported npy dtype")

// ReadNPY loads a C-ordered NumPy array, converting the element type to float64.
func ReadNPY(path string) (Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tensor{}, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return Tensor{}, fmt.Errorf("read npy header %s: %w", path, err)
	}
	if r.Header.Descr.Fortran {
		return Tensor{}, fmt.Errorf("%w: fortran-ordered array in %s", ErrUnsupportedDType, path)
	}
	shape := append([]int(nil), r.Header.Descr.Shape...)
	n := Size(shape)

	data := make([]float64, n)
	switch r.Header.Descr.Type {
	case "<f8":
		if err := r.Read(&data); err != nil {
			return Tensor{}, fmt.Errorf("read npy %s: %w", path, err)
		}
	case "<f4":
		raw := make([]float32, n)
		if err := r.Read(&raw); err != nil {
			return Tensor{}, fmt.Errorf("read npy %s: %w", path, err)
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "<i8":
		raw := make([]int64, n)
		if err := r.Read(&raw); err != nil {
			return Tensor{}, fmt.Errorf("read npy %s: %w", path, err)
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "<i4":
		raw := make([]int32, n)
		if err := r.Read(&raw); err != nil {
			return Tensor{}, fmt.Errorf("read npy %s: %w", path, err)
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "|u1":
		raw := make([]uint8, n)
		if err := r.Read(&raw); err != nil {
			return Tensor{}, fmt.Errorf("read npy %s: %w", path, err)
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	default:
		return Tensor{}, fmt.Errorf("%w: %q in %s", ErrUnsupportedDType, r.Header.Descr.Type, path)
	}

	if len(shape) == 0 {
		return Tensor{Shape: []int{}, Data: data}, nil
	}
	return New(shape, data)
}

// WriteNPY stores a rank-1 or rank-2 tensor as float64.
func WriteNPY(path string, t Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch t.Rank() {
	case 1:
		err = npyio.Write(f, t.Data)
	case 2:
		err = npyio.Write(f, mat.NewDense(t.Shape[0], t.Shape[1], t.Data))
	default:
		err = fmt.Errorf("%w: cannot write rank %d tensor", ErrShape, t.Rank())
	}
	if err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
