package patch

import (
	"errors"
	"testing"

	"jigsawssl/internal/tensor"
)

func ramp(shape ...int) tensor.Tensor {
	x := tensor.Zeros(shape...)
	for i := range x.Data {
		x.Data[i] = float64(i)
	}
	return x
}

func TestPartitionReassembleRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		grid  Grid
	}{
		{name: "2d", shape: []int{6, 6, 1}, grid: Grid{Split: 3, Dims: 2}},
		{name: "2d-rgb", shape: []int{8, 4, 3}, grid: Grid{Split: 2, Dims: 2}},
		{name: "3d", shape: []int{6, 6, 6, 2}, grid: Grid{Split: 2, Dims: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x := ramp(tc.shape...)
			patches, err := Partition(x, tc.grid, nil)
			if err != nil {
				t.Fatalf("partition: %v", err)
			}
			if len(patches) != tc.grid.Cells() {
				t.Fatalf("expected %d patches, got %d", tc.grid.Cells(), len(patches))
			}
			back, err := Reassemble(patches, tc.grid)
			if err != nil {
				t.Fatalf("reassemble: %v", err)
			}
			if !tensor.Equal(back, x) {
				t.Fatal("round trip did not reproduce the sample")
			}
		})
	}
}

func TestPartitionRasterOrder(t *testing.T) {
	x := ramp(4, 4, 1)
	patches, err := Partition(x, Grid{Split: 2, Dims: 2}, nil)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	// top-left of each 2x2 cell: (0,0) (0,2) (2,0) (2,2)
	want := []float64{0, 2, 8, 10}
	for i, p := range patches {
		if p.At(0, 0, 0) != want[i] {
			t.Fatalf("patch %d starts at %f, want %f", i, p.At(0, 0, 0), want[i])
		}
	}
}

func TestZeroJitterIgnoresOffset(t *testing.T) {
	x := ramp(6, 6, 1)
	a, err := Partition(x, Grid{Split: 3, Dims: 2}, nil)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	b, err := Partition(x, Grid{Split: 3, Jitter: 0, Dims: 2}, func(int) int { return 99 })
	if err != nil {
		t.Fatalf("partition with offset: %v", err)
	}
	for i := range a {
		if !tensor.Equal(a[i], b[i]) {
			t.Fatalf("patch %d differs", i)
		}
	}
}

func TestPartitionWithJitter(t *testing.T) {
	x := ramp(6, 6, 1)
	patches, err := Partition(x, Grid{Split: 2, Jitter: 1, Dims: 2}, func(int) int { return 1 })
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	if !tensor.SameShape(patches[0].Shape, []int{2, 2, 1}) {
		t.Fatalf("unexpected patch shape: %v", patches[0].Shape)
	}
	// cell (0,1) starts at column 3; offset 1 moves it to (1, 4)
	if got := patches[1].At(0, 0, 0); got != x.At(1, 4, 0) {
		t.Fatalf("unexpected jittered origin value %f", got)
	}
	if _, err := Partition(x, Grid{Split: 2, Jitter: 1, Dims: 2}, func(int) int { return 2 }); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for out of range offset, got %v", err)
	}
}

func TestPartitionShapeErrors(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		grid  Grid
	}{
		{name: "indivisible", shape: []int{7, 7, 1}, grid: Grid{Split: 3, Dims: 2}},
		{name: "jitter-too-big", shape: []int{6, 6, 1}, grid: Grid{Split: 3, Jitter: 2, Dims: 2}},
		{name: "rank", shape: []int{6, 6, 6, 1}, grid: Grid{Split: 3, Dims: 2}},
		{name: "dims", shape: []int{6, 1}, grid: Grid{Split: 3, Dims: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Partition(ramp(tc.shape...), tc.grid, nil); !errors.Is(err, ErrShape) {
				t.Fatalf("expected ErrShape, got %v", err)
			}
		})
	}
}

func TestPadOrCrop(t *testing.T) {
	p := ramp(2, 2, 1)
	padded, err := PadOrCrop(p, 4, 2)
	if err != nil {
		t.Fatalf("pad: %v", err)
	}
	if !tensor.SameShape(padded.Shape, []int{4, 4, 1}) {
		t.Fatalf("unexpected padded shape %v", padded.Shape)
	}
	if padded.At(0, 0, 0) != 0 || padded.At(1, 1, 0) != p.At(0, 0, 0) || padded.At(2, 2, 0) != p.At(1, 1, 0) {
		t.Fatalf("unexpected padded content %v", padded.Data)
	}

	cropped, err := PadOrCrop(ramp(5, 5, 1), 3, 2)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if cropped.At(0, 0, 0) != 6 {
		t.Fatalf("expected centered crop to start at (1,1), got %f", cropped.At(0, 0, 0))
	}

	odd, err := PadOrCrop(ramp(2, 2, 2, 1), 3, 3)
	if err != nil {
		t.Fatalf("pad 3d: %v", err)
	}
	if odd.At(0, 0, 0, 0) != 0 || odd.At(1, 1, 1, 0) != 7 {
		t.Fatalf("expected odd padding on the trailing side, got %v", odd.Data)
	}
}

func TestPadOrCropIdempotent(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5} {
		p := ramp(3, 3, 3, 2)
		once, err := PadOrCrop(p, size, 3)
		if err != nil {
			t.Fatalf("first pass: %v", err)
		}
		twice, err := PadOrCrop(once, size, 3)
		if err != nil {
			t.Fatalf("second pass: %v", err)
		}
		if !tensor.Equal(once, twice) {
			t.Fatalf("not idempotent for target %d", size)
		}
	}
}

func TestPadOrCropAllReportsIndex(t *testing.T) {
	_, err := PadOrCropAll([]tensor.Tensor{ramp(2, 2, 1), ramp(2, 1)}, 2, 2)
	if !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}
