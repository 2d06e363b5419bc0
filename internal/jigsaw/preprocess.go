package jigsaw

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"jigsawssl/internal/patch"
	"jigsawssl/internal/permutation"
	"jigsawssl/internal/tensor"
)

// PreprocessFunc maps a batch of samples and labels to model inputs and
// targets.
type PreprocessFunc func(x, y []tensor.Tensor) ([]tensor.Tensor, []tensor.Tensor, error)

// Sampler is a mutex-guarded random source shared by preprocessing closures.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *Sampler) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Sampler) offset(jitter int) int {
	return s.Intn(jitter + 1)
}

func spatialDims(mode3d bool) int {
	if mode3d {
		return 3
	}
	return 2
}

// EvalIndex picks a permutation index from the sample content, so repeated
// evaluation of the same sample always uses the same permutation.
func EvalIndex(x tensor.Tensor, k int) int {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range x.Data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	return int(h.Sum64() % uint64(k))
}

// TrainPreprocess partitions x, selects permutation k and returns the
// patches reordered so that output i is canonical patch perms[k][i], with a
// one-hot target of length K. Training draws k and the jitter offsets from
// sampler; evaluation uses EvalIndex and centered offsets.
func TrainPreprocess(x tensor.Tensor, split, jitter int, perms permutation.Set, isTraining, mode3d bool, sampler *Sampler) ([]tensor.Tensor, tensor.Tensor, int, error) {
	grid := patch.Grid{Split: split, Jitter: jitter, Dims: spatialDims(mode3d)}
	if perms.Len() == 0 {
		return nil, tensor.Tensor{}, 0, fmt.Errorf("%w: empty permutation set", permutation.ErrInvalid)
	}
	if perms.N() != grid.Cells() {
		return nil, tensor.Tensor{}, 0, fmt.Errorf("%w: permutations reorder %d cells, grid has %d", patch.ErrShape, perms.N(), grid.Cells())
	}

	var (
		k      int
		offset patch.OffsetFunc
	)
	if isTraining {
		if sampler == nil {
			sampler = NewSampler(1)
		}
		k = sampler.Intn(perms.Len())
		offset = sampler.offset
	} else {
		k = EvalIndex(x, perms.Len())
		offset = patch.Centered
	}

	patches, err := patch.Partition(x, grid, offset)
	if err != nil {
		return nil, tensor.Tensor{}, 0, err
	}
	shuffled := Shuffle(patches, perms.At(k))

	target := tensor.Zeros(perms.Len())
	target.Data[k] = 1
	return shuffled, target, k, nil
}

// Shuffle returns out with out[i] = patches[perm[i]].
func Shuffle(patches []tensor.Tensor, perm []int) []tensor.Tensor {
	out := make([]tensor.Tensor, len(perm))
	for i, src := range perm {
		out[i] = patches[src]
	}
	return out
}

// Unshuffle inverts Shuffle.
func Unshuffle(patches []tensor.Tensor, perm []int) []tensor.Tensor {
	out := make([]tensor.Tensor, len(perm))
	for i, dst := range perm {
		out[dst] = patches[i]
	}
	return out
}

func PadPatches(patches []tensor.Tensor, target int, mode3d bool) ([]tensor.Tensor, error) {
	return patch.PadOrCropAll(patches, target, spatialDims(mode3d))
}

// FinetunePreprocess partitions x in canonical order without jitter.
func FinetunePreprocess(x tensor.Tensor, split int, mode3d bool) ([]tensor.Tensor, error) {
	return patch.Partition(x, patch.Grid{Split: split, Dims: spatialDims(mode3d)}, nil)
}
