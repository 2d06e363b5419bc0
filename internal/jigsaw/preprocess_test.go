package jigsaw

import (
	"errors"
	"math/rand"
	"testing"

	"jigsawssl/internal/patch"
	"jigsawssl/internal/permutation"
	"jigsawssl/internal/tensor"
)

func testSet(t *testing.T, n, k int) permutation.Set {
	t.Helper()
	set, err := permutation.Generate(n, k, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return set
}

func TestTrainPreprocessShufflesByPermutation(t *testing.T) {
	perms := testSet(t, 9, 6)
	x := sample(6, 6, 1)
	canonical, err := FinetunePreprocess(x, 3, false)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	shuffled, target, k, err := TrainPreprocess(x, 3, 0, perms, true, false, NewSampler(3))
	if err != nil {
		t.Fatalf("train preprocess: %v", err)
	}
	if target.Len() != perms.Len() || target.Data[k] != 1 {
		t.Fatalf("target is not one-hot at %d: %v", k, target.Data)
	}
	for i, src := range perms.At(k) {
		if !tensor.Equal(shuffled[i], canonical[src]) {
			t.Fatalf("slot %d does not hold canonical patch %d", i, src)
		}
	}

	back := Unshuffle(shuffled, perms.At(k))
	for i := range back {
		if !tensor.Equal(back[i], canonical[i]) {
			t.Fatalf("unshuffle did not restore patch %d", i)
		}
	}
}

func TestEvalPreprocessIsDeterministic(t *testing.T) {
	perms := testSet(t, 8, 5)
	x := sample(6, 6, 6, 2)
	a, ta, ka, err := TrainPreprocess(x, 2, 1, perms, false, true, nil)
	if err != nil {
		t.Fatalf("first eval: %v", err)
	}
	b, tb, kb, err := TrainPreprocess(x, 2, 1, perms, false, true, nil)
	if err != nil {
		t.Fatalf("second eval: %v", err)
	}
	if ka != kb || !tensor.Equal(ta, tb) {
		t.Fatalf("eval picked different permutations: %d vs %d", ka, kb)
	}
	for i := range a {
		if !tensor.Equal(a[i], b[i]) {
			t.Fatalf("eval patch %d differs between runs", i)
		}
	}
	if !tensor.SameShape(a[0].Shape, []int{2, 2, 2, 2}) {
		t.Fatalf("unexpected jittered patch shape %v", a[0].Shape)
	}
	if ka != EvalIndex(x, perms.Len()) {
		t.Fatal("eval index does not follow the sample content")
	}
}

func TestTrainPreprocessSamplesAllPermutations(t *testing.T) {
	perms := testSet(t, 4, 3)
	sampler := NewSampler(9)
	seen := make(map[int]bool)
	for i := 0; i < 60; i++ {
		_, _, k, err := TrainPreprocess(sample(4, 4, 1), 2, 0, perms, true, false, sampler)
		if err != nil {
			t.Fatalf("train preprocess: %v", err)
		}
		seen[k] = true
	}
	if len(seen) != perms.Len() {
		t.Fatalf("expected every permutation to be drawn, saw %v", seen)
	}
}

func TestTrainPreprocessRejectsMismatchedGrid(t *testing.T) {
	perms := testSet(t, 4, 2)
	if _, _, _, err := TrainPreprocess(sample(6, 6, 1), 3, 0, perms, true, false, nil); !errors.Is(err, patch.ErrShape) {
		t.Fatalf("expected patch.ErrShape, got %v", err)
	}
	if _, _, _, err := TrainPreprocess(sample(6, 6, 1), 3, 0, permutation.Set{}, true, false, nil); !errors.Is(err, permutation.ErrInvalid) {
		t.Fatalf("expected permutation.ErrInvalid, got %v", err)
	}
}

func TestPadPatchesToPatchDim(t *testing.T) {
	patches, err := FinetunePreprocess(sample(6, 6, 1), 3, false)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	padded, err := PadPatches(patches, 4, false)
	if err != nil {
		t.Fatalf("pad: %v", err)
	}
	for i, p := range padded {
		if !tensor.SameShape(p.Shape, []int{4, 4, 1}) {
			t.Fatalf("patch %d has shape %v", i, p.Shape)
		}
		if p.At(1, 1, 0) != patches[i].At(0, 0, 0) {
			t.Fatalf("patch %d content is not centered", i)
		}
	}
}
