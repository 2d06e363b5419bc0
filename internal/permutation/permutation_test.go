package permutation

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"jigsawssl/internal/tensor"
)

func TestGenerateIsUniqueAndBijective(t *testing.T) {
	tests := []struct {
		n, k int
	}{
		{n: 3, k: 6},
		{n: 4, k: 24},
		{n: 9, k: 100},
		{n: 27, k: 50},
	}
	for _, tc := range tests {
		s, err := Generate(tc.n, tc.k, rand.New(rand.NewSource(5)))
		if err != nil {
			t.Fatalf("generate n=%d k=%d: %v", tc.n, tc.k, err)
		}
		if s.Len() != tc.k || s.N() != tc.n {
			t.Fatalf("unexpected set size: k=%d n=%d", s.Len(), s.N())
		}
		dups := 0
		for a := 0; a < s.Len(); a++ {
			if !isBijection(s.At(a)) {
				t.Fatalf("permutation %d not a bijection: %v", a, s.At(a))
			}
			for b := a + 1; b < s.Len(); b++ {
				if keyOf(s.At(a)) == keyOf(s.At(b)) {
					dups++
				}
			}
		}
		if dups != 0 {
			t.Fatalf("n=%d k=%d: %d duplicate pairs", tc.n, tc.k, dups)
		}
	}
}

func TestGenerateRejectsTooMany(t *testing.T) {
	if _, err := Generate(3, 7, nil); !errors.Is(err, ErrTooManyPermutations) {
		t.Fatalf("expected ErrTooManyPermutations, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms.npy")
	s, err := Generate(9, 4, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := Save(path, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path, 4, 9)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for k := 0; k < s.Len(); k++ {
		if keyOf(s.At(k)) != keyOf(loaded.At(k)) {
			t.Fatalf("row %d differs: %v vs %v", k, s.At(k), loaded.At(k))
		}
	}
	if _, err := Load(path, 0, 9); err != nil {
		t.Fatalf("load with any K: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.npy"), 0, 9); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad for missing file, got %v", err)
	}

	path := filepath.Join(dir, "perms.npy")
	s, _ := New([][]int{{0, 1, 2}, {2, 1, 0}})
	if err := Save(path, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := Load(path, 2, 9); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad for N mismatch, got %v", err)
	}
	if _, err := Load(path, 5, 3); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad for K mismatch, got %v", err)
	}

	flat := filepath.Join(dir, "flat.npy")
	if err := tensor.WriteNPY(flat, tensor.Zeros(3)); err != nil {
		t.Fatalf("write flat: %v", err)
	}
	if _, err := Load(flat, 0, 0); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad for rank-1 file, got %v", err)
	}

	dup := filepath.Join(dir, "dup.npy")
	d, _ := tensor.New([]int{2, 3}, []float64{0, 1, 2, 0, 1, 2})
	if err := tensor.WriteNPY(dup, d); err != nil {
		t.Fatalf("write dup: %v", err)
	}
	if _, err := Load(dup, 0, 3); !errors.Is(err, ErrLoad) || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrLoad wrapping ErrInvalid for duplicate rows, got %v", err)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New([][]int{{0, 0, 1}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := New([][]int{{0, 1}, {0, 1, 2}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestInverse(t *testing.T) {
	p := []int{2, 0, 3, 1}
	q := Inverse(p)
	for i := range p {
		if q[p[i]] != i {
			t.Fatalf("bad inverse %v of %v", q, p)
		}
	}
}

func TestAccessorsCopy(t *testing.T) {
	s, _ := New([][]int{{0, 1}, {1, 0}})
	row := s.At(0)
	row[0] = 1
	if s.At(0)[0] != 0 {
		t.Fatal("At must return a copy")
	}
}
