package permutation

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"jigsawssl/internal/tensor"
)

var (
	ErrLoad                = errors.New("permutation set load failed")
	ErrTooManyPermutations = errors.New("more permutations requested than exist")
	ErrInvalid             = errors.New("invalid permutation set")
)

// Set is an immutable ordered collection of K distinct permutations of
// [0, N). Accessors return copies.
type Set struct {
	n     int
	perms [][]int
}

func New(perms [][]int) (Set, error) {
	if len(perms) == 0 {
		return Set{}, fmt.Errorf("%w: empty set", ErrInvalid)
	}
	n := len(perms[0])
	seen := make(map[string]int, len(perms))
	out := make([][]int, len(perms))
	for k, p := range perms {
		if len(p) != n {
			return Set{}, fmt.Errorf("%w: permutation %d has length %d, want %d", ErrInvalid, k, len(p), n)
		}
		if !isBijection(p) {
			return Set{}, fmt.Errorf("%w: permutation %d is not a bijection on [0, %d)", ErrInvalid, k, n)
		}
		key := keyOf(p)
		if prev, dup := seen[key]; dup {
			return Set{}, fmt.Errorf("%w: permutations %d and %d are identical", ErrInvalid, prev, k)
		}
		seen[key] = k
		out[k] = append([]int(nil), p...)
	}
	return Set{n: n, perms: out}, nil
}

// Len is K.
func (s Set) Len() int { return len(s.perms) }

// N is the number of grid cells each permutation reorders.
func (s Set) N() int { return s.n }

func (s Set) At(k int) []int { return append([]int(nil), s.perms[k]...) }

func (s Set) All() [][]int {
	out := make([][]int, len(s.perms))
	for k := range s.perms {
		out[k] = s.At(k)
	}
	return out
}

// Generate draws k distinct uniform random permutations of [0, n). A draw
// that repeats an accepted permutation is discarded and redrawn.
func Generate(n, k int, rng *rand.Rand) (Set, error) {
	if n <= 0 || k <= 0 {
		return Set{}, fmt.Errorf("%w: n=%d k=%d must be positive", ErrInvalid, n, k)
	}
	if !factorialAtLeast(n, k) {
		return Set{}, fmt.Errorf("%w: %d permutations of %d elements", ErrTooManyPermutations, k, n)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	seen := make(map[string]struct{}, k)
	perms := make([][]int, 0, k)
	resampled := 0
	for len(perms) < k {
		p := rng.Perm(n)
		key := keyOf(p)
		if _, dup := seen[key]; dup {
			resampled++
			klog.V(1).InfoS("duplicate permutation drawn, resampling", "index", len(perms), "perm", key)
			continue
		}
		seen[key] = struct{}{}
		perms = append(perms, p)
	}
	if resampled > 0 {
		klog.InfoS("generated permutation set", "n", n, "k", k, "resampled", resampled)
	}
	return Set{n: n, perms: perms}, nil
}

// Save writes the set as a (K, N) npy array.
func Save(path string, s Set) error {
	data := make([]float64, 0, s.Len()*s.n)
	for _, p := range s.perms {
		for _, v := range p {
			data = append(data, float64(v))
		}
	}
	t, err := tensor.New([]int{s.Len(), s.n}, data)
	if err != nil {
		return err
	}
	return tensor.WriteNPY(path, t)
}

// Load reads a (K, N) npy array. wantK == 0 accepts any K.
func Load(path string, wantK, wantN int) (Set, error) {
	if _, err := os.Stat(path); err != nil {
		return Set{}, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	t, err := tensor.ReadNPY(path)
	if err != nil {
		return Set{}, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if t.Rank() != 2 {
		return Set{}, fmt.Errorf("%w: %s has shape %s, want (K, N)", ErrLoad, path, tensor.ShapeString(t.Shape))
	}
	k, n := t.Shape[0], t.Shape[1]
	if (wantK > 0 && k != wantK) || (wantN > 0 && n != wantN) {
		return Set{}, fmt.Errorf("%w: %s has shape %s, want (%d, %d)", ErrLoad, path, tensor.ShapeString(t.Shape), wantK, wantN)
	}

	perms := make([][]int, k)
	for i := range perms {
		row := make([]int, n)
		for j := range row {
			v := t.At(i, j)
			if v != float64(int(v)) {
				return Set{}, fmt.Errorf("%w: %s row %d holds non-integer %v", ErrLoad, path, i, v)
			}
			row[j] = int(v)
		}
		perms[i] = row
	}
	s, err := New(perms)
	if err != nil {
		return Set{}, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	return s, nil
}

// Inverse returns q with q[p[i]] = i.
func Inverse(p []int) []int {
	q := make([]int, len(p))
	for i, v := range p {
		q[v] = i
	}
	return q
}

func isBijection(p []int) bool {
	seen := make([]bool, len(p))
	for _, v := range p {
		if v < 0 || v >= len(p) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

func keyOf(p []int) string {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", v)
	}
	return b.String()
}

func factorialAtLeast(n, k int) bool {
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
		if f >= k {
			return true
		}
	}
	return f >= k
}
