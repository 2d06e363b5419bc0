package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"jigsawssl/internal/tensor"
)

var (
	ErrNaN   = errors.New("batch contains NaN")
	ErrLabel = errors.New("label out of range")
	ErrEmpty = errors.New("batch is empty")
)

// LabelDirSuffix is appended to the data directory to find per-file masks.
const LabelDirSuffix = "_labels"

type Options struct {
	Dir       string
	Files     []string
	BatchSize int
	Shuffle   bool
	// NClasses is the one-hot width for labels read from the label dir.
	NClasses int
	// SpatialDims adds a trailing channel axis to samples stored without one.
	SpatialDims int
	Preprocess  func(x, y []tensor.Tensor) ([]tensor.Tensor, []tensor.Tensor, error)
	Seed        int64
}

// Loader reads batches of .npy samples from a directory. It is not safe for
// concurrent use.
type Loader struct {
	opts     Options
	labelDir string
	order    []string
	rng      *rand.Rand
}

func NewLoader(opts Options) (*Loader, error) {
	if opts.Dir == "" {
		return nil, errors.New("data directory is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.NClasses <= 0 {
		opts.NClasses = 2
	}
	if opts.Files == nil {
		files, err := ListFiles(opts.Dir)
		if err != nil {
			return nil, err
		}
		opts.Files = files
	}

	l := &Loader{
		opts:  opts,
		order: append([]string(nil), opts.Files...),
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
	labelDir := strings.TrimRight(opts.Dir, string(filepath.Separator)) + LabelDirSuffix
	if info, err := os.Stat(labelDir); err == nil && info.IsDir() {
		l.labelDir = labelDir
	}
	if opts.Shuffle {
		l.shuffle()
	}
	klog.V(1).InfoS("dataset loader ready", "dir", opts.Dir, "files", len(l.order), "labels", l.labelDir != "", "batch_size", opts.BatchSize)
	return l, nil
}

// ListFiles returns the sorted .npy file names in dir.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".npy") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (l *Loader) HasLabels() bool { return l.labelDir != "" }

// Len is the number of batches per epoch; the last one may be short.
func (l *Loader) Len() int {
	return (len(l.order) + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Loader) OnEpochEnd() {
	if l.opts.Shuffle {
		l.shuffle()
	}
}

func (l *Loader) shuffle() {
	l.rng.Shuffle(len(l.order), func(i, j int) { l.order[i], l.order[j] = l.order[j], l.order[i] })
}

// Batch loads batch i. Files that fail to load are skipped with a warning.
func (l *Loader) Batch(i int) ([]tensor.Tensor, []tensor.Tensor, error) {
	if i < 0 || i >= l.Len() {
		return nil, nil, fmt.Errorf("batch %d out of range [0, %d)", i, l.Len())
	}
	start := i * l.opts.BatchSize
	end := min(start+l.opts.BatchSize, len(l.order))

	var xs, ys []tensor.Tensor
	for _, name := range l.order[start:end] {
		x, y, err := l.load(name)
		if errors.Is(err, ErrNaN) {
			return nil, nil, fmt.Errorf("batch %d file %s: %w", i, name, err)
		}
		if err != nil {
			klog.InfoS("skipping sample", "file", name, "err", err)
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) == 0 {
		return nil, nil, fmt.Errorf("%w: batch %d", ErrEmpty, i)
	}
	for j := range xs {
		if tensor.HasNaN(xs[j]) || tensor.HasNaN(ys[j]) {
			return nil, nil, fmt.Errorf("%w: batch %d sample %d", ErrNaN, i, j)
		}
	}
	if l.opts.Preprocess == nil {
		return xs, ys, nil
	}
	return l.opts.Preprocess(xs, ys)
}

func (l *Loader) load(name string) (tensor.Tensor, tensor.Tensor, error) {
	y := tensor.Scalar(0)
	if l.labelDir != "" {
		mask, err := tensor.ReadNPY(filepath.Join(l.labelDir, name))
		if err != nil {
			return tensor.Tensor{}, tensor.Tensor{}, err
		}
		if y, err = OneHot(mask, l.opts.NClasses); err != nil {
			return tensor.Tensor{}, tensor.Tensor{}, err
		}
	}
	x, err := tensor.ReadNPY(filepath.Join(l.opts.Dir, name))
	if err != nil {
		return tensor.Tensor{}, tensor.Tensor{}, err
	}
	if l.opts.SpatialDims > 0 && x.Rank() == l.opts.SpatialDims {
		if x, err = x.Reshape(append(append([]int(nil), x.Shape...), 1)...); err != nil {
			return tensor.Tensor{}, tensor.Tensor{}, err
		}
	}
	return x, y, nil
}

// OneHot rounds every label value to the nearest class and expands it to a
// trailing axis of width n. A trailing singleton axis on mask is replaced.
func OneHot(mask tensor.Tensor, n int) (tensor.Tensor, error) {
	shape := append([]int(nil), mask.Shape...)
	if len(shape) > 0 && shape[len(shape)-1] == 1 {
		shape = shape[:len(shape)-1]
	}
	out := tensor.Zeros(append(shape, n)...)
	for i, v := range mask.Data {
		if math.IsNaN(v) {
			return tensor.Tensor{}, fmt.Errorf("%w: label value %d", ErrNaN, i)
		}
		c := int(math.RoundToEven(v))
		if c < 0 || c >= n {
			return tensor.Tensor{}, fmt.Errorf("%w: class %d not in [0, %d)", ErrLabel, c, n)
		}
		out.Data[i*n+c] = 1
	}
	return out, nil
}
