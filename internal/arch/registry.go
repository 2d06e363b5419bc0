package arch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"jigsawssl/internal/nn"
)

var (
	ErrArchitectureExists  = errors.New("architecture already registered")
	ErrUnknownArchitecture = errors.New("unknown architecture")
)

// Encoder is a per-patch feature extractor. Taps lists, shallow first, the
// layer indices whose activations feed skip connections.
type Encoder struct {
	Model *nn.Model
	Taps  []int
}

// EncoderFactory builds an encoder for a channels-last per-patch input.
type EncoderFactory func(inputShape []int, embedDim int, opts Options) (Encoder, error)

// HeadFactory builds a prediction head over a flat vector. A nil model
// means the head is the identity.
type HeadFactory func(inputShape []int, opts Options) (*nn.Model, error)

type registry[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]T
}

func (r *registry[T]) register(name string, factory T, isNil bool) error {
	if name == "" {
		return fmt.Errorf("%s name is required", r.kind)
	}
	if isNil {
		return fmt.Errorf("%s factory is required", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.m[name]; exists {
		return fmt.Errorf("%w: %s %s", ErrArchitectureExists, r.kind, name)
	}
	r.m[name] = factory
	return nil
}

func (r *registry[T]) resolve(name string) (T, error) {
	r.mu.RLock()
	factory, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownArchitecture, r.kind, name)
	}
	return factory, nil
}

func (r *registry[T]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	encoders = &registry[EncoderFactory]{kind: "encoder", m: make(map[string]EncoderFactory)}
	heads    = &registry[HeadFactory]{kind: "head", m: make(map[string]HeadFactory)}
)

func init() {
	initializeBuiltIns()
}

func initializeBuiltIns() {
	MustRegisterEncoder("simple_conv", SimpleConvEncoder)
	MustRegisterEncoder("fully", FullyEncoder)
	MustRegisterHead("big_fully", denseHead(1024, 2))
	MustRegisterHead("fully", denseHead(256, 1))
	MustRegisterHead("none", func([]int, Options) (*nn.Model, error) { return nil, nil })
}

func RegisterEncoder(name string, factory EncoderFactory) error {
	return encoders.register(name, factory, factory == nil)
}

func MustRegisterEncoder(name string, factory EncoderFactory) {
	if err := RegisterEncoder(name, factory); err != nil {
		panic(err)
	}
}

func ResolveEncoder(name string) (EncoderFactory, error) {
	return encoders.resolve(name)
}

func ListEncoders() []string { return encoders.list() }

func RegisterHead(name string, factory HeadFactory) error {
	return heads.register(name, factory, factory == nil)
}

func MustRegisterHead(name string, factory HeadFactory) {
	if err := RegisterHead(name, factory); err != nil {
		panic(err)
	}
}

// ResolveHead treats the empty name as "none".
func ResolveHead(name string) (HeadFactory, error) {
	if name == "" {
		name = "none"
	}
	return heads.resolve(name)
}

func ListHeads() []string { return heads.list() }

func resetRegistriesForTests() {
	encoders.mu.Lock()
	encoders.m = make(map[string]EncoderFactory)
	encoders.mu.Unlock()
	heads.mu.Lock()
	heads.m = make(map[string]HeadFactory)
	heads.mu.Unlock()
	initializeBuiltIns()
}
