package nn

import (
	"errors"
	"testing"
)

func TestRegisterAndGetActivation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("quad", func(x float64) float64 { return x * x }); err != nil {
		t.Fatalf("register activation: %v", err)
	}
	fn, err := GetActivation("quad")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if got := fn(3); got != 9 {
		t.Fatalf("unexpected activation result: got=%f want=9", got)
	}
}

func TestRegisterActivationValidation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("", func(x float64) float64 { return x }); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := RegisterActivation("nil", nil); err == nil {
		t.Fatal("expected nil function error")
	}
}

func TestRegisterActivationDuplicate(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("dup", func(x float64) float64 { return x }); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterActivation("dup", func(x float64) float64 { return x }); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got: %v", err)
	}
}

func TestGetActivationNotFound(t *testing.T) {
	_, err := GetActivation("missing")
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestGetActivationEmptyIsIdentity(t *testing.T) {
	fn, err := GetActivation("")
	if err != nil {
		t.Fatalf("get empty activation: %v", err)
	}
	if fn(-2.5) != -2.5 {
		t.Fatal("expected identity for empty activation name")
	}
}

func TestBuiltinsAvailable(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		want float64
	}{
		{name: "identity", x: 2.5, want: 2.5},
		{name: "relu", x: -1, want: 0},
		{name: "relu", x: 3, want: 3},
		{name: "tanh", x: 0, want: 0},
		{name: "sigmoid", x: 0, want: 0.5},
		{name: "elu", x: 0, want: 0},
	}
	for _, tc := range tests {
		fn, err := GetActivation(tc.name)
		if err != nil {
			t.Fatalf("get builtin activation %s: %v", tc.name, err)
		}
		if got := fn(tc.x); got != tc.want {
			t.Fatalf("%s(%f): got=%f want=%f", tc.name, tc.x, got, tc.want)
		}
	}
}

func TestListActivationsSorted(t *testing.T) {
	names := ListActivations()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("unsorted activation list: %+v", names)
		}
	}
}
