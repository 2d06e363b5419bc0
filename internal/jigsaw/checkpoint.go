package jigsaw

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"jigsawssl/internal/model"
	"jigsawssl/internal/nn"
	"jigsawssl/internal/storage"
)

// ErrLoad reports a checkpoint that is missing, unreadable or does not fit
// the model being restored.
var ErrLoad = errors.New("load checkpoint")

// SaveWeights stores the current weights of m as a new checkpoint at path
// and returns its id.
func SaveWeights(ctx context.Context, path string, m *nn.Model) (string, error) {
	store, err := storage.OpenPath(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = storage.CloseIfSupported(store) }()
	if err := store.Init(ctx); err != nil {
		return "", fmt.Errorf("init checkpoint store %s: %w", path, err)
	}

	checkpoint := model.Checkpoint{
		VersionedRecord: storage.CurrentVersion(),
		ID:              uuid.NewString(),
		ModelName:       m.Name(),
		CreatedAtUTC:    time.Now().UTC().Format(model.TimestampLayout),
		Params:          m.Weights(),
	}
	if err := store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	klog.V(1).InfoS("saved checkpoint", "path", path, "id", checkpoint.ID, "model", m.Name(), "params", len(checkpoint.Params))
	return checkpoint.ID, nil
}

// LoadWeights restores the newest checkpoint at path recorded for a model
// with the same name as m.
func LoadWeights(ctx context.Context, path string, m *nn.Model) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrLoad, err)
	}
	store, err := storage.OpenPath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer func() { _ = storage.CloseIfSupported(store) }()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}

	checkpoint, ok, err := store.LatestCheckpoint(ctx, m.Name())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s has no checkpoint for model %s", ErrLoad, path, m.Name())
	}
	if err := m.SetWeights(checkpoint.Params); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	klog.V(1).InfoS("restored checkpoint", "path", path, "id", checkpoint.ID, "model", m.Name())
	return nil
}
