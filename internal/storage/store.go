package storage

import (
	"context"

	"jigsawssl/internal/model"
)

// Store defines persistence operations for model checkpoints.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context, modelName string) (model.Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context) ([]model.CheckpointSummary, error)
}
