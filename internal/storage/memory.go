package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"jigsawssl/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]model.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string]model.Checkpoint)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	if checkpoint.ID == "" {
		return errors.New("checkpoint id is required")
	}
	s.checkpoints[checkpoint.ID] = cloneCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[id]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return cloneCheckpoint(checkpoint), true, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, modelName string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest model.Checkpoint
	found := false
	for _, checkpoint := range s.checkpoints {
		if checkpoint.ModelName != modelName {
			continue
		}
		if !found || newer(checkpoint, latest) {
			latest = checkpoint
			found = true
		}
	}
	if !found {
		return model.Checkpoint{}, false, nil
	}
	return cloneCheckpoint(latest), true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]model.CheckpointSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CheckpointSummary, 0, len(s.checkpoints))
	for _, checkpoint := range s.checkpoints {
		out = append(out, checkpoint.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(out []model.CheckpointSummary) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC != out[j].CreatedAtUTC {
			return out[i].CreatedAtUTC < out[j].CreatedAtUTC
		}
		return out[i].ID < out[j].ID
	})
}
