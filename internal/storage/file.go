package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"jigsawssl/internal/model"
)

// FileStore keeps every checkpoint in one JSON document on disk. Writes
// replace the file atomically through a temp file in the same directory.
type FileStore struct {
	path string

	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]model.Checkpoint
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDocument struct {
	Checkpoints []json.RawMessage `json:"checkpoints"`
}

func (s *FileStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("file store path is required")
	}
	if s.initialized {
		return nil
	}

	s.checkpoints = make(map[string]model.Checkpoint)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.initialized = true
		return nil
	}
	if err != nil {
		return err
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode checkpoint file %s: %w", s.path, err)
	}
	for i, raw := range doc.Checkpoints {
		checkpoint, err := DecodeCheckpoint(raw)
		if err != nil {
			return fmt.Errorf("decode checkpoint %d in %s: %w", i, s.path, err)
		}
		s.checkpoints[checkpoint.ID] = checkpoint
	}
	s.initialized = true
	return nil
}

func (s *FileStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	if checkpoint.ID == "" {
		return errors.New("checkpoint id is required")
	}
	s.checkpoints[checkpoint.ID] = cloneCheckpoint(checkpoint)
	return s.flushLocked()
}

func (s *FileStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[id]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return cloneCheckpoint(checkpoint), true, nil
}

func (s *FileStore) LatestCheckpoint(_ context.Context, modelName string) (model.Checkpoint, bool, error) {
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

func (s *FileStore) ListCheckpoints(_ context.Context) ([]model.CheckpointSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CheckpointSummary, 0, len(s.checkpoints))
	for _, checkpoint := range s.checkpoints {
		out = append(out, checkpoint.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) flushLocked() error {
	summaries := make([]model.CheckpointSummary, 0, len(s.checkpoints))
	for _, checkpoint := range s.checkpoints {
		summaries = append(summaries, checkpoint.Summary())
	}
	sortSummaries(summaries)

	var doc fileDocument
	for _, summary := range summaries {
		payload, err := EncodeCheckpoint(s.checkpoints[summary.ID])
		if err != nil {
			return err
		}
		doc.Checkpoints = append(doc.Checkpoints, payload)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
