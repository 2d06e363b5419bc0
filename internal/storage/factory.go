package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file", "json":
		return NewFileStore(path), nil
	case "sqlite":
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// KindForPath maps a checkpoint path to a backend: sqlite for .db/.sqlite,
// a JSON file otherwise.
func KindForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	default:
		return "file"
	}
}

func OpenPath(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	return NewStore(KindForPath(path), path)
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
