// Package sessionstore persists resumable upload sessions between runs.
package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is a persistent key/value store. Get reports whether the key exists.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Kind selects a Store implementation.
type Kind string

// Store kinds
const (
	KindBolt   Kind = "bolt"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Key returns the key of the session that uploads a file with the given name and size.
func Key(filename string, size int64) string {
	return fmt.Sprintf("svl-upload:%s:%d", filename, size)
}

// Open opens a store of the given kind at path. The memory store ignores path.
func Open(kind Kind, path string) (Store, error) {
	if kind == KindMemory {
		return NewMemoryStore(), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}

	switch kind {
	case KindBolt:
		return OpenBolt(path)
	case KindSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown session store: %s", kind)
	}
}
