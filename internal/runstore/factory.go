package runstore

import "fmt"

// NewStore builds a run store for the named backend. An empty kind selects
// the in-memory backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported run store backend: %s", kind)
	}
}

// CloseIfSupported closes the store when the backend holds external
// resources.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
