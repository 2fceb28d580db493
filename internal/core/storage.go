package core

import (
	"fmt"
	"os"

	"reqcore/internal/infra/persistence/memory"
	"reqcore/internal/infra/persistence/postgres"
	"reqcore/internal/infra/persistence/sqlite"
	"reqcore/pkg/domain"
)

// Storage driver names accepted by OpenPersistentStore.
const (
	StorageDriverMemory   = "memory"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

// OpenPersistentStore selects a persistence backend from the environment.
//
//	REQCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	REQCORE_SQLITE_PATH: sqlite database file (default reqcore.db)
//	REQCORE_POSTGRES_DSN: postgres connection string
//
// A nil registry or engine falls back to the built-in taxonomy and default
// rules.
func OpenPersistentStore(registry *domain.Registry, engine *RulesEngine, opts ...memory.Option) (domain.PersistentStore, func() error, error) {
	if registry == nil {
		registry = domain.BuiltinRegistry()
	}
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	driver := os.Getenv("REQCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = StorageDriverSQLite
	}
	switch driver {
	case StorageDriverMemory:
		return memory.NewStore(registry, engine, opts...), func() error { return nil }, nil
	case StorageDriverSQLite:
		store, err := sqlite.NewStore(os.Getenv("REQCORE_SQLITE_PATH"), registry, engine, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case StorageDriverPostgres:
		store, err := postgres.NewStore(os.Getenv("REQCORE_POSTGRES_DSN"), registry, engine, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
