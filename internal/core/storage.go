package core

import (
	"fmt"
	"os"

	"facilitycore/internal/infra/persistence/memory"
	"facilitycore/internal/infra/persistence/postgres"
	"facilitycore/internal/infra/persistence/sqlite"
	"facilitycore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	// StorageMemory keeps everything in process memory (tests / ephemeral).
	StorageMemory StorageDriver = "memory"
	// StorageSQLite snapshots to an embedded sqlite file.
	StorageSQLite StorageDriver = "sqlite"
	// StoragePostgres snapshots to a PostgreSQL server.
	StoragePostgres StorageDriver = "postgres"
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	FACILITYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	FACILITYCORE_SQLITE_PATH: path to sqlite file (default ./facilitycore.db)
//	FACILITYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore() (domain.PersistentStore, error) {
	driver := os.Getenv("FACILITYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("FACILITYCORE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("FACILITYCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
