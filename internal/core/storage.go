package core

import (
	"fmt"
	"os"

	"sessioncore/internal/infra/persistence/memory"
	"sessioncore/internal/infra/persistence/postgres"
	"sessioncore/internal/infra/persistence/sqlite"
	"sessioncore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// SessionStore aliases the domain persistence contract.
type SessionStore = domain.SessionStore

// OpenSessionStore selects a backend using environment variables. Defaults
// to sqlite when unset.
//
//	SESSIONCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	SESSIONCORE_SQLITE_PATH: path to sqlite file (default ./sessioncore.db)
//	SESSIONCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenSessionStore() (SessionStore, error) {
	driver := os.Getenv("SESSIONCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("SESSIONCORE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("SESSIONCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
