package core

import (
	"fmt"

	"pharmanet/internal/infra/persistence/leveldb"
	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/internal/infra/persistence/postgres"
	"pharmanet/internal/infra/persistence/sqlite"
	"pharmanet/pkg/config"
	"pharmanet/pkg/domain"
)

// StorageDriver identifies a concrete local ledger implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageLevelDB  StorageDriver = "leveldb"  // embedded LevelDB directory
)

// OpenPersistentStore selects a backend from the ledger configuration.
// Defaults to sqlite when the driver is unset.
func OpenPersistentStore(cfg config.LedgerConfig, opts ...memory.Option) (domain.PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(opts...), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, opts...)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, opts...)
	case StorageLevelDB:
		return leveldb.NewStore(cfg.LevelDBPath, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
