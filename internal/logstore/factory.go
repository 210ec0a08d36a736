package logstore

import (
	"fmt"

	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/idgen"
	"gorm.io/gorm"
)

// OpenBackend creates the backend named by cfg.Driver. db is only used by
// the gorm driver.
func OpenBackend(cfg config.LogStoreConfig, db *gorm.DB) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "badger":
		return OpenBadger(cfg.Badger)
	case "cassandra":
		return OpenCassandra(cfg.Cassandra)
	case "gorm":
		if db == nil {
			return nil, fmt.Errorf("gorm log store requires a database connection")
		}
		return NewGormBackend(db)
	default:
		return nil, fmt.Errorf("unsupported logstore driver: %s", cfg.Driver)
	}
}

// Open builds the configured Store, wrapping it with a history cache when
// one is supplied.
func Open(cfg config.LogStoreConfig, ids idgen.Generator, db *gorm.DB, cache HistoryCache) (Store, error) {
	backend, err := OpenBackend(cfg, db)
	if err != nil {
		return nil, err
	}

	var store Store = NewLog(backend, ids)
	if cfg.Cache.Enabled && cache != nil {
		store = NewCached(store, cache, cfg.Cache.TTL)
	}
	return store, nil
}
