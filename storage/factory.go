package storage

import (
	"fmt"
	"log/slog"

	"github.com/ruteri/legal-docstore/config"
	"github.com/ruteri/legal-docstore/interfaces"
)

// StorageBackendFactory builds adapters and the router from configuration.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a factory. db may be nil, in which case
// the relational backend is registered but unavailable.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBackendFactory{log: logger}
}

// BackendFor creates the adapter for one backend.
func (sf *StorageBackendFactory) BackendFor(id interfaces.BackendID, cfg *config.Storage, db DBTX) (interfaces.StorageAdapter, error) {
	logger := sf.log.With("backend", id.String())

	switch id {
	case interfaces.BackendCDN:
		return NewCDNBackend(cfg.CDN, logger)
	case interfaces.BackendBlock:
		return NewBlockBackend(cfg.Block, logger)
	case interfaces.BackendLocal:
		return NewFileBackend(cfg.LocalRoot, cfg.RoutePrefix, logger)
	case interfaces.BackendDatabase:
		return NewDatabaseBackend(db, cfg.RoutePrefix, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownBackend, id)
	}
}

// CreateRouter builds every backend and a router over them. Backends that
// fail to build are logged and left out; prioritized backends that are
// missing as a result are dropped from the priority list.
func (sf *StorageBackendFactory) CreateRouter(cfg *config.Storage, db DBTX, opts ...RouterOption) (*Router, error) {
	adapters := make([]interfaces.StorageAdapter, 0, len(interfaces.AllBackends))
	built := make(map[interfaces.BackendID]bool)

	for _, id := range interfaces.AllBackends {
		adapter, err := sf.BackendFor(id, cfg, db)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				slog.String("backend", id.String()),
				"err", err)
			continue
		}
		adapters = append(adapters, adapter)
		built[id] = true
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	priority := make([]interfaces.BackendID, 0, len(cfg.Priority))
	for _, id := range cfg.Priority {
		if !built[id] {
			sf.log.Warn("Prioritized backend was not created, dropping from priority",
				slog.String("backend", id.String()))
			continue
		}
		priority = append(priority, id)
	}
	if len(priority) == 0 {
		return nil, fmt.Errorf("no prioritized storage backend could be created")
	}

	opts = append([]RouterOption{WithRoutePrefix(cfg.RoutePrefix)}, opts...)
	return NewRouter(adapters, priority, sf.log, opts...)
}
