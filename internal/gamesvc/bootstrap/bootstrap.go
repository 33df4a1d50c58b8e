// Package bootstrap opens the backing services shared by the game and ctl
// binaries.
package bootstrap

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/gameview-services/internal/db"
	"github.com/avvvet/gameview-services/internal/gamesvc/audit"
	"github.com/avvvet/gameview-services/internal/gamesvc/config"
	pgdb "github.com/avvvet/gameview-services/internal/gamesvc/db"
	"github.com/avvvet/gameview-services/internal/gamesvc/handlers"
	"github.com/avvvet/gameview-services/internal/gamesvc/service"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
)

type AuditLog interface {
	service.AuditLog
	handlers.HistoryReader
}

// OpenStore returns the configured store and a func that releases it.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn("using in-memory store, state is lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgdb.Connect(ctx, cfg.DBUrl)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pgdb.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("pg connection established successfully")
	return store.NewPgStore(pool), pgdb.ClosePool, nil
}

// OpenAudit connects the MongoDB audit log, or falls back to logging the
// entries when MONGODB_URI is not set.
func OpenAudit(ctx context.Context, cfg config.Config) (AuditLog, func(), error) {
	if cfg.MongoURI == "" {
		log.Info("MONGODB_URI not set, audit entries go to the service log")
		return audit.LogOnly{}, func() {}, nil
	}

	database, err := db.ConnectToDB(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.NewMongoLog(ctx, database, cfg.AuditTTL)
	if err != nil {
		_ = db.Disconnect(database)
		return nil, nil, err
	}
	log.Infof("audit log connected to MongoDB database %s", database.Name())
	return l, func() {
		if err := db.Disconnect(database); err != nil {
			log.Warnf("mongo disconnect: %s", err)
		}
	}, nil
}
