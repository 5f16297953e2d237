package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/Seednode/santabox/store"
	"github.com/Seednode/santabox/store/broker"
	"github.com/Seednode/santabox/store/firestore"
	"github.com/Seednode/santabox/store/postgres"
	"github.com/Seednode/santabox/store/sqlite"
)

func openBackend(ctx context.Context, cfg *Config) (store.Store, error) {
	log := logger(cfg).With(zap.String("backend", cfg.backend))

	switch cfg.backend {
	case backendSQLite:
		return sqlite.Open(ctx, cfg.sqlitePath)
	case backendBroker:
		return broker.New(), nil
	case backendFirestore:
		return firestore.Open(ctx, firestore.Config{
			ProjectID:    cfg.firestoreProject,
			EmulatorHost: cfg.firestoreEmulator,
			Collection:   cfg.firestoreCollection,
		}, nil, firestore.WithLogger(log))
	case backendPostgres:
		return postgres.Connect(ctx, cfg.postgresURL, postgres.WithLogger(log))
	}

	return store.NewMemory(), nil
}
