package main

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/datastore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	la "github.com/panyam/linkauth"
	"github.com/panyam/linkauth/stores/fs"
	"github.com/panyam/linkauth/stores/gae"
	gormstore "github.com/panyam/linkauth/stores/gorm"
	pgstore "github.com/panyam/linkauth/stores/postgres"
)

// backend is an open storage backend. migrate prepares its schema.
type backend struct {
	store   la.Store
	migrate func(ctx context.Context) error
	close   func() error
}

func openBackend(ctx context.Context, cfg *la.Config) (*backend, error) {
	logger := slog.Default().With("backend", cfg.Storage.Backend)

	switch cfg.Storage.Backend {
	case la.BackendFS:
		return &backend{
			store:   fs.NewFSStore(cfg.Storage.Path),
			migrate: func(ctx context.Context) error { return fs.EnsureLayout(cfg.Storage.Path) },
			close:   func() error { return nil },
		}, nil

	case la.BackendGorm:
		db, err := gorm.Open(postgres.Open(cfg.Storage.DSN), &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		return &backend{
			store:   gormstore.NewStore(db),
			migrate: func(ctx context.Context) error { return gormstore.AutoMigrate(db.WithContext(ctx)) },
			close:   sqlDB.Close,
		}, nil

	case la.BackendPostgres:
		conn, err := pgstore.NewConnection(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return &backend{
			store: pgstore.NewStore(conn.DB),
			migrate: func(ctx context.Context) error {
				if err := conn.RunMigrations(); err != nil {
					return err
				}
				version, dirty, err := conn.MigrationVersion()
				if err != nil {
					return err
				}
				logger.Info("Migrations applied", "version", version, "dirty", dirty)
				return nil
			},
			close: conn.Close,
		}, nil

	case la.BackendGAE:
		client, err := datastore.NewClient(ctx, cfg.Storage.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return &backend{
			store: gae.NewStore(client, cfg.Storage.Namespace),
			migrate: func(ctx context.Context) error {
				logger.Info("Datastore needs no schema")
				return nil
			},
			close: client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
}
