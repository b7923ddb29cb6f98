//go:build !wasm
// +build !wasm

// Package stores opens the Storage backend selected by configuration.
package stores

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/datastore"
	"gorm.io/driver/sqlite"
	gormlib "gorm.io/gorm"

	"github.com/panyam/coachauth"
	"github.com/panyam/coachauth/config"
	"github.com/panyam/coachauth/stores/fs"
	"github.com/panyam/coachauth/stores/gae"
	gormstore "github.com/panyam/coachauth/stores/gorm"
	redisstore "github.com/panyam/coachauth/stores/redis"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// Open returns the Storage for cfg and a Closer releasing its connections.
// namespace scopes items when cfg.Namespace is empty, usually the backend URL.
func Open(ctx context.Context, cfg config.StorageConfig, namespace string) (coachauth.Storage, io.Closer, error) {
	if cfg.Namespace != "" {
		namespace = cfg.Namespace
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return coachauth.NewMemoryStorage(), noopCloser, nil

	case config.DriverFile, "":
		s, err := fs.NewStorage(cfg.Path, namespace)
		if err != nil {
			return nil, nil, err
		}
		return s, noopCloser, nil

	case config.DriverSQLite:
		db, err := gormlib.Open(sqlite.Open(cfg.DSN), &gormlib.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to migrate storage table: %w", err)
		}
		return gormstore.NewStorage(db, namespace).WithContext(ctx), sqlDB, nil

	case config.DriverRedis:
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s.WithContext(ctx), s, nil

	case config.DriverDatastore:
		client, err := datastore.NewClient(ctx, cfg.Datastore.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return gae.NewStorage(client, cfg.Namespace, cfg.Datastore.Scope).WithContext(ctx), client, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
