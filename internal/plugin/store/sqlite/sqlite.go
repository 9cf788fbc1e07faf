package sqlite

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/conversation-identity/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultPath is used when no DB URL is configured.
const DefaultPath = "conversation-identity.db"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, err
			}
			return gormstore.New(db, cfg.ResolvedHistoryLimit()), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// Open opens the sqlite database at dsn with a single connection, since
// sqlite serializes writers anyway.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = DefaultPath
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.StoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := gormstore.AutoMigrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
