package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/conversation-identity/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/chirino/conversation-identity/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return gormstore.New(db, cfg.ResolvedHistoryLimit()), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

// Open connects gorm to the postgres DSN.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.StoreType != "postgres" {
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
	log.Info("Postgres schema migration complete")
	return nil
}
