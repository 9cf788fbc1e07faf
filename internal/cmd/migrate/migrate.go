package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	registrymigrate "github.com/chirino/conversation-identity/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their store loader.
	_ "github.com/chirino/conversation-identity/internal/plugin/store/mongo"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/postgres"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the conversation store schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("CONVERSATION_IDENTITY_DB_URL"),
				Usage:   "Database connection URL",
			},
			&cli.StringFlag{
				Name:    "store-kind",
				Sources: cli.EnvVars("CONVERSATION_IDENTITY_STORE_KIND"),
				Usage:   "Store backend whose schema is migrated (postgres|sqlite|mongo)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "mongo-database",
				Sources: cli.EnvVars("CONVERSATION_IDENTITY_MONGO_DATABASE"),
				Usage:   "Mongo database name when the URL does not name one",
				Value:   config.DefaultConfig().MongoDatabase,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.StoreType = cmd.String("store-kind")
			cfg.MongoDatabase = cmd.String("mongo-database")
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "store", cfg.StoreType)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
