package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/fedmem/federated-memory/internal/config"
	registrymigrate "github.com/fedmem/federated-memory/internal/registry/migrate"

	// Import to trigger init() registration of the schema and module-table migrators.
	_ "github.com/fedmem/federated-memory/internal/storage"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("DATABASE_URL", "FEDERATED_MEMORY_DB_URL"),
				Usage:    "Postgres connection URL",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "embedding-dimension-full",
				Sources: cli.EnvVars("EMBEDDING_DIMENSION_FULL", "FEDERATED_MEMORY_EMBEDDING_DIMENSION_FULL"),
				Usage:   "Vector dimension for the per-module memory tables",
				Value:   config.DefaultConfig().EmbeddingDimensionFull,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.EmbeddingDimensionFull = cmd.Int("embedding-dimension-full")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
