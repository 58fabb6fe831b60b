// Package storage opens the shared Postgres handle and owns schema
// migrations. Module tables are created per definition; everything else comes
// from the embedded schema.
package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fedmem/federated-memory/internal/config"
	registrymigrate "github.com/fedmem/federated-memory/internal/registry/migrate"
	"github.com/fedmem/federated-memory/internal/module"
	"github.com/fedmem/federated-memory/internal/security"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &moduleTablesMigrator{}})
}

// Open connects to Postgres, applies the pool settings, and keeps the pool
// gauges fresh until ctx is done.
func Open(ctx context.Context) (*gorm.DB, error) {
	cfg := config.FromContext(ctx)
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
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
	return db, nil
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "core-schema" }

func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.MigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Core schema migration complete")
	return nil
}

type moduleTablesMigrator struct{}

func (m *moduleTablesMigrator) Name() string { return "module-tables" }

func (m *moduleTablesMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.MigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	for _, def := range module.StandardDefinitions() {
		if err := vectorstore.MigratePGTable(ctx, db, def.TableName, cfg.EmbeddingDimensionFull); err != nil {
			return fmt.Errorf("migration: table %s: %w", def.TableName, err)
		}
	}
	log.Info("Module table migration complete", "modules", len(module.StandardDefinitions()))
	return nil
}
