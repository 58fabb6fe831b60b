package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Migrator applies the schema changes one subsystem owns.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a migrator with its position in the startup sequence. Lower
// orders run first.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migrator. Called from init() in the packages that own schema.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll runs every registered migrator in ascending Order. The first failure
// aborts the sequence.
func RunAll(ctx context.Context) error {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, p := range sorted {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migrator %s: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
