package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator prepares the schema of one store backend. Implementations check
// the config carried by ctx and return nil when their backend is not selected.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin orders a migrator relative to the others.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in store plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns the registered migrator names in execution order.
func Names() []string {
	sorted := ordered()
	names := make([]string, len(sorted))
	for i, p := range sorted {
		names[i] = p.Migrator.Name()
	}
	return names
}

func ordered() []Plugin {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}

// RunAll executes every registered migrator in order and stops at the first failure.
func RunAll(ctx context.Context) error {
	for _, p := range ordered() {
		log.Debug("Checking migration", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
