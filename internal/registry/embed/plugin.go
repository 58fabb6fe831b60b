package embed

import (
	"context"
	"fmt"
)

// Embedder turns texts into vectors of a requested dimension.
type Embedder interface {
	// ModelName returns the upstream model identifier; it participates in the
	// embedding cache key so a model upgrade invalidates cached vectors.
	ModelName() string
	// EmbedTexts embeds a batch of texts at the given dimension. Implementations
	// that cannot produce arbitrary dimensions return an error for unsupported ones.
	EmbedTexts(ctx context.Context, texts []string, dimension int) ([][]float32, error)
}

// Loader creates an Embedder from config.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin represents an embedder plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an embedder plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered embedder plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named embedder plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown embedder %q; valid: %v", name, Names())
}
