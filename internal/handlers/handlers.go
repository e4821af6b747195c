// Package handlers provides the built-in source handlers that package
// manifests refer to by name. Transforming compilers register themselves
// the same way; the bundling engine only ever sees the handler function.
package handlers

import (
	"fmt"
	"os"

	"meteorite/internal/pack"
)

// Register installs the built-in handlers into a registry.
func Register(r *pack.HandlerRegistry) error {
	builtins := map[string]pack.SourceHandler{
		"js":   JS,
		"css":  CSS,
		"html": HTML,
	}
	for name, h := range builtins {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// MustRegistry returns a registry pre-loaded with the built-in handlers.
func MustRegistry() *pack.HandlerRegistry {
	r := pack.NewHandlerRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

// JS emits a JavaScript source unchanged at its serve path.
func JS(api pack.BundleAPI, sourcePath, servePath string, where []pack.Environment) error {
	return api.AddResource(pack.ResourceOptions{
		Type:       "js",
		Where:      where,
		Path:       servePath,
		SourceFile: sourcePath,
	})
}

// CSS emits a stylesheet at its serve path; the engine drops it for
// non-client environments.
func CSS(api pack.BundleAPI, sourcePath, servePath string, where []pack.Environment) error {
	return api.AddResource(pack.ResourceOptions{
		Type:       "css",
		Where:      where,
		Path:       servePath,
		SourceFile: sourcePath,
	})
}

// HTML appends markup fragments to the document head so template
// declarations are in scope before any code loads.
func HTML(api pack.BundleAPI, sourcePath, _ string, where []pack.Environment) error {
	var client []pack.Environment
	for _, env := range where {
		if env == pack.EnvClient {
			client = append(client, env)
		}
	}
	if len(client) == 0 {
		return nil
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read html source %s: %w", sourcePath, err)
	}
	return api.AddResource(pack.ResourceOptions{
		Type:  "head",
		Where: client,
		Data:  data,
	})
}
