// Package pack models bundleable packages: the application itself, library
// packages resolved from package sets or the warehouse cache, and package
// collections. Packages declare metadata, dependencies, source files and
// extension handlers; the bundling engine consumes those declarations.
package pack

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Environment tags a resource by where it runs.
type Environment string

const (
	EnvClient Environment = "client"
	EnvServer Environment = "server"
	EnvTests  Environment = "tests"
)

func validEnvironment(e Environment) bool {
	switch e {
	case EnvClient, EnvServer, EnvTests:
		return true
	}
	return false
}

// CanonicalWhere returns the sorted, de-duplicated, JSON-encoded form of an
// environment set, used as the idempotence key for use().
func CanonicalWhere(where []Environment) (string, error) {
	seen := map[Environment]bool{}
	uniq := make([]string, 0, len(where))
	for _, env := range where {
		if !validEnvironment(env) {
			return "", fmt.Errorf("invalid environment %q", env)
		}
		if seen[env] {
			continue
		}
		seen[env] = true
		uniq = append(uniq, string(env))
	}
	sort.Strings(uniq)
	data, err := json.Marshal(uniq)
	if err != nil {
		return "", fmt.Errorf("encode environment set: %w", err)
	}
	return string(data), nil
}

// Metadata carries the description fields of a package.
type Metadata struct {
	Summary      string
	Internal     bool
	Environments []string
}

// ResourceOptions describes one emitted resource. Data takes precedence
// over SourceFile when both are set.
type ResourceOptions struct {
	Type       string
	Where      []Environment
	Path       string
	SourceFile string
	Data       []byte
}

// BundleAPI is the surface source handlers emit through. The bundling
// engine implements it.
type BundleAPI interface {
	AddResource(opts ResourceOptions) error
	Error(msg string)
}

// SourceHandler transforms one registered source file into resources. The
// serve path is the URL-space location the file will be addressable under.
type SourceHandler func(api BundleAPI, sourcePath, servePath string, where []Environment) error

// PackageAPI is the per-occurrence surface that on_use/on_test handlers
// call back into to pull in dependencies and register sources.
type PackageAPI interface {
	Use(names []string, where []Environment) error
	AddFiles(paths []string, where []Environment) error
	// IncludeTests pulls in the test declarations of other packages; used
	// by collection pseudo-packages.
	IncludeTests(names []string) error
	RegisteredExtensions() []string
	Error(msg string)
}

// UseHandler configures one occurrence of a package for an environment set.
type UseHandler func(api PackageAPI, where []Environment) error

// NpmInstaller installs a package's declared native modules into its
// node_modules directory. Installation itself is an external concern.
type NpmInstaller interface {
	Install(dir string, deps map[string]string) error
}

// Package represents an app, a library package, or a package collection.
type Package struct {
	// Name is empty for the app and collection pseudo-packages.
	Name string
	// SourceRoot is where the package's source files live; empty for
	// collections.
	SourceRoot string
	// ServeRoot is the URL-space prefix the package's files are served
	// under: "/" for an app, "/packages/<name>" for a library package.
	ServeRoot string
	// Metadata holds the describe() fields.
	Metadata Metadata
	// NpmDependencies maps native module names to versions.
	NpmDependencies map[string]string

	id         int
	onUse      UseHandler
	onTest     UseHandler
	extensions map[string]SourceHandler
}

// ID returns the package's process-local id. Ids are unique per registry
// context and never reused within it.
func (p *Package) ID() int { return p.id }

// Describe merges metadata into the package.
func (p *Package) Describe(meta Metadata) {
	if meta.Summary != "" {
		p.Metadata.Summary = meta.Summary
	}
	if meta.Internal {
		p.Metadata.Internal = true
	}
	if len(meta.Environments) > 0 {
		p.Metadata.Environments = meta.Environments
	}
}

// OnUse sets the on-use handler. Setting it twice is an error.
func (p *Package) OnUse(fn UseHandler) error {
	if p.onUse != nil {
		return fmt.Errorf("package %s: on_use handler set twice", p.DisplayName())
	}
	p.onUse = fn
	return nil
}

// OnTest sets the on-test handler. Setting it twice is an error.
func (p *Package) OnTest(fn UseHandler) error {
	if p.onTest != nil {
		return fmt.Errorf("package %s: on_test handler set twice", p.DisplayName())
	}
	p.onTest = fn
	return nil
}

// RegisterExtension maps an extension (without dot) to a source handler.
// Registering the same extension twice on one package is an error.
func (p *Package) RegisterExtension(ext string, handler SourceHandler) error {
	if p.extensions == nil {
		p.extensions = map[string]SourceHandler{}
	}
	if _, dup := p.extensions[ext]; dup {
		return fmt.Errorf("package %s: extension %q registered twice", p.DisplayName(), ext)
	}
	p.extensions[ext] = handler
	return nil
}

// UseHandlerFunc returns the on-use handler, or nil.
func (p *Package) UseHandlerFunc() UseHandler { return p.onUse }

// TestHandlerFunc returns the on-test handler, or nil.
func (p *Package) TestHandlerFunc() UseHandler { return p.onTest }

// Extension returns the handler registered on this package for ext.
func (p *Package) Extension(ext string) (SourceHandler, bool) {
	h, ok := p.extensions[ext]
	return h, ok
}

// Extensions lists the extensions registered on this package, sorted.
func (p *Package) Extensions() []string {
	exts := make([]string, 0, len(p.extensions))
	for ext := range p.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// DisplayName names the package in diagnostics.
func (p *Package) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return "(app)"
}
