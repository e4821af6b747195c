package pack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"meteorite/internal/warehouse"
)

// Logger is the minimal logging surface the registry needs.
type Logger interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Context owns the package registry for one bundler instance: name-to-
// package resolution with caching, the pinned release manifest, and id
// allocation. There is no process-global state; discarding the context
// discards everything.
type Context struct {
	// PackageSets are directories whose immediate subdirectories are
	// packages, searched before the warehouse cache.
	PackageSets []string
	// CacheDir is the warehouse cache root.
	CacheDir string
	// Handlers resolves the handler names package manifests refer to.
	Handlers *HandlerRegistry
	// Installer installs native modules for packages that declare them.
	// Nil disables installation.
	Installer NpmInstaller
	Logger    Logger

	manifest *warehouse.Manifest
	packages map[string]*Package
	nextID   int
}

// NewContext creates a registry context.
func NewContext(cacheDir string, packageSets []string, handlers *HandlerRegistry) *Context {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Context{
		PackageSets: packageSets,
		CacheDir:    cacheDir,
		Handlers:    handlers,
		Logger:      noopLogger{},
		packages:    map[string]*Package{},
	}
}

// NewPackage allocates a package with a fresh id. Ids increase
// monotonically and are not reused within the context.
func (c *Context) NewPackage(name, sourceRoot, serveRoot string) *Package {
	c.nextID++
	return &Package{
		Name:       name,
		SourceRoot: sourceRoot,
		ServeRoot:  serveRoot,
		id:         c.nextID,
	}
}

// SetManifest pins the release manifest used to resolve package versions.
func (c *Context) SetManifest(m *warehouse.Manifest) { c.manifest = m }

// Manifest returns the pinned release manifest, or nil.
func (c *Context) Manifest() *warehouse.Manifest { return c.manifest }

// Flush clears the resolution cache, typically between bundle runs.
func (c *Context) Flush() {
	c.packages = map[string]*Package{}
}

// Get resolves a package by name: cached instance first, then the local
// package sets, then the warehouse cache at the version pinned by the
// release manifest.
func (c *Context) Get(name string) (*Package, error) {
	if p, ok := c.packages[name]; ok {
		return p, nil
	}

	dir, found, err := c.findInPackageSets(name)
	if err != nil {
		return nil, err
	}

	if !found {
		if c.manifest == nil {
			return nil, fmt.Errorf("no release manifest set, cannot resolve package %s", name)
		}
		version, pinned := c.manifest.Packages[name]
		if !pinned {
			return nil, fmt.Errorf("package not found: %s", name)
		}
		if !warehouse.PackagePresent(c.CacheDir, name, version) {
			return nil, fmt.Errorf("package %s@%s is not in the local cache", name, version)
		}
		dir = warehouse.PackageCacheDir(c.CacheDir, name, version)
	}

	p := c.NewPackage(name, dir, "/packages/"+name)
	if err := LoadManifest(p, dir, c.Handlers); err != nil {
		return nil, err
	}

	c.packages[name] = p
	c.Logger.Printf("resolved package %s from %s", name, dir)
	return p, nil
}

// findInPackageSets searches the local package sets for name. Finding the
// same name in more than one set is an error.
func (c *Context) findInPackageSets(name string) (string, bool, error) {
	var matches []string
	for _, set := range c.PackageSets {
		dir := filepath.Join(set, name)
		if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err == nil {
			matches = append(matches, dir)
		}
	}
	switch len(matches) {
	case 0:
		return "", false, nil
	case 1:
		return matches[0], true, nil
	default:
		return "", false, fmt.Errorf("package %s found in multiple package sets: %v", name, matches)
	}
}

// List enumerates the names of every known package: the union of the local
// package sets and the release manifest, local sets winning on conflicts.
func (c *Context) List() ([]string, error) {
	seen := map[string]bool{}
	var names []string

	for _, set := range c.PackageSets {
		entries, err := os.ReadDir(set)
		if err != nil {
			return nil, fmt.Errorf("read package set %s: %w", set, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			if _, err := os.Stat(filepath.Join(set, name, ManifestFileName)); err != nil {
				continue
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	if c.manifest != nil {
		for name := range c.manifest.Packages {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

// PopulateCache downloads the release manifest and any missing package
// archives, pins the manifest on the context, and returns it.
func (c *Context) PopulateCache(ctx context.Context, baseURL, release string, rep warehouse.Reporter) (*warehouse.Manifest, error) {
	m, err := warehouse.Populate(ctx, c.CacheDir, baseURL, release, rep)
	if err != nil {
		return nil, err
	}
	c.SetManifest(m)
	return m, nil
}

// LoadCachedManifest pins a previously downloaded manifest for release if
// one exists in the cache. Reports whether a manifest was found.
func (c *Context) LoadCachedManifest(release string) (bool, error) {
	m, ok, err := warehouse.LoadCachedManifest(c.CacheDir, release)
	if err != nil || !ok {
		return ok, err
	}
	c.SetManifest(m)
	return true, nil
}
