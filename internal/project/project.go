// Package project recognizes what kind of tree a directory holds -- an
// application, a single package, or a collection of packages -- and
// synthesizes the pseudo-packages representing apps and collections.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"meteorite/internal/pack"
	"meteorite/internal/paths"
	"meteorite/internal/sources"
	"meteorite/pkg/pkglist"
)

// CorePackages are unconditionally used by every application.
var CorePackages = []string{"core", "webapp"}

// IsApp reports whether dir is an application directory: it carries a
// .meteor/packages declaration file.
func IsApp(dir string) bool {
	info, err := os.Stat(paths.ForRoot(dir).PackagesFile)
	return err == nil && info.Mode().IsRegular()
}

// IsPackage reports whether dir is a package directory.
func IsPackage(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, pack.ManifestFileName))
	return err == nil && info.Mode().IsRegular()
}

// IsCollection reports whether every immediate subdirectory of dir is a
// package directory.
func IsCollection(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	found := false
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !IsPackage(filepath.Join(dir, entry.Name())) {
			return false
		}
		found = true
	}
	return found
}

// AppPackage synthesizes the pseudo-package for an application directory.
// Its on-use handler pulls in the core packages plus those declared by the
// project, then registers the app's own sources: everything outside a
// server directory runs on the client, everything outside a client
// directory runs on the server, and files under a tests directory are left
// to the test handler.
func AppPackage(c *pack.Context, appDir string, extraIgnore []*regexp.Regexp) (*pack.Package, error) {
	appDir, err := filepath.Abs(appDir)
	if err != nil {
		return nil, fmt.Errorf("resolve app dir: %w", err)
	}

	p := c.NewPackage("", appDir, "/")

	onUse := func(api pack.PackageAPI, where []pack.Environment) error {
		declared, err := pkglist.Load(paths.ForRoot(appDir).PackagesFile)
		if err != nil {
			return err
		}
		names := append(append([]string{}, CorePackages...), declared...)
		if err := api.Use(names, where); err != nil {
			return err
		}
		return addAppFiles(api, appDir, where, extraIgnore, false)
	}
	onTest := func(api pack.PackageAPI, where []pack.Environment) error {
		return addAppFiles(api, appDir, where, extraIgnore, true)
	}

	if err := p.OnUse(onUse); err != nil {
		return nil, err
	}
	if err := p.OnTest(onTest); err != nil {
		return nil, err
	}
	return p, nil
}

// addAppFiles enumerates the app tree and routes each source to its
// environments. testsOnly selects the files under a tests directory (for
// on_test) instead of excluding them (for on_use).
func addAppFiles(api pack.PackageAPI, appDir string, where []pack.Environment, extraIgnore []*regexp.Regexp, testsOnly bool) error {
	files, err := sources.Enumerate(appDir, api.RegisteredExtensions(), extraIgnore)
	if err != nil {
		return err
	}

	allowed := map[pack.Environment]bool{}
	for _, env := range where {
		allowed[env] = true
	}

	for _, file := range files {
		if hasSegment(file, "tests") != testsOnly {
			continue
		}
		for _, env := range classify(file) {
			if !allowed[env] {
				continue
			}
			if err := api.AddFiles([]string{file}, []pack.Environment{env}); err != nil {
				return err
			}
		}
	}
	return nil
}

// classify routes a relative source path to its environments: not under a
// server directory means client, not under a client directory means server.
func classify(rel string) []pack.Environment {
	var envs []pack.Environment
	if !hasSegment(rel, "server") {
		envs = append(envs, pack.EnvClient)
	}
	if !hasSegment(rel, "client") {
		envs = append(envs, pack.EnvServer)
	}
	return envs
}

func hasSegment(rel, segment string) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// CollectionPackage synthesizes the pseudo-package for a directory whose
// immediate subdirectories are packages. Its test handler includes the
// tests of every qualifying subdirectory.
func CollectionPackage(c *pack.Context, dir string) (*pack.Package, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve collection dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read collection dir: %w", err)
	}
	var members []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if IsPackage(filepath.Join(dir, entry.Name())) {
			members = append(members, entry.Name())
		}
	}

	p := c.NewPackage("", "", "/")
	onTest := func(api pack.PackageAPI, _ []pack.Environment) error {
		return api.IncludeTests(members)
	}
	if err := p.OnTest(onTest); err != nil {
		return nil, err
	}
	return p, nil
}
