package bundle

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"meteorite/internal/pack"
)

// PackageBundlingInfo tracks one package's occurrence within a bundle: the
// environment sets it has been configured for, the packages it pulled in,
// and the source files it registered.
type PackageBundlingInfo struct {
	pkg    *pack.Package
	bundle *Bundle

	// where holds the canonical environment-set keys this occurrence has
	// already been configured for; active marks keys whose handler is
	// still running, for cycle detection.
	where  map[string]bool
	active map[string]bool

	// using maps package id to the child occurrences this package pulled
	// in; handler lookup consults these directly-used packages only.
	using      map[int]*PackageBundlingInfo
	usingOrder []int

	// files records the registered source paths per environment.
	files map[pack.Environment]map[string]bool

	// dependencies are the relative paths whose content changes should
	// trigger a rebuild. Static assets are deliberately not listed here;
	// they are watched through the app's public directory instead.
	dependencies map[string]bool
	depOrder     []string
}

func newPackageBundlingInfo(pkg *pack.Package, b *Bundle) *PackageBundlingInfo {
	inst := &PackageBundlingInfo{
		pkg:          pkg,
		bundle:       b,
		where:        map[string]bool{},
		active:       map[string]bool{},
		using:        map[int]*PackageBundlingInfo{},
		files:        map[pack.Environment]map[string]bool{},
		dependencies: map[string]bool{},
	}
	if pkg.Name != "" {
		inst.addDependency(pack.ManifestFileName)
	}
	return inst
}

func (inst *PackageBundlingInfo) addDependency(rel string) {
	if inst.dependencies[rel] {
		return
	}
	inst.dependencies[rel] = true
	inst.depOrder = append(inst.depOrder, rel)
}

// Dependencies lists the watched relative paths in registration order.
func (inst *PackageBundlingInfo) Dependencies() []string {
	return append([]string(nil), inst.depOrder...)
}

// addFile registers one source file for one environment, dispatching to
// the extension's handler or falling back to a static resource.
func (inst *PackageBundlingInfo) addFile(rel string, env pack.Environment) error {
	rel = filepath.ToSlash(rel)
	if inst.files[env] == nil {
		inst.files[env] = map[string]bool{}
	}
	if inst.files[env][rel] {
		return nil
	}
	inst.files[env][rel] = true

	ext := strings.TrimPrefix(path.Ext(rel), ".")
	handler, err := inst.resolveHandler(ext)
	if err != nil {
		return err
	}

	sourcePath := filepath.Join(inst.pkg.SourceRoot, filepath.FromSlash(rel))
	servePath := path.Join(inst.pkg.ServeRoot, rel)

	if handler == nil {
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return fmt.Errorf("read static source %s: %w", sourcePath, err)
		}
		return inst.bundle.api.AddResource(pack.ResourceOptions{
			Type:  "static",
			Where: []pack.Environment{env},
			Path:  servePath,
			Data:  data,
		})
	}

	if err := handler(inst.bundle.api, sourcePath, servePath, []pack.Environment{env}); err != nil {
		return err
	}
	inst.addDependency(rel)
	return nil
}

// resolveHandler finds the handler for an extension among this package and
// the packages it directly uses. Transitively-used packages are not
// consulted. Zero candidates means static; more than one is a conflict.
func (inst *PackageBundlingInfo) resolveHandler(ext string) (pack.SourceHandler, error) {
	var (
		found pack.SourceHandler
		owner string
		count int
	)
	if h, ok := inst.pkg.Extension(ext); ok {
		found, owner, count = h, inst.pkg.DisplayName(), 1
	}
	for _, id := range inst.usingOrder {
		child := inst.using[id]
		if h, ok := child.pkg.Extension(ext); ok {
			if count > 0 && child.pkg.DisplayName() != owner {
				return nil, fmt.Errorf("extension %q claimed by both %s and %s in the scope of %s",
					ext, owner, child.pkg.DisplayName(), inst.pkg.DisplayName())
			}
			found, owner = h, child.pkg.DisplayName()
			count++
		}
	}
	return found, nil
}

func (inst *PackageBundlingInfo) recordUse(child *PackageBundlingInfo) {
	id := child.pkg.ID()
	if _, ok := inst.using[id]; ok {
		return
	}
	inst.using[id] = child
	inst.usingOrder = append(inst.usingOrder, id)
}

// packageAPI is the handle handed to on_use/on_test handlers.
type packageAPI struct {
	inst *PackageBundlingInfo
}

func (a packageAPI) Use(names []string, where []pack.Environment) error {
	for _, name := range names {
		p, err := a.inst.bundle.ctx.Get(name)
		if err != nil {
			return err
		}
		if err := a.inst.bundle.Use(p, where, a.inst); err != nil {
			return err
		}
	}
	return nil
}

func (a packageAPI) AddFiles(paths []string, where []pack.Environment) error {
	for _, p := range paths {
		for _, env := range where {
			if err := a.inst.addFile(p, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a packageAPI) IncludeTests(names []string) error {
	for _, name := range names {
		p, err := a.inst.bundle.ctx.Get(name)
		if err != nil {
			return err
		}
		if err := a.inst.bundle.IncludeTests(p); err != nil {
			return err
		}
	}
	return nil
}

// RegisteredExtensions lists the extensions usable by this occurrence: its
// own registrations plus those of the packages it directly uses.
func (a packageAPI) RegisteredExtensions() []string {
	seen := map[string]bool{}
	var exts []string
	add := func(list []string) {
		for _, ext := range list {
			if !seen[ext] {
				seen[ext] = true
				exts = append(exts, ext)
			}
		}
	}
	add(a.inst.pkg.Extensions())
	for _, id := range a.inst.usingOrder {
		add(a.inst.using[id].pkg.Extensions())
	}
	sort.Strings(exts)
	return exts
}

func (a packageAPI) Error(msg string) {
	a.inst.bundle.recordError(msg)
}
