// Package bundle implements the bundling engine: dependency resolution
// over the package graph, resource accumulation, minification, and the
// final on-disk layout.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"meteorite/internal/pack"
)

// fileMap is a path-to-contents map that iterates in insertion order.
type fileMap struct {
	order []string
	data  map[string][]byte
}

func newFileMap() *fileMap {
	return &fileMap{data: map[string][]byte{}}
}

func (m *fileMap) set(path string, data []byte) {
	if _, ok := m.data[path]; !ok {
		m.order = append(m.order, path)
	}
	m.data[path] = data
}

func (m *fileMap) get(path string) ([]byte, bool) {
	data, ok := m.data[path]
	return data, ok
}

func (m *fileMap) remove(path string) {
	if _, ok := m.data[path]; !ok {
		return
	}
	delete(m.data, path)
	for i, p := range m.order {
		if p == path {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *fileMap) paths() []string {
	return append([]string(nil), m.order...)
}

func (m *fileMap) len() int { return len(m.order) }

// ManifestEntry describes one client resource in app.json.
type ManifestEntry struct {
	Path      string `json:"path"`
	Where     string `json:"where"`
	Type      string `json:"type"`
	Cacheable bool   `json:"cacheable"`
	URL       string `json:"url"`
	Size      int    `json:"size"`
	Hash      string `json:"hash"`
}

type useFrame struct {
	pkg *pack.Package
	key string
}

// Bundle accumulates the typed resources of one bundling run.
type Bundle struct {
	ctx    *pack.Context
	logger pack.Logger

	infos         map[int]*PackageBundlingInfo
	infoOrder     []int
	testsIncluded map[int]bool

	js  map[pack.Environment][]string
	css []string

	client          *fileMap
	clientCacheable *fileMap
	server          *fileMap

	manifest        []ManifestEntry
	nodeModulesDirs map[string]string
	nodeModulesKeys []string
	head            []string
	body            []string
	errs            []string

	extraIgnore []*regexp.Regexp
	useStack    []useFrame

	api pack.BundleAPI
}

// New creates an empty bundle over the given registry context.
func New(ctx *pack.Context, extraIgnore []*regexp.Regexp) *Bundle {
	b := &Bundle{
		ctx:             ctx,
		logger:          ctx.Logger,
		infos:           map[int]*PackageBundlingInfo{},
		testsIncluded:   map[int]bool{},
		js:              map[pack.Environment][]string{},
		client:          newFileMap(),
		clientCacheable: newFileMap(),
		server:          newFileMap(),
		nodeModulesDirs: map[string]string{},
		extraIgnore:     extraIgnore,
	}
	b.api = resourceAPI{b}
	return b
}

// Errors returns the accumulated diagnostics, in order.
func (b *Bundle) Errors() []string {
	return append([]string(nil), b.errs...)
}

func (b *Bundle) recordError(msg string) {
	b.errs = append(b.errs, msg)
}

func (b *Bundle) infoFor(pkg *pack.Package) *PackageBundlingInfo {
	if inst, ok := b.infos[pkg.ID()]; ok {
		return inst
	}
	inst := newPackageBundlingInfo(pkg, b)
	b.infos[pkg.ID()] = inst
	b.infoOrder = append(b.infoOrder, pkg.ID())
	return inst
}

// Use configures pkg for the given environment set, recording the edge
// from the requesting occurrence. It is idempotent per canonical
// environment set: the package's on_use handler runs at most once per set.
func (b *Bundle) Use(pkg *pack.Package, where []pack.Environment, from *PackageBundlingInfo) error {
	inst := b.infoFor(pkg)
	if from != nil {
		from.recordUse(inst)
	}

	key, err := pack.CanonicalWhere(where)
	if err != nil {
		return err
	}

	if inst.active[key] {
		b.recordError(b.cycleDiagnostic(pkg, key))
		return nil
	}
	if inst.where[key] {
		return nil
	}
	inst.where[key] = true

	if len(pkg.NpmDependencies) > 0 {
		if err := b.installNpmDependencies(pkg); err != nil {
			return err
		}
	}

	handler := pkg.UseHandlerFunc()
	if handler == nil {
		return nil
	}

	inst.active[key] = true
	b.useStack = append(b.useStack, useFrame{pkg, key})
	defer func() {
		b.useStack = b.useStack[:len(b.useStack)-1]
		delete(inst.active, key)
	}()

	return handler(packageAPI{inst}, where)
}

func (b *Bundle) cycleDiagnostic(pkg *pack.Package, key string) string {
	var names []string
	recording := false
	for _, frame := range b.useStack {
		if frame.pkg == pkg && frame.key == key {
			recording = true
		}
		if recording {
			names = append(names, frame.pkg.DisplayName())
		}
	}
	names = append(names, pkg.DisplayName())
	return "use cycle: " + strings.Join(names, " -> ")
}

func (b *Bundle) installNpmDependencies(pkg *pack.Package) error {
	dir := filepath.Join(pkg.SourceRoot, "node_modules")
	if b.ctx.Installer != nil {
		if err := b.ctx.Installer.Install(dir, pkg.NpmDependencies); err != nil {
			return fmt.Errorf("install native modules for %s: %w", pkg.DisplayName(), err)
		}
	}
	key := strings.TrimPrefix(pkg.ServeRoot, "/") + "/node_modules"
	if _, ok := b.nodeModulesDirs[key]; !ok {
		b.nodeModulesDirs[key] = dir
		b.nodeModulesKeys = append(b.nodeModulesKeys, key)
	}
	return nil
}

// IncludeTests mirrors Use for a package's test declarations. It is
// idempotent per package id, not per environment set.
func (b *Bundle) IncludeTests(pkg *pack.Package) error {
	if b.testsIncluded[pkg.ID()] {
		return nil
	}
	b.testsIncluded[pkg.ID()] = true

	inst := b.infoFor(pkg)
	handler := pkg.TestHandlerFunc()
	if handler == nil {
		return nil
	}
	return handler(packageAPI{inst}, []pack.Environment{pack.EnvClient, pack.EnvServer})
}

// registeredExtensions is the union over every occurrence, used for
// dependencies.json.
func (b *Bundle) registeredExtensions() []string {
	seen := map[string]bool{}
	var exts []string
	for _, id := range b.infoOrder {
		for _, ext := range b.infos[id].pkg.Extensions() {
			if !seen[ext] {
				seen[ext] = true
				exts = append(exts, "."+ext)
			}
		}
	}
	sort.Strings(exts)
	return exts
}

func (b *Bundle) fileMapFor(env pack.Environment) (*fileMap, error) {
	switch env {
	case pack.EnvClient:
		return b.client, nil
	case pack.EnvServer:
		return b.server, nil
	}
	return nil, fmt.Errorf("no file store for environment %q", env)
}

// resourceAPI is the sink handlers emit generated content through.
type resourceAPI struct {
	b *Bundle
}

func (a resourceAPI) Error(msg string) {
	a.b.recordError(msg)
}

// AddResource validates and stores one resource per the rules of its type.
func (a resourceAPI) AddResource(opts pack.ResourceOptions) error {
	if len(opts.Where) == 0 {
		return fmt.Errorf("resource of type %q has no environments", opts.Type)
	}

	data := opts.Data
	if data == nil {
		if opts.SourceFile == "" {
			return fmt.Errorf("resource of type %q has neither data nor a source file", opts.Type)
		}
		read, err := os.ReadFile(opts.SourceFile)
		if err != nil {
			return fmt.Errorf("read resource source %s: %w", opts.SourceFile, err)
		}
		data = read
	}

	switch opts.Type {
	case "js", "css", "static":
		if opts.Path == "" {
			return fmt.Errorf("resource of type %q requires a path", opts.Type)
		}
	case "head", "body":
	default:
		return fmt.Errorf("unknown resource type %q", opts.Type)
	}

	for _, env := range opts.Where {
		switch opts.Type {
		case "js":
			store, err := a.b.fileMapFor(env)
			if err != nil {
				return err
			}
			store.set(opts.Path, data)
			a.b.js[env] = append(a.b.js[env], opts.Path)
		case "css":
			// Stylesheets only make sense on the client; a .css file in
			// an app's server tree is silently skipped rather than
			// rejected.
			if env != pack.EnvClient {
				continue
			}
			a.b.client.set(opts.Path, data)
			a.b.css = append(a.b.css, opts.Path)
		case "head":
			if env != pack.EnvClient {
				return fmt.Errorf("head resources are client-only, got %q", env)
			}
			a.b.head = append(a.b.head, string(data))
		case "body":
			if env != pack.EnvClient {
				return fmt.Errorf("body resources are client-only, got %q", env)
			}
			a.b.body = append(a.b.body, string(data))
		case "static":
			store, err := a.b.fileMapFor(env)
			if err != nil {
				return err
			}
			store.set(opts.Path, data)
		}
	}
	return nil
}
