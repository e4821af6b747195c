package bundle

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"meteorite/internal/fsutil"
	"meteorite/internal/pack"
	"meteorite/internal/sources"
)

// WriteOptions configures the on-disk layout step.
type WriteOptions struct {
	// NodeModulesMode controls how node_modules directories are
	// materialized: "skip", "symlink" or "copy".
	NodeModulesMode string
	// RuntimeDir is the framework's runtime server tree, copied into
	// server/. Empty skips the copy (library-only bundles, tests).
	RuntimeDir string
	// ProjectDir is the bundled project; its public/ directory is copied
	// into static/.
	ProjectDir string
}

const appHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
{{CSS}}{{JS}}{{HEAD}}</head>
<body>
{{BODY}}</body>
</html>
`

const unsupportedHTML = `<!DOCTYPE html>
<html>
<body>Sorry, your browser is too old to run this app. Please upgrade to a modern browser.</body>
</html>
`

const mainJS = `require("./server/server.js");
`

const readmeText = `This directory is a self-contained application bundle.

Run it with a recent server-side JavaScript runtime:

  node main.js

The server code lives under app/ and is loaded in the order listed in
app.json. Client assets live under static/ (non-cacheable) and
static_cacheable/ (content-addressed, safe to cache forever).
`

var nodeModulesEntry = []*regexp.Regexp{regexp.MustCompile(`^node_modules$`)}

type appJSON struct {
	Load     []string        `json:"load"`
	Manifest []ManifestEntry `json:"manifest"`
}

type dependenciesJSON struct {
	Extensions []string            `json:"extensions"`
	Packages   map[string][]string `json:"packages"`
	Core       []string            `json:"core"`
	App        []string            `json:"app"`
	Exclude    []string            `json:"exclude"`
}

// WriteToDirectory serializes the bundle into outputPath. The tree is
// assembled in a sibling scratch directory and swapped into place with a
// rename, so a previous bundle at outputPath is either fully replaced or,
// on failure, a partial scratch tree is left for watchers to inspect.
func (b *Bundle) WriteToDirectory(outputPath string, opts WriteOptions) error {
	switch opts.NodeModulesMode {
	case "skip", "symlink", "copy":
	default:
		return fmt.Errorf("invalid node modules mode %q (want skip, symlink or copy)", opts.NodeModulesMode)
	}

	outputPath, err := filepath.Abs(outputPath)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	buildDir := filepath.Join(filepath.Dir(outputPath), ".build."+filepath.Base(outputPath))
	if err := os.RemoveAll(buildDir); err != nil {
		return fmt.Errorf("clear build dir: %w", err)
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}

	core, err := b.writeRuntime(buildDir, opts)
	if err != nil {
		return err
	}
	if err := b.writePublic(buildDir, opts.ProjectDir); err != nil {
		return err
	}

	b.bustClientCaches()

	if err := b.writeFileMap(b.client, filepath.Join(buildDir, "static")); err != nil {
		return err
	}
	if err := b.writeFileMap(b.clientCacheable, filepath.Join(buildDir, "static_cacheable")); err != nil {
		return err
	}

	load := []string{}
	appDir := filepath.Join(buildDir, "app")
	for _, p := range b.server.paths() {
		data, _ := b.server.get(p)
		rel := strings.TrimPrefix(p, "/")
		if err := fsutil.WriteFileAtomic(filepath.Join(appDir, filepath.FromSlash(rel)), data, 0o644); err != nil {
			return err
		}
		load = append(load, "app/"+rel)
	}

	if err := b.writeNodeModules(appDir, opts.NodeModulesMode); err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(filepath.Join(buildDir, "app.html"), []byte(b.renderAppHTML()), 0o644); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(buildDir, "unsupported.html"), []byte(unsupportedHTML), 0o644); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(buildDir, "main.js"), []byte(mainJS), 0o644); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(buildDir, "README"), []byte(readmeText), 0o644); err != nil {
		return err
	}

	manifest := b.manifest
	if manifest == nil {
		manifest = []ManifestEntry{}
	}
	appData, err := json.MarshalIndent(appJSON{Load: load, Manifest: manifest}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode app.json: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(buildDir, "app.json"), appData, 0o644); err != nil {
		return err
	}

	depData, err := json.Marshal(b.dependencies(core))
	if err != nil {
		return fmt.Errorf("encode dependencies.json: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(buildDir, "dependencies.json"), depData, 0o644); err != nil {
		return err
	}

	if err := os.RemoveAll(outputPath); err != nil {
		return fmt.Errorf("remove previous bundle: %w", err)
	}
	if err := os.Rename(buildDir, outputPath); err != nil {
		return fmt.Errorf("move bundle into place: %w", err)
	}
	return nil
}

// writeRuntime copies the runtime server tree and applies the node modules
// mode to its node_modules directory.
func (b *Bundle) writeRuntime(buildDir string, opts WriteOptions) ([]string, error) {
	if opts.RuntimeDir == "" {
		return nil, nil
	}

	serverDir := filepath.Join(buildDir, "server")
	if err := fsutil.CopyTree(opts.RuntimeDir, serverDir, fsutil.CopyOptions{IgnoreFiles: nodeModulesEntry}); err != nil {
		return nil, fmt.Errorf("copy runtime server: %w", err)
	}

	runtimeModules := filepath.Join(opts.RuntimeDir, "node_modules")
	if _, err := os.Stat(runtimeModules); err == nil {
		if err := materializeNodeModules(runtimeModules, filepath.Join(serverDir, "node_modules"), opts.NodeModulesMode); err != nil {
			return nil, err
		}
	}

	versionFile := filepath.Join(opts.RuntimeDir, ".bundle_version.txt")
	if _, err := os.Stat(versionFile); err == nil {
		if err := fsutil.CopyFile(versionFile, filepath.Join(serverDir, ".bundle_version.txt")); err != nil {
			return nil, err
		}
	}

	return []string{"server"}, nil
}

// writePublic copies the project's public directory into static/ and emits
// a manifest entry for every copied file.
func (b *Bundle) writePublic(buildDir, projectDir string) error {
	if projectDir == "" {
		return nil
	}
	publicDir := filepath.Join(projectDir, "public")
	info, err := os.Stat(publicDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	staticDir := filepath.Join(buildDir, "static")
	if err := fsutil.CopyTree(publicDir, staticDir, fsutil.CopyOptions{IgnoreFiles: sources.IgnoreFiles}); err != nil {
		return fmt.Errorf("copy public assets: %w", err)
	}

	return filepath.WalkDir(staticDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(staticDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read public asset %s: %w", p, err)
		}
		urlPath := "/" + filepath.ToSlash(rel)
		b.manifest = append(b.manifest, ManifestEntry{
			Path:      "static/" + filepath.ToSlash(rel),
			Where:     "client",
			Type:      "static",
			Cacheable: false,
			URL:       urlPath,
			Size:      len(data),
			Hash:      sha1Hex(data),
		})
		return nil
	})
}

// bustClientCaches moves every client JS and CSS file that survived
// minification into the cacheable set under a hash-busted URL.
func (b *Bundle) bustClientCaches() {
	move := func(paths []string, typ string) {
		for _, p := range paths {
			data, ok := b.client.get(p)
			if !ok {
				continue
			}
			hash := sha1Hex(data)
			b.client.remove(p)
			b.clientCacheable.set(p, data)
			b.manifest = append(b.manifest, ManifestEntry{
				Path:      "static_cacheable" + p,
				Where:     "client",
				Type:      typ,
				Cacheable: true,
				URL:       p + "?" + hash,
				Size:      len(data),
				Hash:      hash,
			})
		}
	}
	move(b.js[pack.EnvClient], "js")
	b.js[pack.EnvClient] = nil
	move(b.css, "css")
	b.css = nil

	// Whatever is left in the client map is a static resource registered
	// by a package; record it so the manifest covers every served file.
	for _, p := range b.client.paths() {
		data, _ := b.client.get(p)
		b.manifest = append(b.manifest, ManifestEntry{
			Path:      "static" + p,
			Where:     "client",
			Type:      "static",
			Cacheable: false,
			URL:       p,
			Size:      len(data),
			Hash:      sha1Hex(data),
		})
	}
}

func (b *Bundle) writeFileMap(m *fileMap, root string) error {
	for _, p := range m.paths() {
		data, _ := m.get(p)
		target := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
		if err := fsutil.WriteFileAtomic(target, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bundle) writeNodeModules(appDir, mode string) error {
	for _, key := range b.nodeModulesKeys {
		src := b.nodeModulesDirs[key]
		if _, err := os.Stat(src); err != nil {
			continue
		}
		target := filepath.Join(appDir, filepath.FromSlash(key))
		if err := materializeNodeModules(src, target, mode); err != nil {
			return err
		}
	}
	return nil
}

func materializeNodeModules(src, target, mode string) error {
	switch mode {
	case "skip":
		return nil
	case "symlink":
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("prepare %s: %w", target, err)
		}
		if err := os.Symlink(src, target); err != nil {
			return fmt.Errorf("symlink node_modules: %w", err)
		}
		return nil
	case "copy":
		if err := fsutil.CopyTree(src, target, fsutil.CopyOptions{}); err != nil {
			return fmt.Errorf("copy node_modules: %w", err)
		}
		return nil
	}
	return fmt.Errorf("invalid node modules mode %q", mode)
}

// renderAppHTML fills the boilerplate page with the client asset URLs and
// the accumulated head and body fragments.
func (b *Bundle) renderAppHTML() string {
	var cssTags, jsTags strings.Builder
	for _, entry := range b.manifest {
		switch entry.Type {
		case "css":
			fmt.Fprintf(&cssTags, "  <link rel=\"stylesheet\" href=\"%s\">\n", entry.URL)
		case "js":
			fmt.Fprintf(&jsTags, "  <script type=\"text/javascript\" src=\"%s\"></script>\n", entry.URL)
		}
	}

	head := ""
	if len(b.head) > 0 {
		head = strings.Join(b.head, "\n") + "\n"
	}
	body := ""
	if len(b.body) > 0 {
		body = strings.Join(b.body, "\n") + "\n"
	}

	page := appHTMLTemplate
	page = strings.Replace(page, "{{CSS}}", cssTags.String(), 1)
	page = strings.Replace(page, "{{JS}}", jsTags.String(), 1)
	page = strings.Replace(page, "{{HEAD}}", head, 1)
	page = strings.Replace(page, "{{BODY}}", body, 1)
	return page
}

func (b *Bundle) dependencies(core []string) dependenciesJSON {
	deps := dependenciesJSON{
		Extensions: b.registeredExtensions(),
		Packages:   map[string][]string{},
		Core:       core,
		App:        []string{},
		Exclude:    sources.IgnorePatterns(b.extraIgnore),
	}
	if deps.Core == nil {
		deps.Core = []string{}
	}
	for _, id := range b.infoOrder {
		inst := b.infos[id]
		if inst.pkg.Name == "" {
			deps.App = append(deps.App, inst.Dependencies()...)
			continue
		}
		deps.Packages[inst.pkg.Name] = inst.Dependencies()
	}
	if deps.Extensions == nil {
		deps.Extensions = []string{}
	}
	return deps
}
