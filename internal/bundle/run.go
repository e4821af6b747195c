package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"meteorite/internal/config"
	"meteorite/internal/fsutil"
	"meteorite/internal/pack"
	"meteorite/internal/paths"
	"meteorite/internal/project"
)

// Options configures one bundling run.
type Options struct {
	// NodeModulesMode is required: "skip", "symlink" or "copy".
	NodeModulesMode string
	// NoMinify leaves client assets as individual cache-busted files.
	NoMinify bool
	// TestPackages lists packages whose tests are included in the bundle.
	TestPackages []string
	// VersionOverride pins the release version regardless of the
	// project's declaration.
	VersionOverride string
	// RuntimeDir is the framework runtime server tree to embed.
	RuntimeDir string
	// Context supplies the package registry; a fresh one over the default
	// warehouse directory is built when nil.
	Context *pack.Context
	// JSMinifier and CSSMinifier override the default minifiers.
	JSMinifier, CSSMinifier Minifier
	Logger                  pack.Logger
}

// Run bundles the application at appDir into outputPath. It returns nil on
// success or the ordered list of diagnostics on failure; fatal errors come
// back as a single-element list, handler-reported errors accumulate. It
// never panics across this boundary.
func Run(appDir, outputPath string, opts Options) (errs []string) {
	defer func() {
		if r := recover(); r != nil {
			errs = []string{fmt.Sprintf("Exception while bundling application:\n%v\n%s", r, debug.Stack())}
		}
	}()

	soft, err := run(appDir, outputPath, opts)
	if err != nil {
		return []string{"Exception while bundling application:\n" + err.Error()}
	}
	if len(soft) > 0 {
		return soft
	}
	return nil
}

func run(appDir, outputPath string, opts Options) ([]string, error) {
	if opts.NodeModulesMode == "" {
		return nil, errors.New("node modules mode is required")
	}
	switch opts.NodeModulesMode {
	case "skip", "symlink", "copy":
	default:
		return nil, fmt.Errorf("invalid node modules mode %q (want skip, symlink or copy)", opts.NodeModulesMode)
	}

	appDir, err := filepath.Abs(appDir)
	if err != nil {
		return nil, fmt.Errorf("resolve app dir: %w", err)
	}
	outputPath, err = filepath.Abs(outputPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	pp := paths.ForRoot(appDir)

	cfg, err := config.Load(pp.ConfigFile)
	if err != nil {
		return nil, err
	}

	ctx := opts.Context
	if ctx == nil {
		cacheDir, err := paths.WarehouseDir()
		if err != nil {
			return nil, err
		}
		ctx = pack.NewContext(cacheDir, nil, pack.NewHandlerRegistry())
	}
	if opts.Logger != nil {
		ctx.Logger = opts.Logger
	}

	if ctx.Manifest() == nil {
		release := releaseVersion(pp, cfg, opts.VersionOverride)
		if release != "" {
			if _, err := ctx.LoadCachedManifest(release); err != nil {
				return nil, err
			}
		}
	}

	app, err := project.AppPackage(ctx, appDir, cfg.IgnorePatterns())
	if err != nil {
		return nil, err
	}

	b := New(ctx, cfg.IgnorePatterns())
	if err := b.Use(app, []pack.Environment{pack.EnvClient, pack.EnvServer}, nil); err != nil {
		return b.Errors(), err
	}

	for _, name := range opts.TestPackages {
		p, err := ctx.Get(name)
		if err != nil {
			return b.Errors(), err
		}
		if err := b.IncludeTests(p); err != nil {
			return b.Errors(), err
		}
	}

	if !opts.NoMinify && cfg.MinifyValue() {
		b.Minify(opts.JSMinifier, opts.CSSMinifier)
	}

	// The bundle is written even when handlers reported errors, so the
	// dependency information is available to watchers that retry.
	if err := b.WriteToDirectory(outputPath, WriteOptions{
		NodeModulesMode: opts.NodeModulesMode,
		RuntimeDir:      opts.RuntimeDir,
		ProjectDir:      appDir,
	}); err != nil {
		return b.Errors(), err
	}

	// Keep the generated bundle out of the project's version control when
	// it was written inside the project tree.
	if rel, relErr := filepath.Rel(appDir, outputPath); relErr == nil && !strings.HasPrefix(rel, "..") {
		if _, statErr := os.Stat(filepath.Join(appDir, ".gitignore")); statErr == nil {
			_ = fsutil.AppendToGitignore(appDir, filepath.ToSlash(rel)+"/")
		}
	}

	return b.Errors(), nil
}

// releaseVersion determines the pinned release: explicit override first,
// then the METEORITE_RELEASE environment variable, then the project's
// bundle.yaml, then the .meteor/release file.
func releaseVersion(pp paths.ProjectPaths, cfg config.Config, override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("METEORITE_RELEASE"); env != "" {
		return env
	}
	if cfg.Warehouse.Release != "" {
		return cfg.Warehouse.Release
	}
	data, err := os.ReadFile(pp.ReleaseFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
