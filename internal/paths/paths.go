package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"meteorite/internal/fsutil"
)

// ProjectPaths captures canonical locations inside a project directory.
type ProjectPaths struct {
	Root         string
	MeteorDir    string
	PackagesFile string
	ReleaseFile  string
	ConfigFile   string
	LocalDir     string
	LogsDir      string
}

// Resolve determines the project root using the optional --project flag.
// With an empty flag it searches upward from the working directory for a
// .meteor entry, falling back to the working directory itself.
func Resolve(projectFlag string) (ProjectPaths, error) {
	if projectFlag != "" {
		root, err := filepath.Abs(projectFlag)
		if err != nil {
			return ProjectPaths{}, fmt.Errorf("resolve project root: %w", err)
		}
		return ForRoot(root), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ProjectPaths{}, fmt.Errorf("resolve project root: %w", err)
	}
	if root, ok := fsutil.FindUpwards(cwd, ".meteor"); ok {
		return ForRoot(root), nil
	}
	return ForRoot(cwd), nil
}

// ForRoot builds ProjectPaths for an already-absolute root.
func ForRoot(root string) ProjectPaths {
	meteorDir := filepath.Join(root, ".meteor")
	localDir := filepath.Join(meteorDir, "local")
	return ProjectPaths{
		Root:         root,
		MeteorDir:    meteorDir,
		PackagesFile: filepath.Join(meteorDir, "packages"),
		ReleaseFile:  filepath.Join(meteorDir, "release"),
		ConfigFile:   filepath.Join(root, "bundle.yaml"),
		LocalDir:     localDir,
		LogsDir:      filepath.Join(localDir, "logs"),
	}
}

// EnsureLocalDirs creates the metadata directories used during a bundle run.
func (p ProjectPaths) EnsureLocalDirs() error {
	for _, dir := range []string{p.LocalDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WarehouseDir determines the per-user package cache directory, honouring
// the METEORITE_WAREHOUSE_DIR override.
func WarehouseDir() (string, error) {
	if override, ok := os.LookupEnv("METEORITE_WAREHOUSE_DIR"); ok && override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("resolve METEORITE_WAREHOUSE_DIR: %w", err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Meteorite"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "Meteorite"), nil
		}
		return filepath.Join(home, "AppData", "Local", "Meteorite"), nil
	default:
		return filepath.Join(home, ".local", "share", "meteorite"), nil
	}
}
