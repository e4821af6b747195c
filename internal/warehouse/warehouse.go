// Package warehouse pulls versioned package archives from a remote origin
// into the local per-user cache.
package warehouse

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBaseURL is the package origin used when no override is configured.
const DefaultBaseURL = "https://warehouse.meteorite.dev"

// ManifestFileName marks a directory as a package; an extracted package is
// only considered present in the cache when this file exists.
const ManifestFileName = "package.hcl"

// Manifest pins a set of package names to versions for one release.
type Manifest struct {
	Release  string            `json:"release"`
	Packages map[string]string `json:"packages"`
}

// BaseURL resolves the origin, honouring the METEORITE_WAREHOUSE_URL
// override.
func BaseURL(configured string) string {
	if override := os.Getenv("METEORITE_WAREHOUSE_URL"); override != "" {
		return override
	}
	if configured != "" {
		return configured
	}
	return DefaultBaseURL
}

// ManifestURL is the remote location of a release manifest.
func ManifestURL(base, release string) string {
	return fmt.Sprintf("%s/manifest/%s.json", base, release)
}

// PackageURL is the remote location of a package tarball.
func PackageURL(base, name, version string) string {
	return fmt.Sprintf("%s/packages/%s/%s.tar.gz", base, name, version)
}

// CachedManifestPath is where a release manifest is persisted under the
// cache root.
func CachedManifestPath(cacheDir, release string) string {
	return filepath.Join(cacheDir, "manifest", release+".json")
}

// PackageCacheDir is where an extracted package lives under the cache root.
func PackageCacheDir(cacheDir, name, version string) string {
	return filepath.Join(cacheDir, "packages", name, version)
}

// LoadCachedManifest reads a previously persisted release manifest. The
// boolean result reports whether the manifest was present.
func LoadCachedManifest(cacheDir, release string) (*Manifest, bool, error) {
	data, err := os.ReadFile(CachedManifestPath(cacheDir, release))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cached manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("decode cached manifest: %w", err)
	}
	if m.Release == "" {
		m.Release = release
	}
	return &m, true, nil
}

// PackagePresent reports whether the cache holds a usable copy of the
// package: the directory must contain its package manifest, so an empty
// directory left behind by a failed extraction does not count.
func PackagePresent(cacheDir, name, version string) bool {
	_, err := os.Stat(filepath.Join(PackageCacheDir(cacheDir, name, version), ManifestFileName))
	return err == nil
}
