package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"meteorite/internal/fsutil"
)

// maxConcurrentFetches bounds the download fan-out when populating the
// cache for a release.
const maxConcurrentFetches = 8

// Reporter observes per-package download progress. Implementations must be
// safe for concurrent use; downloads run in parallel.
type Reporter interface {
	Start(name, version string)
	Done(name string, err error)
}

type noopReporter struct{}

func (noopReporter) Start(string, string) {}
func (noopReporter) Done(string, error)   {}

// FetchManifest downloads and decodes the release manifest for a version.
func FetchManifest(ctx context.Context, base, release string) (*Manifest, error) {
	data, err := httpGet(ctx, ManifestURL(base, release))
	if err != nil {
		return nil, fmt.Errorf("fetch release manifest %s: %w", release, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode release manifest %s: %w", release, err)
	}
	if m.Release == "" {
		m.Release = release
	}
	return &m, nil
}

// Populate fetches the manifest for release, persists it under the cache
// root, downloads every referenced package missing from the cache in
// parallel, and extracts each archive into its cache directory. The first
// download failure aborts the run.
func Populate(ctx context.Context, cacheDir, base, release string, rep Reporter) (*Manifest, error) {
	if rep == nil {
		rep = noopReporter{}
	}

	m, err := FetchManifest(ctx, base, release)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode release manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(CachedManifestPath(cacheDir, release), data, 0o644); err != nil {
		return nil, err
	}

	type download struct {
		name, version, archive string
	}

	names := make([]string, 0, len(m.Packages))
	for name := range m.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		sem       = make(chan struct{}, maxConcurrentFetches)
		downloads []download
	)

	for _, name := range names {
		version := m.Packages[name]
		if PackagePresent(cacheDir, name, version) {
			continue
		}

		wg.Add(1)
		go func(name, version string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rep.Start(name, version)
			archive, err := downloadPackage(ctx, cacheDir, base, name, version)
			rep.Done(name, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("download package %s@%s: %w", name, version, err)
				}
				return
			}
			downloads = append(downloads, download{name, version, archive})
		}(name, version)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	// Extraction is sequential: archives are small and this keeps cache
	// writes easy to reason about.
	sort.Slice(downloads, func(i, j int) bool { return downloads[i].name < downloads[j].name })
	for _, d := range downloads {
		if err := extractPackage(cacheDir, d.name, d.version, d.archive); err != nil {
			return nil, err
		}
		os.Remove(d.archive)
	}

	return m, nil
}

// downloadPackage streams the package tarball to a temp file under the
// cache's downloads directory and returns its path.
func downloadPackage(ctx context.Context, cacheDir, base, name, version string) (string, error) {
	downloads := filepath.Join(cacheDir, "downloads")
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return "", fmt.Errorf("prepare downloads dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, PackageURL(base, name, version), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(downloads, name+"-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("create download temp: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close download: %w", err)
	}
	return tmp.Name(), nil
}

// extractPackage unpacks an archive whose top-level entry is the package
// directory and moves that directory into the cache slot for name@version.
func extractPackage(cacheDir, name, version, archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive for %s: %w", name, err)
	}
	defer f.Close()

	scratch, err := os.MkdirTemp(filepath.Join(cacheDir, "downloads"), name+"-extract-")
	if err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := fsutil.ExtractTarGz(f, scratch); err != nil {
		return fmt.Errorf("extract %s@%s: %w", name, version, err)
	}

	top, err := fsutil.SingleSubdir(scratch)
	if err != nil {
		return fmt.Errorf("archive for %s@%s: %w", name, version, err)
	}

	target := PackageCacheDir(cacheDir, name, version)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("clear cache slot for %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare cache slot for %s: %w", name, err)
	}
	if err := os.Rename(top, target); err != nil {
		// Rename can fail across devices; fall back to a tree copy.
		if copyErr := fsutil.CopyTree(top, target, fsutil.CopyOptions{}); copyErr != nil {
			return fmt.Errorf("install %s into cache: %w", name, copyErr)
		}
	}
	return nil
}

func httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
