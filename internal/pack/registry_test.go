package pack

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"meteorite/internal/warehouse"
)

func makePackageDir(t *testing.T, set, name string) string {
	t.Helper()
	dir := filepath.Join(set, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	writeManifest(t, dir, ManifestFileName, "describe { summary = \""+name+"\" }\n")
	return dir
}

func TestGetResolvesFromPackageSet(t *testing.T) {
	set := t.TempDir()
	makePackageDir(t, set, "alpha")

	c := NewContext(t.TempDir(), []string{set}, testRegistry(t))
	p, err := c.Get("alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Name != "alpha" || p.ServeRoot != "/packages/alpha" {
		t.Fatalf("package = %+v", p)
	}

	again, err := c.Get("alpha")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again != p {
		t.Fatal("expected the cached instance")
	}

	c.Flush()
	fresh, err := c.Get("alpha")
	if err != nil {
		t.Fatalf("get after flush: %v", err)
	}
	if fresh == p {
		t.Fatal("flush should discard the cached instance")
	}
	if fresh.ID() == p.ID() {
		t.Fatal("ids must not be reused after a flush")
	}
}

func TestGetDuplicateAcrossSets(t *testing.T) {
	setA, setB := t.TempDir(), t.TempDir()
	makePackageDir(t, setA, "alpha")
	makePackageDir(t, setB, "alpha")

	c := NewContext(t.TempDir(), []string{setA, setB}, testRegistry(t))
	if _, err := c.Get("alpha"); err == nil {
		t.Fatal("expected an error for a package in multiple sets")
	}
}

func TestGetRequiresManifest(t *testing.T) {
	c := NewContext(t.TempDir(), nil, testRegistry(t))
	_, err := c.Get("missing")
	if err == nil {
		t.Fatal("expected an error without a release manifest")
	}
	if !strings.Contains(err.Error(), "no release manifest set") {
		t.Fatalf("error = %v", err)
	}
}

func TestGetFromWarehouseCache(t *testing.T) {
	cacheDir := t.TempDir()
	slot := warehouse.PackageCacheDir(cacheDir, "beta", "1.2.0")
	if err := os.MkdirAll(slot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeManifest(t, slot, ManifestFileName, "describe { summary = \"beta\" }\n")

	c := NewContext(cacheDir, nil, testRegistry(t))
	c.SetManifest(&warehouse.Manifest{Release: "0.1.0", Packages: map[string]string{"beta": "1.2.0"}})

	p, err := c.Get("beta")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.SourceRoot != slot {
		t.Fatalf("source root = %s, want %s", p.SourceRoot, slot)
	}
}

func TestGetMissingFromCache(t *testing.T) {
	c := NewContext(t.TempDir(), nil, testRegistry(t))
	c.SetManifest(&warehouse.Manifest{Release: "0.1.0", Packages: map[string]string{"beta": "1.2.0"}})
	if _, err := c.Get("beta"); err == nil {
		t.Fatal("expected an error for a package absent from the cache")
	}
}

func TestListUnionLocalSetsWin(t *testing.T) {
	set := t.TempDir()
	makePackageDir(t, set, "alpha")
	makePackageDir(t, set, "zeta")

	c := NewContext(t.TempDir(), []string{set}, testRegistry(t))
	c.SetManifest(&warehouse.Manifest{Packages: map[string]string{"alpha": "9.9.9", "beta": "1.0.0"}})

	names, err := c.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"alpha", "beta", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
}

func TestPackageIDsMonotonic(t *testing.T) {
	c := NewContext(t.TempDir(), nil, testRegistry(t))
	a := c.NewPackage("a", "", "/packages/a")
	b := c.NewPackage("b", "", "/packages/b")
	if b.ID() <= a.ID() {
		t.Fatalf("ids not monotonic: %d then %d", a.ID(), b.ID())
	}
}
