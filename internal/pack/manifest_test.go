package pack

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// recordingAPI captures the calls a synthesized handler makes.
type recordingAPI struct {
	uses  []string
	files map[Environment][]string
	tests []string
	exts  []string
	errs  []string
}

func newRecordingAPI(exts ...string) *recordingAPI {
	return &recordingAPI{files: map[Environment][]string{}, exts: exts}
}

func (a *recordingAPI) Use(names []string, where []Environment) error {
	for _, name := range names {
		for _, env := range where {
			a.uses = append(a.uses, name+":"+string(env))
		}
	}
	return nil
}

func (a *recordingAPI) AddFiles(paths []string, where []Environment) error {
	for _, env := range where {
		a.files[env] = append(a.files[env], paths...)
	}
	return nil
}

func (a *recordingAPI) IncludeTests(names []string) error {
	a.tests = append(a.tests, names...)
	return nil
}

func (a *recordingAPI) RegisteredExtensions() []string { return a.exts }

func (a *recordingAPI) Error(msg string) { a.errs = append(a.errs, msg) }

func writeManifest(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func testRegistry(t *testing.T) *HandlerRegistry {
	t.Helper()
	r := NewHandlerRegistry()
	noop := func(BundleAPI, string, string, []Environment) error { return nil }
	for _, name := range []string{"js", "css"} {
		if err := r.Register(name, noop); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return r
}

func TestLoadManifestDeclarations(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, ManifestFileName, `
describe {
  summary  = "Reactive helpers"
  internal = true
}

npm_dependencies = {
  mime = "1.2.4"
}

on_use {
  use {
    packages = ["deps"]
  }
  use {
    packages = ["jquery"]
    where    = ["client"]
  }
  files {
    paths = ["lib/helpers.js"]
  }
}

on_test {
  files {
    paths = ["tests/helpers_test.js"]
    where = ["client", "server"]
  }
}

register_extension "js" {
  handler = "js"
}
`)

	c := NewContext(t.TempDir(), nil, testRegistry(t))
	p := c.NewPackage("helpers", dir, "/packages/helpers")
	if err := LoadManifest(p, dir, c.Handlers); err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	if p.Metadata.Summary != "Reactive helpers" || !p.Metadata.Internal {
		t.Fatalf("metadata = %+v", p.Metadata)
	}
	if p.NpmDependencies["mime"] != "1.2.4" {
		t.Fatalf("npm deps = %v", p.NpmDependencies)
	}
	if got := p.Extensions(); !reflect.DeepEqual(got, []string{"js"}) {
		t.Fatalf("extensions = %v", got)
	}

	api := newRecordingAPI("js")
	if err := p.UseHandlerFunc()(api, []Environment{EnvServer}); err != nil {
		t.Fatalf("on_use handler: %v", err)
	}
	wantUses := []string{"deps:server", "jquery:client"}
	if !reflect.DeepEqual(api.uses, wantUses) {
		t.Fatalf("uses = %v, want %v", api.uses, wantUses)
	}
	if got := api.files[EnvServer]; !reflect.DeepEqual(got, []string{"lib/helpers.js"}) {
		t.Fatalf("server files = %v", got)
	}

	testAPI := newRecordingAPI("js")
	if err := p.TestHandlerFunc()(testAPI, []Environment{EnvClient, EnvServer}); err != nil {
		t.Fatalf("on_test handler: %v", err)
	}
	if got := testAPI.files[EnvClient]; !reflect.DeepEqual(got, []string{"tests/helpers_test.js"}) {
		t.Fatalf("test files = %v", got)
	}
}

func TestLoadManifestDuplicateOnUse(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, ManifestFileName, `
on_use {}
on_use {}
`)

	c := NewContext(t.TempDir(), nil, testRegistry(t))
	p := c.NewPackage("dup", dir, "/packages/dup")
	if err := LoadManifest(p, dir, c.Handlers); err == nil {
		t.Fatal("expected an error for a duplicate on_use block")
	}
}

func TestLoadManifestDuplicateExtension(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, ManifestFileName, `
register_extension "js" { handler = "js" }
register_extension "js" { handler = "css" }
`)

	c := NewContext(t.TempDir(), nil, testRegistry(t))
	p := c.NewPackage("dup", dir, "/packages/dup")
	if err := LoadManifest(p, dir, c.Handlers); err == nil {
		t.Fatal("expected an error for a duplicate extension registration")
	}
}

func TestLoadManifestUnknownHandler(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, ManifestFileName, `
register_extension "sass" { handler = "no-such-handler" }
`)

	c := NewContext(t.TempDir(), nil, testRegistry(t))
	p := c.NewPackage("bad", dir, "/packages/bad")
	if err := LoadManifest(p, dir, c.Handlers); err == nil {
		t.Fatal("expected an error for an unknown handler name")
	}
}

func TestLoadManifestInclude(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, ManifestFileName, `
include = ["extensions.hcl"]

on_use {
  files { paths = ["a.js"] }
}
`)
	writeManifest(t, dir, "extensions.hcl", `
register_extension "js" { handler = "js" }
`)

	c := NewContext(t.TempDir(), nil, testRegistry(t))
	p := c.NewPackage("inc", dir, "/packages/inc")
	if err := LoadManifest(p, dir, c.Handlers); err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if got := p.Extensions(); !reflect.DeepEqual(got, []string{"js"}) {
		t.Fatalf("extensions = %v", got)
	}
}

func TestLoadManifestIncludeDuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, ManifestFileName, `
include = ["more.hcl"]
on_use {}
`)
	writeManifest(t, dir, "more.hcl", `
on_use {}
`)

	c := NewContext(t.TempDir(), nil, testRegistry(t))
	p := c.NewPackage("dup", dir, "/packages/dup")
	if err := LoadManifest(p, dir, c.Handlers); err == nil {
		t.Fatal("expected duplicate on_use across included manifests to fail")
	}
}

func TestCanonicalWhere(t *testing.T) {
	a, err := CanonicalWhere([]Environment{EnvServer, EnvClient, EnvServer})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	b, err := CanonicalWhere([]Environment{EnvClient, EnvServer})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a != `["client","server"]` {
		t.Fatalf("key = %q", a)
	}

	if _, err := CanonicalWhere([]Environment{"browser"}); err == nil {
		t.Fatal("expected an error for an unknown environment")
	}
}
