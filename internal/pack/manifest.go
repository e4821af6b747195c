package pack

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// ManifestFileName is the declarative package definition inside a package
// directory; its presence is what makes a directory a package.
const ManifestFileName = "package.hcl"

// hclManifest is the top-level structure of a package.hcl file.
type hclManifest struct {
	Include    []string          `hcl:"include,optional"`
	NpmDeps    map[string]string `hcl:"npm_dependencies,optional"`
	Describe   *hclDescribe      `hcl:"describe,block"`
	OnUse      []*hclHandler     `hcl:"on_use,block"`
	OnTest     []*hclHandler     `hcl:"on_test,block"`
	Extensions []*hclExtension   `hcl:"register_extension,block"`
}

type hclDescribe struct {
	Summary      string   `hcl:"summary,optional"`
	Internal     bool     `hcl:"internal,optional"`
	Environments []string `hcl:"environments,optional"`
}

// hclHandler is the body of an on_use or on_test block: use and files
// declarations interpreted when the synthesized handler runs.
type hclHandler struct {
	Uses  []*hclUse   `hcl:"use,block"`
	Files []*hclFiles `hcl:"files,block"`
}

type hclUse struct {
	Packages []string `hcl:"packages"`
	Where    []string `hcl:"where,optional"`
}

type hclFiles struct {
	Paths []string `hcl:"paths"`
	Where []string `hcl:"where,optional"`
}

type hclExtension struct {
	Ext     string `hcl:"ext,label"`
	Handler string `hcl:"handler"`
}

// manifestEvalContext exposes host facts to manifest expressions.
func manifestEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"platform": cty.StringVal(runtime.GOOS),
			"arch":     cty.StringVal(runtime.GOARCH),
		},
	}
}

// LoadManifest evaluates dir/package.hcl into p. The manifest is decoded
// exactly once per package load; includes are merged relative to the
// package directory before declarations are applied.
func LoadManifest(p *Package, dir string, handlers *HandlerRegistry) error {
	parser := hclparse.NewParser()
	visited := map[string]bool{}

	manifests, err := parseManifestFile(parser, filepath.Join(dir, ManifestFileName), dir, visited)
	if err != nil {
		return err
	}

	for _, m := range manifests {
		if err := applyManifest(p, m, handlers); err != nil {
			return err
		}
	}
	return nil
}

func parseManifestFile(parser *hclparse.Parser, path, dir string, visited map[string]bool) ([]*hclManifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path %s: %w", path, err)
	}
	if visited[abs] {
		return nil, fmt.Errorf("manifest include cycle through %s", abs)
	}
	visited[abs] = true

	file, diags := parser.ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse package manifest %s: %w", abs, diags)
	}

	var m hclManifest
	if diags := gohcl.DecodeBody(file.Body, manifestEvalContext(), &m); diags.HasErrors() {
		return nil, fmt.Errorf("decode package manifest %s: %w", abs, diags)
	}

	manifests := []*hclManifest{&m}
	for _, inc := range m.Include {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		included, err := parseManifestFile(parser, incPath, filepath.Dir(incPath), visited)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, included...)
	}
	return manifests, nil
}

func applyManifest(p *Package, m *hclManifest, handlers *HandlerRegistry) error {
	if m.Describe != nil {
		p.Describe(Metadata{
			Summary:      m.Describe.Summary,
			Internal:     m.Describe.Internal,
			Environments: m.Describe.Environments,
		})
	}

	for name, version := range m.NpmDeps {
		if p.NpmDependencies == nil {
			p.NpmDependencies = map[string]string{}
		}
		p.NpmDependencies[name] = version
	}

	for _, block := range m.OnUse {
		if err := p.OnUse(synthesizeHandler(block)); err != nil {
			return err
		}
	}
	for _, block := range m.OnTest {
		if err := p.OnTest(synthesizeHandler(block)); err != nil {
			return err
		}
	}

	for _, ext := range m.Extensions {
		handler, ok := handlers.Lookup(ext.Handler)
		if !ok {
			return fmt.Errorf("package %s: extension %q refers to unknown handler %q",
				p.DisplayName(), ext.Ext, ext.Handler)
		}
		if err := p.RegisterExtension(ext.Ext, handler); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeHandler turns a declarative on_use/on_test body into the
// handler the bundling engine invokes: dependencies first, then files.
func synthesizeHandler(block *hclHandler) UseHandler {
	return func(api PackageAPI, where []Environment) error {
		for _, use := range block.Uses {
			target, err := whereOrDefault(use.Where, where)
			if err != nil {
				return err
			}
			if err := api.Use(use.Packages, target); err != nil {
				return err
			}
		}
		for _, files := range block.Files {
			target, err := whereOrDefault(files.Where, where)
			if err != nil {
				return err
			}
			if err := api.AddFiles(files.Paths, target); err != nil {
				return err
			}
		}
		return nil
	}
}

func whereOrDefault(names []string, def []Environment) ([]Environment, error) {
	if len(names) == 0 {
		return def, nil
	}
	envs := make([]Environment, 0, len(names))
	for _, name := range names {
		env := Environment(name)
		if !validEnvironment(env) {
			return nil, fmt.Errorf("invalid environment %q", name)
		}
		envs = append(envs, env)
	}
	return envs, nil
}
