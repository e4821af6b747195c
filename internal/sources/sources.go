package sources

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// IgnoreFiles matches the basenames of editor droppings and VCS metadata
// that are never treated as sources.
var IgnoreFiles = []*regexp.Regexp{
	regexp.MustCompile(`~$`),
	regexp.MustCompile(`^\.#`),
	regexp.MustCompile(`^#.*#$`),
	regexp.MustCompile(`^\.DS_Store$`),
	regexp.MustCompile(`^ehthumbs\.db$`),
	regexp.MustCompile(`^Icon.$`),
	regexp.MustCompile(`^Thumbs\.db$`),
	regexp.MustCompile(`^\.meteor$`),
	regexp.MustCompile(`^\.git$`),
}

// IgnorePatterns reports the regexp sources of the built-in ignore set
// followed by those of extra, as recorded in dependencies.json.
func IgnorePatterns(extra []*regexp.Regexp) []string {
	out := make([]string, 0, len(IgnoreFiles)+len(extra))
	for _, re := range IgnoreFiles {
		out = append(out, re.String())
	}
	for _, re := range extra {
		out = append(out, re.String())
	}
	return out
}

// Enumerate walks root and returns the relative paths (forward slashes) of
// every file whose extension is in extensions, in load order. Dot-prefixed
// entries and the app's public directory are never descended into; ignore
// patterns match basenames only.
func Enumerate(root string, extensions []string, ignore []*regexp.Regexp) ([]string, error) {
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet["."+strings.TrimPrefix(ext, ".")] = true
	}

	patterns := append(append([]*regexp.Regexp{}, IgnoreFiles...), ignore...)

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := filepath.Base(p)
		if p != root && (strings.HasPrefix(base, ".") || base == "public") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		for _, re := range patterns {
			if re.MatchString(base) {
				return nil
			}
		}
		if !extSet[filepath.Ext(p)] {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate sources under %s: %w", root, err)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return loadOrderLess(files[i], files[j])
	})
	files = htmlFirst(files)

	rel := make([]string, 0, len(files))
	for _, f := range files {
		r, err := filepath.Rel(root, f)
		if err != nil || strings.HasPrefix(r, "..") {
			return nil, fmt.Errorf("source %s is outside of %s", f, root)
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	return rel, nil
}

// loadOrderLess orders paths so that earlier-loaded files sort first:
// main.* files load last, files under a lib directory load before all other
// files, deeper
// paths load before shallower ones, ties break alphabetically.
func loadOrderLess(a, b string) bool {
	aMain, bMain := isMain(a), isMain(b)
	if aMain != bMain {
		return bMain
	}

	aLib, bLib := hasLibSegment(a), hasLibSegment(b)
	if aLib != bLib {
		return aLib
	}

	aDepth, bDepth := pathDepth(a), pathDepth(b)
	if aDepth != bDepth {
		return aDepth > bDepth
	}

	return a < b
}

func isMain(p string) bool {
	return strings.HasPrefix(filepath.Base(p), "main.")
}

func hasLibSegment(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == "lib" {
			return true
		}
	}
	return false
}

func pathDepth(p string) int {
	return strings.Count(filepath.ToSlash(p), "/")
}

// htmlFirst moves .html files to the front, keeping their mutual order, so
// template declarations are in scope before the code that references them.
func htmlFirst(files []string) []string {
	html := make([]string, 0, len(files))
	rest := make([]string, 0, len(files))
	for _, f := range files {
		if filepath.Ext(f) == ".html" {
			html = append(html, f)
		} else {
			rest = append(rest, f)
		}
	}
	return append(html, rest...)
}
