package bundle

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"meteorite/internal/pack"
)

// Minifier rewrites a concatenated asset into its minified form. The
// implementations are external concerns; the defaults below only strip
// the obvious fat so the stage always runs.
type Minifier func(string) string

var (
	blankLines    = regexp.MustCompile(`(?m)^[ \t]+`)
	cssWhitespace = regexp.MustCompile(`\s*([{};:,])\s*`)
)

// DefaultJSMinifier trims leading indentation and drops blank lines while
// keeping statements (including debugger statements) intact.
func DefaultJSMinifier(src string) string {
	src = blankLines.ReplaceAllString(src, "")
	var out []string
	for _, line := range strings.Split(src, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// DefaultCSSMinifier collapses whitespace around CSS punctuation.
func DefaultCSSMinifier(src string) string {
	src = strings.ReplaceAll(src, "\n", " ")
	src = cssWhitespace.ReplaceAllString(src, "$1")
	return strings.TrimSpace(src)
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Minify concatenates the client JS and CSS into single content-addressed
// cacheable files and removes the originals. Server JS is never minified.
func (b *Bundle) Minify(js, css Minifier) {
	if js == nil {
		js = DefaultJSMinifier
	}
	if css == nil {
		css = DefaultCSSMinifier
	}

	if paths := b.js[pack.EnvClient]; len(paths) > 0 {
		var parts []string
		for _, p := range paths {
			if data, ok := b.client.get(p); ok {
				parts = append(parts, string(data))
			}
		}
		minified := []byte(js(strings.Join(parts, "\n;\n")))
		hash := sha1Hex(minified)
		name := "/" + hash + ".js"

		b.clientCacheable.set(name, minified)
		b.manifest = append(b.manifest, ManifestEntry{
			Path:      "static_cacheable" + name,
			Where:     "client",
			Type:      "js",
			Cacheable: true,
			URL:       name,
			Size:      len(minified),
			Hash:      hash,
		})

		for _, p := range paths {
			b.client.remove(p)
		}
		b.js[pack.EnvClient] = nil
	}

	if len(b.css) > 0 {
		var parts []string
		for _, p := range b.css {
			if data, ok := b.client.get(p); ok {
				parts = append(parts, string(data))
			}
		}
		minified := []byte(css(strings.Join(parts, "\n")))
		hash := sha1Hex(minified)
		name := "/" + hash + ".css"

		b.clientCacheable.set(name, minified)
		b.manifest = append(b.manifest, ManifestEntry{
			Path:      "static_cacheable" + name,
			Where:     "client",
			Type:      "css",
			Cacheable: true,
			URL:       name,
			Size:      len(minified),
			Hash:      hash,
		})

		for _, p := range b.css {
			b.client.remove(p)
		}
		b.css = nil
	}
}
