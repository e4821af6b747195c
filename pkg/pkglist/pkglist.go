// Package pkglist reads the project's package declaration file: one package
// name per line, with blank lines and #-comments ignored.
package pkglist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

var validName = func(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return name != ""
}

// Load parses the file at path. A missing file yields an empty list.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open package list: %w", err)
	}
	defer f.Close()

	var (
		names []string
		seen  = map[string]bool{}
	)

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.Index(text, "#"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if !validName(text) {
			return nil, fmt.Errorf("%s:%d: invalid package name %q", path, line, text)
		}
		if seen[text] {
			continue
		}
		seen[text] = true
		names = append(names, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read package list: %w", err)
	}
	return names, nil
}

// Save writes names back in the canonical one-per-line form.
func Save(path string, names []string) error {
	var b strings.Builder
	b.WriteString("# Packages used by this project, one per line.\n")
	for _, name := range names {
		b.WriteString(name)
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write package list: %w", err)
	}
	return nil
}
