package handlers

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// pathPattern matches absolute-path-looking tokens in response text.
var pathPattern = regexp.MustCompile(`/[^\s"'` + "`" + `<>|]+`)

// extractProjectFiles pulls absolute paths out of text that exist on disk and
// resolve under projectRoot. Returns the display text with those paths
// stripped, plus the paths themselves.
func extractProjectFiles(text, projectRoot string) (string, []string) {
	if projectRoot == "" {
		return text, nil
	}

	seen := make(map[string]bool)
	var paths []string
	for _, match := range pathPattern.FindAllString(text, -1) {
		candidate := strings.TrimRight(match, ".,;:)")
		if seen[candidate] {
			continue
		}
		if !pathWithinRoot(candidate, projectRoot) {
			continue
		}
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		seen[candidate] = true
		paths = append(paths, candidate)
	}

	if len(paths) == 0 {
		return text, nil
	}

	stripped := text
	for _, p := range paths {
		stripped = strings.ReplaceAll(stripped, p, "")
	}
	return tidyText(stripped), paths
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// pathWithinRoot reports whether path resolves under root after cleaning.
func pathWithinRoot(path, root string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	cleaned := filepath.Clean(path)
	cleanedRoot := filepath.Clean(root)
	rel, err := filepath.Rel(cleanedRoot, cleaned)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// tidyText collapses the whitespace damage left by path stripping.
func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" && len(kept) > 0 && kept[len(kept)-1] == "" {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
