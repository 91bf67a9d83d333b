package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Directories skipped by Glob and Grep traversal: generated output, vendor
// trees, caches, and virtualenvs.
var ignoredDirs = map[string]bool{
	"target":       true,
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".cache":       true,
	"coverage":     true,
	".next":        true,
	".nuxt":        true,
	"venv":         true,
	".venv":        true,
	"env":          true,
	"__pycache__":  true,
	"out":          true,
	"bin":          true,
	"obj":          true,
}

// Suffixes of generated or binary files skipped by traversal.
var ignoredSuffixes = []string{
	".pyc", ".pyo", ".so", ".o", ".a", ".lib", ".dll", ".exe",
	".jar", ".war", ".ear", ".class",
	".min.js", ".min.css", ".bundle.js", ".map",
	".swp", ".swo", ".db", ".sqlite", ".sqlite3",
	".lock", ".log", ".tmp", ".temp", ".bak",
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".webp", ".pdf",
	".zip", ".tar", ".gz", ".woff", ".woff2", ".ttf", ".otf",
}

func isIgnoredFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

type globParams struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

// runGlob walks the search root collecting files whose root-relative path
// matches the pattern, sorted by modification time, newest first.
func runGlob(_ context.Context, args json.RawMessage) (string, error) {
	var params globParams
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &ParseError{Message: fmt.Sprintf("failed to parse Glob parameters: %v", err)}
	}

	root := params.Path
	if root == "" {
		root = "."
	}
	if info, err := os.Stat(root); err != nil {
		return "", NewToolError("search path %s: %v", root, err)
	} else if !info.IsDir() {
		return "", NewToolError("search path %s is not a directory", root)
	}

	matcher, err := compileGlob(params.Pattern)
	if err != nil {
		return "", NewToolError("invalid glob pattern %q: %v", params.Pattern, err)
	}

	type match struct {
		path    string
		modTime time.Time
	}
	var matches []match

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best effort: skip inaccessible entries
		}
		if d.IsDir() {
			if path != root && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if isIgnoredFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if !matcher(filepath.ToSlash(rel)) {
			return nil
		}

		var modTime time.Time
		if info, err := d.Info(); err == nil {
			modTime = info.ModTime()
		}
		matches = append(matches, match{path: path, modTime: modTime})
		return nil
	})
	if walkErr != nil {
		return "", NewToolError("glob walk failed: %v", walkErr)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].modTime.After(matches[j].modTime)
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d files matching pattern '%s':\n\n", len(matches), params.Pattern)
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m.path)
	}
	return sb.String(), nil
}

// compileGlob builds a matcher for glob patterns with ** spanning path
// separators and standard metacharacters within a segment.
func compileGlob(pattern string) (func(string) bool, error) {
	pattern = filepath.ToSlash(pattern)
	if _, err := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
		return nil, err
	}
	patSegs := strings.Split(pattern, "/")
	return func(path string) bool {
		return matchSegments(patSegs, strings.Split(path, "/"))
	}, nil
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		// ** matches zero or more path segments.
		for skip := 0; skip <= len(path); skip++ {
			if matchSegments(pattern[1:], path[skip:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}

type grepParams struct {
	Pattern string `json:"pattern"`
	Include string `json:"include"`
	Path    string `json:"path"`
}

// runGrep walks the filesystem under path (default ".") applying the same
// ignore rules as Glob, returning path:line_number:line for each matching
// line, ordered by the containing file's modification time, newest first.
func runGrep(_ context.Context, args json.RawMessage) (string, error) {
	var params grepParams
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &ParseError{Message: fmt.Sprintf("failed to parse Grep parameters: %v", err)}
	}

	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return "", NewToolError("invalid regular expression %q: %v", params.Pattern, err)
	}

	root := params.Path
	if root == "" {
		root = "."
	}

	includes, err := expandIncludePattern(params.Include)
	if err != nil {
		return "", NewToolError("invalid include pattern %q: %v", params.Include, err)
	}

	type fileMatches struct {
		modTime time.Time
		lines   []string
	}
	var files []fileMatches
	total := 0

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if isIgnoredFile(d.Name()) {
			return nil
		}
		if len(includes) > 0 && !matchesAny(includes, d.Name()) {
			return nil
		}

		lines, err := grepFile(path, re)
		if err != nil || len(lines) == 0 {
			return nil
		}

		var modTime time.Time
		if info, err := d.Info(); err == nil {
			modTime = info.ModTime()
		}
		files = append(files, fileMatches{modTime: modTime, lines: lines})
		total += len(lines)
		return nil
	})
	if walkErr != nil {
		return "", NewToolError("grep walk failed: %v", walkErr)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d matches for pattern '%s':\n\n", total, params.Pattern)
	for _, f := range files {
		for _, line := range f.lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// grepFile scans a single file line by line. A 1MB scanner buffer handles
// long lines in generated sources.
func grepFile(path string, re *regexp.Regexp) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, fmt.Sprintf("%s:%d:%s", path, lineNum, line))
		}
	}
	return matches, scanner.Err()
}

// expandIncludePattern expands a brace group like "*.{go,mod}" into plain
// glob patterns matched against base names.
func expandIncludePattern(include string) ([]string, error) {
	if include == "" {
		return nil, nil
	}

	open := strings.Index(include, "{")
	closing := strings.Index(include, "}")
	if open == -1 || closing == -1 || closing < open {
		if _, err := filepath.Match(include, "probe"); err != nil {
			return nil, err
		}
		return []string{include}, nil
	}

	prefix, suffix := include[:open], include[closing+1:]
	var patterns []string
	for _, alt := range strings.Split(include[open+1:closing], ",") {
		pattern := prefix + strings.TrimSpace(alt) + suffix
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

type lsParams struct {
	Path   string   `json:"path"`
	Ignore []string `json:"ignore"`
}

// runLS returns a numbered enumeration of the directory's immediate
// children marked [DIR] or [FILE].
func runLS(_ context.Context, args json.RawMessage) (string, error) {
	var params lsParams
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &ParseError{Message: fmt.Sprintf("failed to parse LS parameters: %v", err)}
	}

	entries, err := os.ReadDir(params.Path)
	if err != nil {
		return "", NewToolError("failed to read directory %s: %v", params.Path, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory listing for '%s':\n", params.Path)
	n := 0
	for _, entry := range entries {
		if matchesAny(params.Ignore, entry.Name()) {
			continue
		}
		n++
		kind := "FILE"
		if entry.IsDir() {
			kind = "DIR"
		}
		fmt.Fprintf(&sb, "%3d. [%s] %s\n", n, kind, entry.Name())
	}
	return sb.String(), nil
}
