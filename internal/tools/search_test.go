package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quillengine/quill/pkg/models"
)

// writeTree creates files under root from relative path -> content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGlobRecursivePattern(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":              "package a\n",
		"pkg/b.go":          "package b\n",
		"pkg/inner/c.go":    "package c\n",
		"pkg/readme.md":     "docs\n",
		"node_modules/x.go": "ignored\n",
	})

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "Glob",
		Arguments: mustArgs(t, map[string]string{"pattern": "**/*.go", "path": root}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.HasPrefix(out, "Found 3 files matching pattern '**/*.go':") {
		t.Errorf("header = %q", firstLine(out))
	}
	for _, want := range []string{"a.go", "b.go", "c.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "node_modules") {
		t.Error("vendored directory was not ignored")
	}
	if strings.Contains(out, "readme.md") {
		t.Error("non-matching file listed")
	}
}

func TestGlobNewestFirst(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"old.go": "x\n", "new.go": "y\n"})

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(root, "old.go"), past, past); err != nil {
		t.Fatal(err)
	}

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "Glob",
		Arguments: mustArgs(t, map[string]string{"pattern": "*.go", "path": root}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Index(out, "new.go") > strings.Index(out, "old.go") {
		t.Errorf("results not sorted newest first:\n%s", out)
	}
}

func TestGrepFormatsPathLineText(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go": "package main\n\nfunc Run() error { return nil }\n",
		"util.go": "package main\n",
	})

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "Grep",
		Arguments: mustArgs(t, map[string]string{"pattern": "func Run", "path": root}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.HasPrefix(out, "Found 1 matches for pattern 'func Run':") {
		t.Errorf("header = %q", firstLine(out))
	}
	if !strings.Contains(out, "main.go:3:func Run() error { return nil }") {
		t.Errorf("match line missing:\n%s", out)
	}
}

// A directory without matches reports zero, not an error.
func TestGrepNoMatches(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "nothing here\n"})

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "Grep",
		Arguments: mustArgs(t, map[string]string{"pattern": "absent_symbol", "path": root}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out, "Found 0 matches") {
		t.Errorf("output = %q, want a zero-match report", out)
	}
}

func TestGrepIncludeBraceExpansion(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":  "needle\n",
		"b.mod": "needle\n",
		"c.txt": "needle\n",
	})

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name: "Grep",
		Arguments: mustArgs(t, map[string]string{
			"pattern": "needle", "include": "*.{go,mod}", "path": root,
		}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "a.go") || !strings.Contains(out, "b.mod") {
		t.Errorf("brace expansion missed files:\n%s", out)
	}
	if strings.Contains(out, "c.txt") {
		t.Errorf("include filter leaked c.txt:\n%s", out)
	}
}

func TestGrepInvalidRegex(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "Grep",
		Arguments: mustArgs(t, map[string]string{"pattern": "(["}),
	})
	if err == nil {
		t.Fatal("expected an error for an invalid regex")
	}
}

func TestLSMarksDirsAndFiles(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"file.txt": "x\n", "sub/inner.txt": "y\n"})

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "LS",
		Arguments: mustArgs(t, map[string]any{"path": root}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.Contains(out, "[FILE] file.txt") {
		t.Errorf("file entry missing:\n%s", out)
	}
	if !strings.Contains(out, "[DIR] sub") {
		t.Errorf("dir entry missing:\n%s", out)
	}
}

func TestLSIgnorePatterns(t *testing.T) {
	registry := newTestRegistry(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"keep.txt": "x\n", "skip.log": "y\n"})

	out, err := registry.Execute(context.Background(), models.ToolCall{
		Name:      "LS",
		Arguments: mustArgs(t, map[string]any{"path": root, "ignore": []string{"*.log"}}),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(out, "skip.log") {
		t.Errorf("ignored entry listed:\n%s", out)
	}
}

func TestMatchSegments(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/*.go", "a.go", true},
		{"**/*.go", "pkg/deep/a.go", true},
		{"*.go", "pkg/a.go", false},
		{"pkg/**/*.go", "pkg/deep/a.go", true},
		{"pkg/**/*.go", "other/a.go", false},
		{"**/*.md", "a.go", false},
	}
	for _, tt := range tests {
		matcher, err := compileGlob(tt.pattern)
		if err != nil {
			t.Fatalf("compileGlob(%q): %v", tt.pattern, err)
		}
		if got := matcher(tt.path); got != tt.want {
			t.Errorf("match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
