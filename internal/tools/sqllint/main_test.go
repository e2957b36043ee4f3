package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLintPaths(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "ok.go", "package q\n\nconst QGet = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;\n`\n\nconst label = \"update available\"\n")
	writeGo(t, dir, "bad.go", "package q\n\nconst QNoMarker = `\nselect * from jobs;\n`\n\nconst QDup = `--sql 11111111-2222-4333-8444-555555555555\ndelete from jobs;\n`\n")
	writeGo(t, dir, "bad_test.go", "package q\n\nconst QFixture = `select 2;`\n")

	violations, err := lintPaths([]string{dir})
	if err != nil {
		t.Fatalf("lintPaths error: %v", err)
	}
	got := map[string]string{}
	for _, v := range violations {
		got[v.name] = v.message
	}
	if len(got) != 2 {
		t.Fatalf("violations = %+v", violations)
	}
	if !strings.Contains(got["QNoMarker"], "missing") {
		t.Fatalf("QNoMarker = %q", got["QNoMarker"])
	}
	if !strings.Contains(got["QDup"], "already used by QGet") {
		t.Fatalf("QDup = %q", got["QDup"])
	}
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	violations, err := lintPaths([]string{"../../sqlinline"})
	if err != nil {
		t.Fatalf("lintPaths error: %v", err)
	}
	for _, v := range violations {
		t.Errorf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
	}
}
