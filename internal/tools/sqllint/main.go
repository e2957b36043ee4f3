// Command sqllint checks that every SQL string constant starts with a unique
// "--sql <uuid>" audit marker.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlStatementPattern = regexp.MustCompile(`(?is)^\s*(select|insert|update|delete|with|create|alter|drop)\b`)
	uuidMarkerPattern   = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

// sqlConst is one SQL literal found in a value spec.
type sqlConst struct {
	file   string
	name   string
	line   int
	marker string
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}

	violations, err := lintPaths(targets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
		os.Exit(1)
	}
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: SQL audit marker violations")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
		}
		os.Exit(1)
	}
}

func lintPaths(targets []string) ([]violation, error) {
	var found []sqlConst
	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if filepath.Ext(target) == ".go" {
				cs, err := scanFile(target)
				if err != nil {
					return nil, err
				}
				found = append(found, cs...)
			}
			continue
		}
		walkErr := filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") ||
					d.Name() == "vendor" || d.Name() == "node_modules" || d.Name() == "testdata") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			cs, err := scanFile(path)
			if err != nil {
				return err
			}
			found = append(found, cs...)
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}
	return check(found), nil
}

func check(found []sqlConst) []violation {
	var violations []violation
	first := make(map[string]sqlConst, len(found))
	for _, c := range found {
		if !uuidMarkerPattern.MatchString(c.marker) {
			violations = append(violations, violation{file: c.file, line: c.line, name: c.name, message: "missing or invalid --sql <uuid> marker"})
			continue
		}
		if prev, dup := first[c.marker]; dup {
			violations = append(violations, violation{
				file:    c.file,
				line:    c.line,
				name:    c.name,
				message: fmt.Sprintf("marker already used by %s (%s:%d)", prev.name, prev.file, prev.line),
			})
			continue
		}
		first[c.marker] = c
	}
	return violations
}

func scanFile(path string) ([]sqlConst, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}
	var found []sqlConst
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil {
				continue
			}
			marker := firstLine(raw)
			if !sqlStatementPattern.MatchString(stripMarker(raw, marker)) {
				continue
			}
			found = append(found, sqlConst{
				file:   path,
				name:   joinNames(vs.Names),
				line:   fset.Position(bl.Pos()).Line,
				marker: marker,
			})
		}
		return true
	})
	return found, nil
}

// stripMarker drops a leading "--sql" comment line so the statement keyword
// can be checked.
func stripMarker(raw, marker string) string {
	if !strings.HasPrefix(marker, "--") {
		return raw
	}
	trimmed := strings.TrimLeft(raw, "\n\r \t")
	return strings.TrimPrefix(trimmed, marker)
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
