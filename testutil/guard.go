// Package testutil holds test helpers that enforce the import boundaries
// between the domain, configuration and infrastructure layers.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// Forbidden reports whether an import path crosses a boundary.
type Forbidden func(importPath string) bool

// InternalImportForbidden matches any package under an internal/ tree.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// FabricImportForbidden matches the Hyperledger Fabric SDKs and protos.
func FabricImportForbidden(path string) bool {
	return strings.HasPrefix(path, "github.com/hyperledger/")
}

// AnyOf combines predicates.
func AnyOf(preds ...Forbidden) Forbidden {
	return func(path string) bool {
		return slices.ContainsFunc(preds, func(p Forbidden) bool { return p(path) })
	}
}

// AssertNoDirectImports parses the non-test Go files directly in dir and fails
// if any import matches forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Forbidden, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// AssertNoTransitiveDependency lists the dependencies of pattern with
// `go list -deps` and fails if any matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden Forbidden, reason string) {
	t.Helper()
	out, err := goListDeps(pattern)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	if viols := matchingLines(string(out), forbidden); len(viols) > 0 {
		t.Fatalf("forbidden transitive dependencies (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func matchingLines(out string, forbidden Forbidden) []string {
	var viols []string
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols
}

func directImportViolations(dir string, forbidden Forbidden) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			if path := strings.Trim(imp.Path.Value, `"`); forbidden(path) {
				viols = append(viols, path+" (in "+name+")")
			}
		}
	}
	return viols, nil
}
