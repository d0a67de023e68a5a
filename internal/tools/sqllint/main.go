// sqllint verifies that every inline SQL constant starts with a
// `--sql <uuid>` marker line and that no marker is reused. SQLRunner logs
// queries by marker, so a duplicate would make two statements
// indistinguishable in the logs.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	markerLine = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type problem struct {
	pos token.Position
	msg string
}

func main() {
	flag.Parse()
	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}

	seen := map[string]token.Position{}
	var problems []problem

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			ps, err := lintFile(path, seen)
			if err != nil {
				return err
			}
			problems = append(problems, ps...)
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "%s: %s\n", p.pos, p.msg)
		}
		os.Exit(1)
	}
}

func lintFile(path string, seen map[string]token.Position) ([]problem, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, err
	}

	var problems []problem
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range spec.Values {
			raw, ok := flattenString(value)
			if !ok || !sqlKeyword.MatchString(raw) {
				continue
			}
			pos := fset.Position(value.Pos())
			first := strings.TrimSpace(firstLine(raw))
			m := markerLine.FindStringSubmatch(first)
			if m == nil {
				problems = append(problems, problem{pos: pos, msg: "sql constant missing --sql <uuid> marker"})
				continue
			}
			if prev, dup := seen[m[1]]; dup {
				problems = append(problems, problem{pos: pos, msg: fmt.Sprintf("marker %s already used at %s", m[1], prev)})
				continue
			}
			seen[m[1]] = pos
		}
		return true
	})
	return problems, nil
}

// flattenString resolves a string literal or a concatenation of string
// literals. Identifiers inside a concatenation (shared column lists) are
// treated as opaque and skipped.
func flattenString(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.STRING {
			return "", false
		}
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return "", false
		}
		return s, true
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			return "", false
		}
		left, okL := flattenString(e.X)
		right, okR := flattenString(e.Y)
		if !okL && !okR {
			return "", false
		}
		return left + right, true
	case *ast.Ident:
		return "", true
	}
	return "", false
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
