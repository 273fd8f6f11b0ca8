// Package discover locates native Go fuzz targets in a package directory.
package discover

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

const fuzzPrefix = "Fuzz"

type Discoverer struct {
	logger *zap.Logger
}

func NewDiscoverer(logger *zap.Logger) *Discoverer {
	return &Discoverer{
		logger: logger.Named("discover"),
	}
}

// Discover scans the *_test.go files of dir (non-recursive, mirroring the
// package the fuzz command itself will run against) and returns the sorted,
// deduplicated names of all top-level FuzzXxx functions. An empty result is
// not an error; the caller decides whether that is fatal.
func (d *Discoverer) Discover(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*_test.go"))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	fset := token.NewFileSet()
	for _, file := range files {
		parsed, err := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution)
		if err != nil {
			// a broken test file is the fuzz command's problem, not ours
			d.logger.Debug("skipping unparsable test file", zap.String("file", file), zap.Error(err))
			continue
		}
		for _, decl := range parsed.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil {
				continue
			}
			if isFuzzEntry(fn.Name.Name) {
				seen[fn.Name.Name] = struct{}{}
			}
		}
	}

	targets := make([]string, 0, len(seen))
	for name := range seen {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets, nil
}

// isFuzzEntry applies the go test naming rule: the Fuzz prefix must be
// followed by nothing or by a rune that is not lowercase.
func isFuzzEntry(name string) bool {
	if !strings.HasPrefix(name, fuzzPrefix) {
		return false
	}
	rest := name[len(fuzzPrefix):]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLower(r)
}
