package discover_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mikeschinkel/infinite-fuzz-go/internal/discover"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDiscoverDedupesAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alpha_test.go", `package demo

import "testing"

func FuzzAlpha(f *testing.F) {}

func FuzzBeta(f *testing.F) {}

func TestSomething(t *testing.T) {}

func fuzzLowercase(f *testing.F) {}
`)
	// FuzzAlpha declared again in a second file; discovery must dedupe.
	writeFile(t, dir, "beta_test.go", `package demo

import "testing"

func FuzzAlpha(f *testing.F) {}

type widget struct{}

func (widget) FuzzMethod(f *testing.F) {}
`)
	// non-test files are ignored entirely
	writeFile(t, dir, "gamma.go", `package demo

func FuzzNotATest() {}
`)

	d := discover.NewDiscoverer(zaptest.NewLogger(t))
	targets, err := d.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"FuzzAlpha", "FuzzBeta"}, targets)
}

func TestDiscoverBareFuzzName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bare_test.go", `package demo

import "testing"

func Fuzz(f *testing.F) {}
`)

	d := discover.NewDiscoverer(zaptest.NewLogger(t))
	targets, err := d.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuzz"}, targets)
}

func TestDiscoverEmptyDirectory(t *testing.T) {
	d := discover.NewDiscoverer(zaptest.NewLogger(t))
	targets, err := d.Discover(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestDiscoverSkipsUnparsableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken_test.go", `package demo

func FuzzBroken(f *testing.F {`)
	writeFile(t, dir, "good_test.go", `package demo

import "testing"

func FuzzGood(f *testing.F) {}
`)

	d := discover.NewDiscoverer(zaptest.NewLogger(t))
	targets, err := d.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"FuzzGood"}, targets)
}
