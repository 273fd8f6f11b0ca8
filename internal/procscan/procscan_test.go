package procscan_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeschinkel/infinite-fuzz-go/internal/procscan"
)

func fakeProc(t *testing.T, root string, pid int, comm string, args ...string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0644))
	cmdline := ""
	for _, arg := range args {
		cmdline += arg + "\x00"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0644))
}

func TestProcessesParsesProcLayout(t *testing.T) {
	root := t.TempDir()
	fakeProc(t, root, 101, "go", "go", "test", "-fuzz=^FuzzAlpha$", ".")
	fakeProc(t, root, 102, "demo.test", "demo.test", "-test.fuzzworker")
	// non-numeric entries are not processes
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sys"), 0755))

	procs := procscan.NewAt(root).Processes()
	require.Len(t, procs, 2)

	byPID := map[int]procscan.Process{}
	for _, p := range procs {
		byPID[p.PID] = p
	}
	assert.Equal(t, "go", byPID[101].Comm)
	assert.Equal(t, "go test -fuzz=^FuzzAlpha$ .", byPID[101].Cmdline)
	assert.Equal(t, "demo.test -test.fuzzworker", byPID[102].Cmdline)
}

func TestMatches(t *testing.T) {
	p := procscan.Process{PID: 1, Comm: "demo.test", Cmdline: "demo.test -test.fuzzworker"}
	assert.True(t, p.Matches("-test.fuzzworker"))
	assert.True(t, p.Matches("fuzz"))
	assert.False(t, p.Matches("infinitefuzz"))
}

func TestAlive(t *testing.T) {
	self, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	assert.True(t, procscan.Alive(self))

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	assert.False(t, procscan.Alive(cmd.Process))

	assert.False(t, procscan.Alive(nil))
}
