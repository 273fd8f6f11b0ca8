// Package procscan reads the system process table from /proc.
package procscan

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

type Process struct {
	PID     int
	Comm    string
	Cmdline string
}

// Matches reports whether the process name or its full command line
// contains pattern. Name-based matching is approximate by nature.
func (p Process) Matches(pattern string) bool {
	return strings.Contains(p.Comm, pattern) || strings.Contains(p.Cmdline, pattern)
}

// Scanner lists the processes visible to this run.
type Scanner interface {
	Processes() []Process
}

type procScanner struct {
	root string
}

// New returns a Scanner backed by /proc.
func New() Scanner {
	return procScanner{root: "/proc"}
}

// NewAt returns a Scanner rooted at an arbitrary directory laid out like
// /proc. Used by tests.
func NewAt(root string) Scanner {
	return procScanner{root: root}
}

func (s procScanner) Processes() []Process {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	procs := make([]Process, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		procs = append(procs, Process{
			PID:     pid,
			Comm:    s.readComm(pid),
			Cmdline: s.readCmdline(pid),
		})
	}
	return procs
}

func (s procScanner) readComm(pid int) string {
	data, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s procScanner) readCmdline(pid int) string {
	data, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(pid), "cmdline"))
	if err != nil || len(data) == 0 {
		return ""
	}
	parts := strings.Split(string(data), "\x00")
	var args []string
	for _, part := range parts {
		if part != "" {
			args = append(args, part)
		}
	}
	return strings.Join(args, " ")
}

// Alive probes a process handle without disturbing it (signal 0).
func Alive(proc *os.Process) bool {
	if proc == nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Kill delivers SIGKILL to a pid. Failures are the caller's to ignore.
func Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
