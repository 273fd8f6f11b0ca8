// Package killer implements the --kill cleanup mode: best-effort,
// name-pattern termination of fuzz processes orphaned by earlier runs.
package killer

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/mikeschinkel/infinite-fuzz-go/config"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/procscan"
)

const (
	// Go fuzz worker processes carry this flag on their command line.
	workerPattern = "-test.fuzzworker"
	// Externally launched fuzz invocations ("go test -fuzz=...").
	fuzzCmdPattern = "test -fuzz"
	// Broad pattern for the post-kill survivor scan.
	broadPattern = "fuzz"
)

var (
	killedColor   = color.New(color.FgGreen, color.Bold)
	survivorColor = color.New(color.FgRed, color.Bold)
)

type Killer struct {
	logger    *zap.Logger
	scanner   procscan.Scanner
	kill      func(pid int) error
	sleep     func(time.Duration)
	selfName  string
	selfPIDs  map[int]struct{}
	reapDelay time.Duration
	out       io.Writer
}

func New(logger *zap.Logger, appConfig *config.AppConfig) *Killer {
	return &Killer{
		logger:   logger.Named("killer"),
		scanner:  procscan.New(),
		kill:     procscan.Kill,
		sleep:    time.Sleep,
		selfName: appConfig.ServiceName,
		selfPIDs: map[int]struct{}{
			os.Getpid():  {},
			os.Getppid(): {},
		},
		reapDelay: appConfig.ReapDelay,
		out:       os.Stdout,
	}
}

// Run kills everything matching the tool name, the fuzz worker pattern, or
// the external fuzz command pattern, waits for the OS to reap, then reports
// whatever survived a broad rescan. Never returns an error: cleanup is
// best effort and always succeeds from the caller's perspective.
func (k *Killer) Run() {
	killedAny := false
	patterns := []string{k.selfName, workerPattern, fuzzCmdPattern}

	killed := make(map[int]struct{})
	for _, proc := range k.scanner.Processes() {
		if k.isSelf(proc.PID) {
			continue
		}
		for _, pattern := range patterns {
			if pattern == "" || !proc.Matches(pattern) {
				continue
			}
			killedAny = true
			if _, done := killed[proc.PID]; done {
				break
			}
			killed[proc.PID] = struct{}{}
			k.logger.Info("killing process",
				zap.Int("pid", proc.PID),
				zap.String("comm", proc.Comm),
				zap.String("pattern", pattern),
			)
			// already-dead or permission-denied targets are not our problem
			_ = k.kill(proc.PID)
			break
		}
	}

	// give the OS a moment to reap before the survivor scan
	k.sleep(k.reapDelay)

	var survivors []procscan.Process
	for _, proc := range k.scanner.Processes() {
		if k.isSelf(proc.PID) {
			continue
		}
		if proc.Matches(broadPattern) {
			survivors = append(survivors, proc)
		}
	}

	switch {
	case len(survivors) > 0:
		fmt.Fprintln(k.out, survivorColor.Sprint("Some fuzz processes are still running:"))
		for _, proc := range survivors {
			fmt.Fprintf(k.out, "  pid %d  %s  %s\n", proc.PID, proc.Comm, proc.Cmdline)
		}
		fmt.Fprintln(k.out, "Try `kill -9 <pid>` manually.")
	case killedAny:
		fmt.Fprintln(k.out, killedColor.Sprint("All fuzz processes killed."))
	default:
		fmt.Fprintln(k.out, "No fuzz processes were running.")
	}
}

func (k *Killer) isSelf(pid int) bool {
	_, ok := k.selfPIDs[pid]
	return ok
}
