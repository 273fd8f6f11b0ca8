// Package runner implements the perpetual restart loop around one fuzz target.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mikeschinkel/infinite-fuzz-go/config"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/report"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/track"
	"github.com/mikeschinkel/infinite-fuzz-go/pkg/watchdog"
)

// CommandFactory builds the external fuzz invocation for one target.
// Swapped out in tests.
type CommandFactory func(ctx context.Context, target string) *exec.Cmd

type Runner struct {
	logger      *zap.Logger
	appConfig   *config.AppConfig
	tracker     *track.Tracker
	watchdogFac *watchdog.Factory
	reporter    *report.Reporter
	newCommand  CommandFactory
	out         io.Writer

	mu   sync.Mutex
	runs map[string]int
}

type Params struct {
	fx.In

	Logger      *zap.Logger
	AppConfig   *config.AppConfig
	Tracker     *track.Tracker
	WatchdogFac *watchdog.Factory
	Reporter    *report.Reporter
}

func NewRunner(p Params) *Runner {
	return &Runner{
		logger:      p.Logger.Named("runner"),
		appConfig:   p.AppConfig,
		tracker:     p.Tracker,
		watchdogFac: p.WatchdogFac,
		reporter:    p.Reporter,
		newCommand:  goTestCommand(p.AppConfig),
		out:         os.Stdout,
		runs:        make(map[string]int),
	}
}

// Run supervises one target until ctx is done: invoke the fuzz command,
// wait for it to exit, report the outcome, sleep, repeat. A non-zero exit
// is an expected steady-state outcome (an issue was found), never a reason
// to stop.
func (r *Runner) Run(ctx context.Context, target string) error {
	logger := r.logger.With(zap.String("target", target))
	artifactDir := ArtifactDir(r.appConfig.TestDir, target)
	r.watchArtifacts(ctx, target, artifactDir, logger)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		run := r.nextRun(target)
		started := time.Now()
		logger.Info("fuzz run starting", zap.Int("run", run))
		fmt.Fprintf(r.out, "[%s] %s: run %d starting\n", started.Format(time.DateTime), target, run)

		status, err := r.runOnce(ctx, target)
		finished := time.Now()
		if err != nil {
			logger.Error("failed to invoke fuzz command", zap.Int("run", run), zap.Error(err))
		}
		logger.Info("fuzz run finished",
			zap.Int("run", run),
			zap.Int("status", status),
			zap.Duration("elapsed", finished.Sub(started)),
		)
		fmt.Fprintf(r.out, "[%s] %s: run %d finished with status %d\n",
			finished.Format(time.DateTime), target, run, status)

		if err == nil && status != 0 {
			logger.Warn("issue found",
				zap.Int("run", run),
				zap.Int("status", status),
				zap.String("artifacts", artifactDir),
			)
			fmt.Fprintf(r.out, "[%s] %s: issue found (status %d), failing inputs are kept under %s\n",
				finished.Format(time.DateTime), target, status, artifactDir)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.appConfig.RestartDelay):
		}
	}
}

// Runs returns how many iterations have started for the target.
func (r *Runner) Runs(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[target]
}

func (r *Runner) nextRun(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[target]++
	return r.runs[target]
}

// runOnce starts one iteration's process, tracks its handle for the
// shutdown sequence, and blocks until it exits.
func (r *Runner) runOnce(ctx context.Context, target string) (int, error) {
	cmd := r.newCommand(ctx, target)
	if err := cmd.Start(); err != nil {
		return -1, err
	}
	r.tracker.Register(target, cmd.Process)
	defer r.tracker.Remove(target, cmd.Process.Pid)

	err := cmd.Wait()
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

// watchArtifacts wires a watchdog on the target's artifact directory into
// the reporter. The directory usually does not exist until the fuzz engine
// writes its first corpus entry, so watching starts once it shows up.
func (r *Runner) watchArtifacts(ctx context.Context, target, dir string, logger *zap.Logger) {
	if r.watchdogFac == nil || r.reporter == nil {
		return
	}
	notifyChan := make(chan string, 64)
	wd, err := r.watchdogFac.New(ctx, notifyChan, nil)
	if err != nil {
		logger.Warn("artifact watcher unavailable", zap.Error(err))
		return
	}
	r.reporter.Register(target, notifyChan)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := os.Stat(dir); err != nil {
					continue
				}
				if err := wd.AddDir(dir); err == nil {
					logger.Debug("watching artifact directory", zap.String("dir", dir))
					return
				}
			}
		}
	}()
}

// ArtifactDir is where go test persists failing inputs for a target.
func ArtifactDir(testDir, target string) string {
	return filepath.Join(testDir, "testdata", "fuzz", target)
}

func goTestCommand(appConfig *config.AppConfig) CommandFactory {
	return func(ctx context.Context, target string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "go", "test", "-run", "^$", "-fuzz", fmt.Sprintf("^%s$", target), ".")
		cmd.Dir = appConfig.TestDir
		cmd.Env = withGoExperiment(os.Environ(), appConfig.GoExperiment)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error {
			// ask go test for a graceful stop; the shutdown sequence
			// escalates to SIGKILL itself
			return cmd.Process.Signal(syscall.SIGINT)
		}
		return cmd
	}
}

// withGoExperiment appends the default GOEXPERIMENT unless the caller's
// environment already carries one. The caller's value always wins.
func withGoExperiment(env []string, value string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "GOEXPERIMENT=") {
			return env
		}
	}
	return append(env, "GOEXPERIMENT="+value)
}
