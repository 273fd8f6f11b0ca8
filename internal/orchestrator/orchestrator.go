// Package orchestrator resolves the target list, spawns one supervised
// runner per target, and unwinds all of them on shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikeschinkel/infinite-fuzz-go/config"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/discover"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/procscan"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/runner"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/track"
)

var bannerColor = color.New(color.FgCyan, color.Bold)

type Orchestrator struct {
	logger     *zap.Logger
	appConfig  *config.AppConfig
	tracker    *track.Tracker
	runner     *runner.Runner
	discoverer *discover.Discoverer
	out        io.Writer

	cancel context.CancelFunc
	group  *errgroup.Group
}

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	Logger     *zap.Logger
	AppConfig  *config.AppConfig
	Tracker    *track.Tracker
	Runner     *runner.Runner
	Discoverer *discover.Discoverer
}

func New(p Params) *Orchestrator {
	o := newOrchestrator(p.Logger, p.AppConfig, p.Tracker, p.Runner, p.Discoverer, os.Stdout)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return o.Start()
		},
		OnStop: func(ctx context.Context) error {
			o.Shutdown()
			return nil
		},
	})
	return o
}

func newOrchestrator(
	logger *zap.Logger,
	appConfig *config.AppConfig,
	tracker *track.Tracker,
	run *runner.Runner,
	discoverer *discover.Discoverer,
	out io.Writer,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		appConfig:  appConfig,
		tracker:    tracker,
		runner:     run,
		discoverer: discoverer,
		out:        out,
	}
}

// Start resolves the targets and spawns one runner goroutine per target.
// Runners never finish on their own; the group is only unblocked by
// Shutdown. An empty target list fails before anything is spawned.
func (o *Orchestrator) Start() error {
	targets, err := o.resolveTargets()
	if err != nil {
		o.logger.Error("no targets to fuzz", zap.Error(err))
		return err
	}

	o.printBanner(targets)

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, target := range targets {
		target := target
		group.Go(func() error {
			return o.runner.Run(groupCtx, target)
		})
	}
	o.group = group
	return nil
}

// resolveTargets prefers the explicit CSV list, then targets from the
// config file, then discovery. The explicit list is passed through as-is:
// an unknown name makes the fuzz command fail fast each iteration, which
// the runner logs and retries like any other non-zero exit.
func (o *Orchestrator) resolveTargets() ([]string, error) {
	if csv := o.appConfig.TargetsCSV; csv != "" {
		return strings.Split(csv, ","), nil
	}
	if len(o.appConfig.FileTargets) > 0 {
		return o.appConfig.FileTargets, nil
	}
	targets, err := o.discoverer.Discover(o.appConfig.TestDir)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("no FuzzXxx functions found in *_test.go files and no --targets given")
	}
	return targets, nil
}

// Shutdown interrupts every live tracked worker, waits out the grace
// period, force-kills the stragglers, and waits for the runner goroutines
// to drain. Safe to call again once everything is dead: the liveness probe
// skips each handle.
func (o *Orchestrator) Shutdown() {
	fmt.Fprintf(o.out, "[%s] shutting down, stopping all fuzz workers\n", time.Now().Format(time.DateTime))
	o.logger.Info("shutdown requested")

	if o.cancel != nil {
		o.cancel()
	}

	for target, proc := range o.tracker.Snapshot() {
		if !procscan.Alive(proc) {
			continue
		}
		o.logger.Info("interrupting worker", zap.String("target", target), zap.Int("pid", proc.Pid))
		_ = proc.Signal(syscall.SIGINT)
	}

	time.Sleep(o.appConfig.GracePeriod)

	for target, proc := range o.tracker.Snapshot() {
		if !procscan.Alive(proc) {
			continue
		}
		o.logger.Warn("worker ignored interrupt, killing", zap.String("target", target), zap.Int("pid", proc.Pid))
		_ = proc.Kill()
	}

	if o.group != nil {
		_ = o.group.Wait()
	}

	fmt.Fprintf(o.out, "[%s] all fuzz workers stopped\n", time.Now().Format(time.DateTime))
	o.logger.Info("shutdown complete")
}

func (o *Orchestrator) printBanner(targets []string) {
	fmt.Fprintln(o.out, bannerColor.Sprint("infinite-fuzz: fuzzing forever, stop with ^C"))
	fmt.Fprintf(o.out, "[%s] session %s, fuzzing %d target(s): %s\n",
		time.Now().Format(time.DateTime),
		o.appConfig.SessionID,
		len(targets),
		strings.Join(targets, ", "),
	)
	o.logger.Info("targets resolved", zap.Strings("targets", targets))
}
