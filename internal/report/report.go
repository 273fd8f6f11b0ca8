// Package report aggregates failing-input notifications from all runners
// and surfaces them to the user.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var issueColor = color.New(color.FgRed, color.Bold)

type Artifact struct {
	Target string
	Path   string
}

type Reporter struct {
	logger *zap.Logger
	out    io.Writer

	artifactChan chan Artifact
	wg           sync.WaitGroup
	done         chan struct{}
}

func NewReporter(logger *zap.Logger, lifeCycle fx.Lifecycle) *Reporter {
	r := &Reporter{
		logger:       logger.Named("report"),
		out:          os.Stdout,
		artifactChan: make(chan Artifact, 1024),
		done:         make(chan struct{}),
	}

	lifeCycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.logger.Debug("starting artifact reporter")
			go r.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.logger.Debug("stopping artifact reporter")
			r.wg.Wait() // wait until all artifact channels are closed
			close(r.artifactChan)
			<-r.done // wait until all artifacts are reported
			return nil
		},
	})

	return r
}

// Register forwards a runner's artifact channel into the reporter. The
// channel is owned by the caller's watchdog and closes when the runner's
// context is done.
func (r *Reporter) Register(target string, ch <-chan string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for path := range ch {
			r.artifactChan <- Artifact{Target: target, Path: path}
		}
		r.logger.Debug("artifact channel closed", zap.String("target", target))
	}()
	r.logger.Debug("artifact channel registered", zap.String("target", target))
}

func (r *Reporter) start() {
	defer close(r.done)
	for artifact := range r.artifactChan {
		r.logger.Warn("failing input persisted",
			zap.String("target", artifact.Target),
			zap.String("artifact", artifact.Path),
		)
		fmt.Fprintf(r.out, "[%s] %s %s: failing input saved to %s\n",
			time.Now().Format(time.DateTime),
			issueColor.Sprint("ISSUE"),
			artifact.Target,
			artifact.Path,
		)
	}
}
