package runner

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikeschinkel/infinite-fuzz-go/config"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/track"
)

func testRunner(t *testing.T, factory CommandFactory) (*Runner, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return &Runner{
		logger:     zap.New(core),
		appConfig:  &config.AppConfig{TestDir: ".", RestartDelay: 5 * time.Millisecond},
		tracker:    track.NewTracker(),
		newCommand: factory,
		out:        io.Discard,
		runs:       make(map[string]int),
	}, logs
}

// countingFactory cancels the loop once n iterations have completed.
type countingFactory struct {
	started atomic.Int32
	n       int32
	cancel  context.CancelFunc
	prog    string
}

func (f *countingFactory) new(ctx context.Context, target string) *exec.Cmd {
	if f.started.Add(1) > f.n {
		f.cancel()
	}
	return exec.CommandContext(ctx, f.prog)
}

func TestRunRestartsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := &countingFactory{n: 3, cancel: cancel, prog: "true"}
	r, logs := testRunner(t, factory.new)

	err := r.Run(ctx, "FuzzAlpha")
	require.ErrorIs(t, err, context.Canceled)

	completed := r.Runs("FuzzAlpha")
	require.GreaterOrEqual(t, completed, 3)

	starts := logs.FilterMessage("fuzz run starting").All()
	finishes := logs.FilterMessage("fuzz run finished").All()
	assert.Len(t, starts, completed)
	assert.Len(t, finishes, completed)

	// start and finish alternate in order, with matching run numbers
	runField := func(e observer.LoggedEntry) int64 {
		for _, f := range e.Context {
			if f.Key == "run" {
				return f.Integer
			}
		}
		return -1
	}
	for i := range starts {
		assert.Equal(t, int64(i+1), runField(starts[i]))
		assert.Equal(t, int64(i+1), runField(finishes[i]))
		assert.True(t, starts[i].Time.Before(finishes[i].Time) || starts[i].Time.Equal(finishes[i].Time))
	}

	// no issue advisories for clean exits
	assert.Empty(t, logs.FilterMessage("issue found").All())

	// every worker handle was pruned once its run completed
	assert.Equal(t, 0, r.tracker.Len())
}

func TestRunReportsIssueAndKeepsGoing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := &countingFactory{n: 2, cancel: cancel, prog: "false"}
	r, logs := testRunner(t, factory.new)

	err := r.Run(ctx, "FuzzAlpha")
	require.ErrorIs(t, err, context.Canceled)

	issues := logs.FilterMessage("issue found").All()
	require.GreaterOrEqual(t, len(issues), 2, "non-zero exits must not break the loop")

	wantDir := filepath.Join(".", "testdata", "fuzz", "FuzzAlpha")
	for _, issue := range issues {
		var artifacts string
		for _, f := range issue.Context {
			if f.Key == "artifacts" {
				artifacts = f.String
			}
		}
		assert.Equal(t, wantDir, artifacts)
	}
}

func TestWithGoExperiment(t *testing.T) {
	env := []string{"PATH=/usr/bin", "HOME=/home/x"}
	got := withGoExperiment(env, config.DefaultGoExperiment)
	assert.Contains(t, got, "GOEXPERIMENT="+config.DefaultGoExperiment)

	// the caller's value always wins over the default
	env = []string{"GOEXPERIMENT=boringcrypto"}
	got = withGoExperiment(env, config.DefaultGoExperiment)
	assert.Equal(t, []string{"GOEXPERIMENT=boringcrypto"}, got)
}

func TestArtifactDir(t *testing.T) {
	assert.Equal(t, filepath.Join("pkg", "testdata", "fuzz", "FuzzX"), ArtifactDir("pkg", "FuzzX"))
}
