package watchdog

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Factory struct {
	logger *zap.Logger
}

type filterFunc func(string) bool

// WatchDog forwards file-creation events from watched directories to a
// channel. The fuzz engine persists each failing input as a new file, so
// a creation event is exactly one new artifact.
type WatchDog struct {
	watchCtx   context.Context
	notifyChan chan<- string
	filter     filterFunc
	logger     *zap.Logger

	watcher *fsnotify.Watcher
}

func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{
		logger: logger,
	}
}

// create a new WatchDog to monitor file creation events
//
// - `watchCtx` controls the lifecycle of the watcher. After the context is
// done the watcher stops and `notifyChan` is closed.
//
// - `notifyChan` receives the path of every newly created file.
//
// - `filter` decides whether an event is forwarded. If it returns false the
// event is dropped. A nil filter forwards everything.
func (f *Factory) New(watchCtx context.Context, notifyChan chan<- string, filter filterFunc) (*WatchDog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watchDog := &WatchDog{
		watchCtx,
		notifyChan, // send only channel
		filter,
		f.logger,
		watcher,
	}

	go watchDog.watch()

	return watchDog, nil
}

// add a directory to the watch list
func (w *WatchDog) AddDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		w.logger.Error("Failed to get absolute path", zap.String("dir", dir), zap.Error(err))
		return err
	}
	if _, err := os.Stat(absDir); os.IsNotExist(err) {
		w.logger.Error("Directory does not exist", zap.String("dir", absDir), zap.Error(err))
		return err
	}
	if err := w.watcher.Add(absDir); err != nil {
		w.logger.Error("Failed to add directory to watcher", zap.String("dir", dir), zap.Error(err))
		return err
	}
	w.logger.Debug("Added directory to watch list", zap.String("dir", absDir))
	return nil
}

func (w *WatchDog) watch() {
	defer w.watcher.Close()
	defer close(w.notifyChan)
	for {
		select {
		case <-w.watchCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("fsnotify channel closed")
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("fsnotify error channel closed")
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *WatchDog) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != fsnotify.Create {
		return
	}
	w.logger.Debug("File created", zap.String("file", event.Name))
	if w.filter == nil || w.filter(event.Name) {
		select {
		case w.notifyChan <- event.Name:
		case <-w.watchCtx.Done():
		}
	} else {
		w.logger.Debug("File ignored by filter", zap.String("file", event.Name))
	}
}
