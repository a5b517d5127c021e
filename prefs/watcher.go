package prefs

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal structured-logging surface this package needs.
type Logger interface {
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any) {}

// Watcher observes a preferences file for external writes (spec §6
// "UI-side preferences observation" — e.g. a settings UI process
// editing the file directly) and invokes onChange after each write or
// atomic-rename replacement.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	onChange func()
	log      Logger
	done     chan struct{}
}

// NewWatcher starts watching path's containing directory (so that
// atomic rename-over-destination writes, which replace the inode, are
// still observed) and calls onChange on every relevant event.
func NewWatcher(path string, onChange func(), log Logger) (*Watcher, error) {
	if log == nil {
		log = nopLogger{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fsw: fsw, path: filepath.Clean(path), onChange: onChange, log: log, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if w.onChange != nil {
				w.onChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnf("prefs: watch error: %v", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
