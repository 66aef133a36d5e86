// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package config

import (
	"errors"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/netengine/netlog"
)

// Watcher re-parses a config file into its Store whenever the file is
// written, grounded on
// _examples/SeleniaProject-Orizon/internal/runtime/vfs/watch_fsnotify.go's
// fsnotify.Watcher wrapper: an internal goroutine drains fsnotify's
// Events/Errors channels and stops cleanly on Close.
type Watcher struct {
	w     *fsnotify.Watcher
	store *Store
	path  string
	log   *netlog.Logger
	done  chan struct{}
}

// NewWatcher starts watching path for writes and immediately performs
// one initial load into store.
func NewWatcher(store *Store, path string, log *netlog.Logger) (*Watcher, error) {
	if log == nil {
		log = netlog.Default
	}
	if err := LoadInto(store, path); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{w: fw, store: store, path: path, log: log, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := LoadInto(w.store, w.path); err != nil {
				w.log.Warnf("config: reload of %s failed: %v", w.path, err)
			} else {
				w.log.Infof("config: reloaded %s", w.path)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			if err != nil && !errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warnf("config: watcher error: %v", err)
			}
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
