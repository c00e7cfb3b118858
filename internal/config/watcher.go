package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file on change and publishes the new
// snapshot through the holder. A failed reload keeps the old snapshot.
type Watcher struct {
	path     string
	holder   *Holder
	onReload func(*Snapshot)
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher starts watching path. onReload (optional) runs after each
// successful publish.
func NewWatcher(path string, holder *Holder, onReload func(*Snapshot)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace the file on save, which drops
	// a watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		holder:   holder,
		onReload: onReload,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	snap, err := Load(w.path)
	if err != nil {
		logrus.WithError(err).Error("config reload failed, keeping previous snapshot")
		return
	}
	w.holder.Store(snap)
	logrus.WithField("providers", len(snap.Config.Providers)).Info("configuration reloaded")
	if w.onReload != nil {
		w.onReload(snap)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
