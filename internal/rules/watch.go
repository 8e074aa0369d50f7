package rules

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Provider hands out the current rule set. Components hold a Provider rather
// than a Set so a long-running batch picks up reloaded rules between items.
type Provider interface {
	Current() *Set
}

// Static wraps a fixed rule set in the Provider interface. Used in tests and
// one-shot commands where hot reload is pointless.
type Static struct{ Set *Set }

// Current returns the wrapped set.
func (s Static) Current() *Set { return s.Set }

// Watcher is a Provider that reloads rule files when they change on disk.
// A reload that fails validation keeps the previous good set and logs the
// error; readers never observe a half-applied or invalid rule set.
type Watcher struct {
	classifierPath string
	riskPath       string
	current        atomic.Pointer[Set]
	fsw            *fsnotify.Watcher
	done           chan struct{}
}

// Watch loads both rule files, then starts watching them for changes.
//
// The parent directories are watched, not the files themselves: an
// atomic-rename save (write tmp, rename over the rule file) replaces the
// inode, and a watch pinned to the old inode would go silent while the
// pipeline kept matching on stale rules.
func Watch(classifierPath, riskPath string) (*Watcher, error) {
	set, err := Load(classifierPath, riskPath)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "rules: create watcher")
	}

	w := &Watcher{
		classifierPath: classifierPath,
		riskPath:       riskPath,
		fsw:            fsw,
		done:           make(chan struct{}),
	}
	w.current.Store(set)

	watched := make(map[string]bool, 2)
	for _, p := range []string{classifierPath, riskPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, eris.Wrapf(err, "rules: watch %s", dir)
		}
		watched[dir] = true
	}

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid rule set.
func (w *Watcher) Current() *Set {
	return w.current.Load()
}

// Close stops the file watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

// watchesFile reports whether a directory event concerns one of the rule
// files. Sibling files in the same directory (editor temp files, other
// configs) are ignored.
func (w *Watcher) watchesFile(name string) bool {
	name = filepath.Clean(name)
	if name == filepath.Clean(w.classifierPath) {
		return true
	}
	return w.riskPath != "" && name == filepath.Clean(w.riskPath)
}

func (w *Watcher) loop() {
	log := zap.L().With(zap.String("component", "rules_watcher"))
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.watchesFile(ev.Name) {
				continue
			}
			set, err := Load(w.classifierPath, w.riskPath)
			if err != nil {
				log.Error("rule reload failed, keeping previous rules",
					zap.String("file", ev.Name), zap.Error(err))
				continue
			}
			w.current.Store(set)
			log.Info("rules reloaded", zap.String("file", ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("rule watcher error", zap.Error(err))
		}
	}
}
