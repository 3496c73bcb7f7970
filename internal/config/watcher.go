package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"tradewind/internal/logger"
)

// ChangeListener receives the freshly loaded config after every successful
// reload.
type ChangeListener func(*Config)

// Watcher re-reads the config file when it changes on disk and pushes the
// result to subscribers. Only agent enable/disable and risk defaults are
// meant to be hot-applied; structural changes (new accounts, providers)
// still need a restart.
type Watcher struct {
	path string

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener
	fsw       *fsnotify.Watcher
}

func NewWatcher(path string, initial *Config) (*Watcher, error) {
	w := &Watcher{path: path, current: initial}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload(evt.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher: %v", err)
		}
	}
}

func (w *Watcher) reload(name string) {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload failed (%s): %v", name, err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	logger.Infof("config reloaded from %s (%d agents)", w.path, len(cfg.Agents))
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Snapshot returns the most recently loaded config.
func (w *Watcher) Snapshot() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a listener for future reloads.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
