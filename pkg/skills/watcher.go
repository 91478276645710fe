package skills

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of file events into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the registry when skill files change on disk. Changes are
// debounced and applied as a wholesale reload so editors that write via
// rename or multiple syscalls trigger one reload, not several.
type Watcher struct {
	loader   *Loader
	registry *Registry
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	dirty bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher that feeds loader output into registry.
func NewWatcher(loader *Loader, registry *Registry) *Watcher {
	return &Watcher{
		loader:   loader,
		registry: registry,
		debounce: DefaultDebounce,
		logger:   slog.Default().With("component", "skills.watcher"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the loader's skill directories. Directories that do
// not exist yet are skipped; create them before starting the watcher.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	w.fsw = fsw

	watched := 0
	for _, dir := range []string{w.loader.cfg.BuiltinDir, w.loader.cfg.UserDir} {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			w.logger.Debug("Skill directory not watchable", "dir", dir, "error", err)
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		w.fsw = nil
		return fmt.Errorf("no skill directories to watch")
	}

	w.wg.Add(1)
	go w.loop()
	w.logger.Info("Skill watcher started", "directories", watched, "debounce", w.debounce)
	return nil
}

// Stop halts the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	if w.fsw != nil {
		w.fsw.Close()
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.markDirty(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Skill watcher error", "error", err)
		case <-ticker.C:
			w.reloadIfDirty()
		}
	}
}

func (w *Watcher) markDirty(path string) {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
	w.logger.Debug("Skill file changed", "path", path)
}

// reloadIfDirty reloads everything when at least one change arrived since
// the last tick. The full reload keeps ordering simple: embedded defaults,
// then builtin dir, then user dir, exactly as at startup.
func (w *Watcher) reloadIfDirty() {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = false
	w.mu.Unlock()
	if !dirty {
		return
	}

	configs := w.loader.Load()
	w.registry.ReplaceAll(configs)
	w.logger.Info("Skills reloaded", "count", len(configs))
}
