package manifest

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tidecraft/ballast/pkg/log"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before notifying
const DefaultDebounce = 500 * time.Millisecond

// Watcher notifies on manifest directory changes. Editors produce bursts of
// create/write/rename events per save, so changes are debounced into a
// single notification.
type Watcher struct {
	dir      string
	debounce time.Duration
	notify   func()

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher that calls notify after changes settle
func NewWatcher(dir string, debounce time.Duration, notify func()) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		notify:   notify,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the manifest directory
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}

	w.watcher = fw
	w.running = true
	go w.loop()

	log.WithComponent("manifest").Info().Str("dir", w.dir).Msg("watching manifest directory")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifestFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithComponent("manifest").Error().Err(err).Msg("manifest watcher error")
		}
	}
}

// schedule (re)arms the debounce timer
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.notify)
}

func isManifestFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
