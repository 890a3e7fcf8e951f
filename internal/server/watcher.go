package server

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/logging"
)

const defaultWatchDebounce = 300 * time.Millisecond

// rootWatcher reports changes anywhere under a directory, coalescing
// bursts into a single callback.
type rootWatcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func()

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// watchRoot starts watching root and its subdirectories.
func watchRoot(root string, debounce time.Duration, onChange func()) (*rootWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	w := &rootWatcher{
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *rootWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

func (w *rootWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						logging.Debug("Failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("Root watcher error", zap.Error(err))
		}
	}
}

func (w *rootWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// Close stops watching. A pending callback is cancelled.
func (w *rootWatcher) Close() error {
	w.mu.Lock()
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
