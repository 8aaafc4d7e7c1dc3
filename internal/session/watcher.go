package session

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of filesystem events (an atomic write is
// a create plus a rename) into a single notification.
const debounceWindow = 250 * time.Millisecond

// Watcher notifies when another process modifies the session directory, so
// a long-running daemon can pick up sessions created by the CLI.
type Watcher struct {
	fsw     *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	log     *slog.Logger
}

// NewWatcher starts watching the store's session directory.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.SessionsDir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     storeLog,
	}
	go w.loop()
	return w, nil
}

// Changes delivers one signal per batch of external modifications.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Temp files from atomic writes settle into .json on rename.
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				debounce.Reset(debounceWindow)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
