// Package watcher signals the application thread when the current cache
// directory changes on disk, and carries the coarse refresh ticker.
//
// Both sources write into single-slot channels with non-blocking sends,
// so bursts collapse into one pending signal and a refresh already in
// flight absorbs anything that arrives meanwhile.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ondsel/lens-client/pkg/logging"
)

// defaultDebounce is the settle time after the first filesystem event
// before a signal is raised, collapsing event bursts.
const defaultDebounce = 100 * time.Millisecond

// DirWatcher watches one directory at a time.
type DirWatcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	signals  chan struct{}

	mu      sync.Mutex
	current string
}

// NewDirWatcher creates a directory watcher. Start must be called before
// signals are delivered.
func NewDirWatcher(debounce time.Duration) (*DirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &DirWatcher{
		fsw:      fsw,
		debounce: debounce,
		signals:  make(chan struct{}, 1),
	}, nil
}

// Signals returns the channel the application thread selects on; one
// pending signal at most.
func (d *DirWatcher) Signals() <-chan struct{} {
	return d.signals
}

// Watch switches the watched directory. The previous directory is
// dropped; a missing path is not an error (the signal source simply
// goes quiet).
func (d *DirWatcher) Watch(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != "" {
		d.fsw.Remove(d.current)
		d.current = ""
	}
	if path == "" {
		return nil
	}
	if err := d.fsw.Add(path); err != nil {
		return err
	}
	d.current = path
	logging.Debug("watching directory", logging.String("path", path))
	return nil
}

// Start runs the event loop until ctx is cancelled. Each relevant event
// restarts a settle timer; the signal is raised only once the timer
// expires without further events, so a burst yields one signal.
func (d *DirWatcher) Start(ctx context.Context) {
	go func() {
		var settle *time.Timer
		var settleC <-chan time.Time
		for {
			select {
			case ev, ok := <-d.fsw.Events:
				if !ok {
					if settle != nil {
						settle.Stop()
					}
					return
				}
				if !relevant(ev) {
					continue
				}
				if settle == nil {
					settle = time.NewTimer(d.debounce)
					settleC = settle.C
				} else {
					if !settle.Stop() {
						select {
						case <-settle.C:
						default:
						}
					}
					settle.Reset(d.debounce)
				}
			case <-settleC:
				settle = nil
				settleC = nil
				d.raise()
			case err, ok := <-d.fsw.Errors:
				if !ok {
					if settle != nil {
						settle.Stop()
					}
					return
				}
				logging.Debug("watcher error", logging.Err(err))
			case <-ctx.Done():
				if settle != nil {
					settle.Stop()
				}
				return
			}
		}
	}()
}

// Close releases the underlying watcher.
func (d *DirWatcher) Close() error {
	return d.fsw.Close()
}

func (d *DirWatcher) raise() {
	select {
	case d.signals <- struct{}{}:
	default:
	}
}

// relevant filters to the event kinds that change a directory listing.
func relevant(ev fsnotify.Event) bool {
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) ||
		ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Write)
}

// Ticker raises a signal at a coarse interval so the view re-checks the
// server periodically (and notices token expiry promptly).
type Ticker struct {
	interval time.Duration
	signals  chan struct{}
}

// NewTicker creates a refresh ticker.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Ticker{interval: interval, signals: make(chan struct{}, 1)}
}

// Signals returns the tick channel; one pending signal at most.
func (t *Ticker) Signals() <-chan struct{} {
	return t.signals
}

// Start runs the ticker until ctx is cancelled.
func (t *Ticker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case t.signals <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
