package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the raw event definitions whenever its source
// directory changes, grounded on ManuGH-xg2g/internal/proxy/watcher.go's
// fsnotify.NewWatcher/watcher.Add/select loop, adapted from a
// single-file wait into a debounced directory rebuild-and-swap.
type Watcher struct {
	dir      string
	debounce time.Duration
	log      *zerolog.Logger
}

// NewWatcher returns a Watcher over dir with the given debounce
// interval between a filesystem event and the resulting reload.
func NewWatcher(dir string, debounce time.Duration, log *zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, log: log}
}

// Run watches w.dir until ctx is cancelled, calling onReload with the
// freshly loaded raw events after every debounced batch of filesystem
// events; building the catalog from them is left to onReload. onReload is called once immediately with the initial load.
// Reload errors are passed to onReload rather than aborting the
// watch, so a broken edit doesn't kill hot-reload for the next fix.
func (w *Watcher) Run(ctx context.Context, onReload func(raws []RawEvent, err error)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	reload := func() {
		raws, err := LoadEventDir(w.dir)
		onReload(raws, err)
	}
	reload()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Debug().Str("op", ev.Op.String()).Str("name", ev.Name).Msg("config: filesystem event")
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					// the timer already fired; its tick may have been
					// consumed by the timerC case, so drain without blocking.
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Warn().Err(err).Msg("config: watcher error")
			}

		case <-timerC:
			reload()
		}
	}
}
