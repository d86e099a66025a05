package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/npmdash/internal/logging"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// ConfigWatcher reports changes to a single file.
//
// The parent directory is watched rather than the file itself: editors
// that save via rename replace the inode, which would silently end a
// file-level watch.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	log      *slog.Logger

	fw       *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConfigWatcher creates a watcher for path. onChange runs on the
// watcher goroutine once per burst of writes, after debounce has passed
// with no further events. A debounce of zero uses DefaultDebounce.
func NewConfigWatcher(path string, debounce time.Duration, onChange func(), log *slog.Logger) (*ConfigWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange cannot be nil")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logging.Discard()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &ConfigWatcher{
		path:     filepath.Clean(abs),
		debounce: debounce,
		onChange: onChange,
		log:      log.With("component", "config-watcher"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (c *ConfigWatcher) Path() string {
	return c.path
}

// Start registers the fsnotify watch and begins delivering changes.
func (c *ConfigWatcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(c.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(c.path), err)
	}
	c.fw = fw

	c.wg.Add(1)
	go c.run()

	c.log.Info("watching config", "path", c.path)
	return nil
}

func (c *ConfigWatcher) run() {
	defer c.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-c.fw.Events:
			if !ok {
				return
			}
			if !c.relevant(ev) {
				continue
			}
			c.log.Debug("config event", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(c.debounce)
			} else {
				timer.Reset(c.debounce)
			}
			fire = timer.C
		case err, ok := <-c.fw.Errors:
			if !ok {
				return
			}
			c.log.Warn("config watcher error", "err", err)
		case <-fire:
			fire = nil
			c.onChange()
		case <-c.stopCh:
			return
		}
	}
}

func (c *ConfigWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != c.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Stop ends the watch and waits for the loop to exit. Pending debounced
// changes are dropped.
func (c *ConfigWatcher) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.fw != nil {
			err = c.fw.Close()
		}
	})
	c.wg.Wait()
	return err
}
