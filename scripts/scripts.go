// Package scripts is the bridge's local cache of per-entity script
// sources. It is the only place session snapshots come from; the
// engine is never asked for a canonical script list. The cache is
// seeded from a directory of <entityId>.js files, kept fresh with a
// filesystem watcher, and updated in place by SCRIPT_UPDATED
// projections from the editor. Running sessions are never touched;
// changes only reach the next session's snapshot.
package scripts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/protolith/scenebridge"
	"github.com/protolith/scenebridge/js"
)

type Cache struct {
	log *slog.Logger
	dir string
	m   *scenebridge.SyncMap[string, js.Script]
}

func NewCache(dir string, log *slog.Logger) *Cache {
	return &Cache{
		log: log,
		dir: dir,
		m:   scenebridge.NewSyncMap[string, js.Script](),
	}
}

// Load seeds the cache from the script directory. A missing directory
// is fine; the editor may push all scripts over the wire instead.
func (c *Cache) Load() error {
	if c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return scenebridge.WithStack(err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		if err := c.loadFile(filepath.Join(c.dir, entry.Name())); err != nil {
			c.log.Warn("loading script file", "file", entry.Name(), "error", err)
		}
	}
	return nil
}

func (c *Cache) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return scenebridge.WithStack(err)
	}
	entityID := strings.TrimSuffix(filepath.Base(path), ".js")
	c.m.Set(entityID, js.Script{
		EntityID: entityID,
		Source:   string(b),
		Enabled:  true,
	})
	return nil
}

func (c *Cache) Put(script js.Script) {
	c.m.Set(script.EntityID, script)
}

func (c *Cache) Get(entityID string) (js.Script, bool) {
	return c.m.GetHas(entityID)
}

func (c *Cache) Del(entityID string) {
	c.m.Del(entityID)
}

// Snapshot returns the cached scripts sorted by entity id, so session
// init messages are deterministic.
func (c *Cache) Snapshot() []js.Script {
	result := []js.Script{}
	for _, script := range c.m.Clone() {
		result = append(result, script)
	}
	slices.SortFunc(result, func(a, b js.Script) int {
		return strings.Compare(a.EntityID, b.EntityID)
	})
	return result
}

// Watch follows the script directory until ctx is cancelled. Watcher
// failures are logged, never fatal; the cache just goes stale.
func (c *Cache) Watch(ctx context.Context) error {
	if c.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return scenebridge.WithStack(err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return scenebridge.WithStack(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".js") {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				c.m.Del(strings.TrimSuffix(filepath.Base(ev.Name), ".js"))
			case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
				if err := c.loadFile(ev.Name); err != nil {
					c.log.Warn("reloading script file", "file", ev.Name, "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("script watcher error", "error", err)
		}
	}
}
