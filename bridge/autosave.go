package bridge

import (
	"context"
	"time"

	goccy "github.com/goccy/go-json"
)

// armAutosave (re)starts the debounce window. Rapid successive scene
// graph updates collapse into a single save when the timer finally
// fires.
func (b *Bridge) armAutosave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.autosave != nil {
		b.autosave.Stop()
	}
	b.autosave = time.AfterFunc(b.cfg.AutosaveDebounce, b.saveSceneGraph)
}

// flushAutosave cancels any pending debounce and saves immediately.
func (b *Bridge) flushAutosave() {
	b.mu.Lock()
	if b.autosave != nil {
		b.autosave.Stop()
		b.autosave = nil
	}
	b.mu.Unlock()
	b.saveSceneGraph()
}

func (b *Bridge) saveSceneGraph() {
	b.mu.Lock()
	b.autosave = nil
	b.mu.Unlock()
	id := b.store.ActiveScene()
	if id == "" {
		return
	}
	data, err := goccy.Marshal(map[string]any{
		"graph":       b.store.SceneGraph(),
		"entityInfos": b.store.EntityInfos(),
	})
	if err != nil {
		b.log.Error("encoding scene graph", "scene", id, "error", err)
		return
	}
	if err := b.scenes.SetSceneData(context.Background(), id, data); err != nil {
		b.log.Error("autosaving scene graph", "scene", id, "error", err)
		return
	}
	b.log.Debug("scene graph autosaved", "scene", id)
}
