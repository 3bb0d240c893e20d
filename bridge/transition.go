package bridge

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/protolith/scenebridge"
	"github.com/protolith/scenebridge/engine"
	"github.com/protolith/scenebridge/state"

	goccy "github.com/goccy/go-json"
)

// StartSceneTransition begins the idle->active->idle overlay
// protocol that swaps the active scene. The target must resolve by
// name or id against the current scene list, and only one transition
// may be in flight; both failures are rejected before any state is
// touched. On success the timed protocol runs in its own goroutine
// and this returns immediately.
func (b *Bridge) StartSceneTransition(ctx context.Context, target string, override *state.TransitionConfig) error {
	ref, found := b.store.SceneByNameOrID(target)
	if !found {
		b.log.Warn("scene transition target not found", "target", target)
		return errors.Errorf("no scene named %q", target)
	}
	cfg := state.DefaultTransitionConfig().Merge(override)
	if cfg.Type == state.TransitionInstant {
		cfg.DurationMs = 0
	}
	if !b.store.BeginTransition(cfg, ref.ID) {
		b.log.Warn("scene transition already in flight", "target", target)
		return errors.Errorf("scene transition already active")
	}
	go b.runTransition(ctx, ref, cfg)
	return nil
}

// runTransition performs the two-phase timed swap. The first
// half-duration lets the overlay fade in before anything observable
// happens; the second covers the fade back out after the new scene is
// playing, so the overlay fully occludes the graph swap. Any error
// during the swap aborts straight to idle without issuing play.
func (b *Bridge) runTransition(ctx context.Context, ref state.SceneRef, cfg state.TransitionConfig) {
	defer b.store.EndTransition()

	half := time.Duration(cfg.DurationMs) * time.Millisecond / 2
	b.sleep(ctx, half)

	if err := b.swapScene(ctx, ref); err != nil {
		b.log.Error("scene transition aborted", "target", ref.ID, "error", err)
		b.log.Debug(scenebridge.StackTrace(err))
		return
	}

	b.command("play", nil)
	b.sleep(ctx, half)
	b.log.Info("scene transition complete", "scene", ref.ID)
}

// swapScene is the mutating middle of the protocol: stop, export,
// swap, persist, load. Engine command failures are caught and logged
// at the call site; persistence failures abort, restoring the
// pre-transition active scene so no partial swap survives.
func (b *Bridge) swapScene(ctx context.Context, ref state.SceneRef) error {
	if mode := b.store.Mode(); mode == state.ModePlay || mode == state.ModePaused {
		stopped := b.ackWaiter(engine.EventEngineModeChanged, b.cfg.StopGrace)
		b.command("stop", nil)
		stopped(ctx)
	}

	exported := b.ackWaiter(engine.EventSceneExported, b.cfg.ExportGrace)
	b.command("export_scene", nil)
	exported(ctx)

	data, cached, err := b.scenes.SceneData(ctx, ref.ID)
	if err != nil {
		return scenebridge.WithStack(err)
	}

	prev := b.store.ActiveScene()
	b.store.SetActiveScene(ref.ID)
	if err := b.scenes.SaveScenes(ctx, b.store.Scenes(), ref.ID); err != nil {
		b.store.SetActiveScene(prev)
		return scenebridge.WithStack(err)
	}

	if cached {
		var payload any
		if err := goccy.Unmarshal(data, &payload); err != nil {
			return scenebridge.WithStack(err)
		}
		b.command("load_scene", map[string]any{
			"sceneId": ref.ID,
			"name":    ref.Name,
			"data":    payload,
		})
	} else {
		b.command("clear_scene", map[string]any{
			"sceneId": ref.ID,
			"name":    ref.Name,
		})
	}
	return nil
}
