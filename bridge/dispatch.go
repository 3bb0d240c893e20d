package bridge

import (
	"context"

	"github.com/protolith/scenebridge/engine"
	"github.com/protolith/scenebridge/js"
	"github.com/protolith/scenebridge/state"

	goccy "github.com/goccy/go-json"
)

// handlerKind makes the dispatcher's core invariant explicit: events
// that originated as the result of a command must never regenerate
// that command. Pure projection handlers apply state and nothing
// else; only user-action handlers may reach the command-issuing path.
type handlerKind int

const (
	pureProjection handlerKind = iota
	userAction
)

type handlerEntry struct {
	kind handlerKind
	fn   func(b *Bridge, ev engine.Event)
}

func projection(fn func(b *Bridge, ev engine.Event)) handlerEntry {
	return handlerEntry{kind: pureProjection, fn: fn}
}

func action(fn func(b *Bridge, ev engine.Event)) handlerEntry {
	return handlerEntry{kind: userAction, fn: fn}
}

// Dispatch is the single entry point for engine notifications. Events
// are handled strictly in arrival order (the engine callback is
// serial); unrecognized tags are logged and ignored, never fatal.
func (b *Bridge) Dispatch(ev engine.Event) {
	h, found := b.handlers[ev.Type]
	if !found {
		b.log.Debug("unrecognized engine event", "type", ev.Type)
		return
	}
	h.fn(b, ev)
	b.signalAck(ev.Type)
}

func handlerTable() map[engine.EventType]handlerEntry {
	logOnly := projection(func(b *Bridge, ev engine.Event) {
		b.log.Debug("engine event", "type", ev.Type)
	})
	return map[engine.EventType]handlerEntry{
		engine.EventEngineReady: projection(func(b *Bridge, ev engine.Event) {
			b.log.Info("engine ready")
		}),

		// Mode changes are the response to a prior play/pause/stop
		// command; echoing one back would loop. The edit<->play edges
		// drive the sandbox lifecycle, which talks only to the
		// sandbox, never to the engine.
		engine.EventEngineModeChanged: projection(func(b *Bridge, ev engine.Event) {
			mode := state.Mode(payloadString(ev.Payload, "mode"))
			prev := b.store.SetMode(mode)
			if prev == state.ModeEdit && mode == state.ModePlay {
				b.StartSession()
			} else if mode == state.ModeEdit && prev != state.ModeEdit {
				b.StopSession()
			}
		}),

		engine.EventPlayTick: projection(func(b *Bridge, ev engine.Event) {
			b.handlePlayTick(ev)
		}),

		// Replaces the projection and arms a debounced autosave so a
		// burst of graph updates coalesces into one write.
		engine.EventSceneGraphUpdate: projection(func(b *Bridge, ev engine.Event) {
			graph, _ := ev.Payload["graph"].(map[string]any)
			infos, _ := ev.Payload["entityInfos"].(map[string]any)
			b.store.ReplaceSceneGraph(graph, infos)
			b.armAutosave()
		}),

		// Response to a selection command; apply, do not re-issue.
		engine.EventSelectionChanged: projection(func(b *Bridge, ev engine.Event) {
			ids := payloadStrings(ev.Payload, "ids")
			b.store.SetSelection(ids, payloadString(ev.Payload, "primaryId"))
		}),

		engine.EventCoordinateModeChanged: projection(func(b *Bridge, ev engine.Event) {
			b.store.SetCoordinateMode(payloadString(ev.Payload, "mode"))
		}),

		engine.EventSceneExported: projection(func(b *Bridge, ev engine.Event) {
			b.persistExport(ev)
		}),

		engine.EventScriptUpdated: projection(func(b *Bridge, ev engine.Event) {
			b.scripts.Put(js.Script{
				EntityID:   payloadString(ev.Payload, "entityId"),
				Source:     payloadString(ev.Payload, "source"),
				Enabled:    payloadBool(ev.Payload, "enabled"),
				TemplateID: payloadString(ev.Payload, "templateId"),
			})
		}),

		engine.EventCollisionStart: projection((*Bridge).forwardToSandbox),
		engine.EventCollisionEnd:   projection((*Bridge).forwardToSandbox),
		engine.EventTriggerEnter:   projection((*Bridge).forwardToSandbox),
		engine.EventTriggerExit:    projection((*Bridge).forwardToSandbox),

		engine.EventEngineError: projection(func(b *Bridge, ev engine.Event) {
			msg := payloadString(ev.Payload, "message")
			b.console.Broadcast("engine error: " + msg)
			b.log.Error("engine error", "message", msg)
		}),
		engine.EventEngineWarning: projection(func(b *Bridge, ev engine.Event) {
			b.log.Warn("engine warning", "message", payloadString(ev.Payload, "message"))
		}),

		// A portal or UI affordance inside the engine asked for a
		// scene change; this is the user acting, so it may issue
		// commands (stop/export/load/play) via the orchestrator.
		engine.EventSceneTransition: action(func(b *Bridge, ev engine.Event) {
			target := payloadString(ev.Payload, "scene")
			override := transitionOverride(ev.Payload["config"])
			if err := b.StartSceneTransition(context.Background(), target, override); err != nil {
				b.log.Warn("scene transition rejected", "target", target, "error", err)
			}
		}),

		// Explicit save request flushes the debounced autosave now.
		engine.EventSceneSaveRequested: action(func(b *Bridge, ev engine.Event) {
			b.flushAutosave()
		}),

		engine.EventEntitySpawned:       logOnly,
		engine.EventEntityDespawned:     logOnly,
		engine.EventEntityTransform:     logOnly,
		engine.EventEntityRenamed:       logOnly,
		engine.EventMaterialUpdated:     logOnly,
		engine.EventPhysicsPaused:       logOnly,
		engine.EventPhysicsResumed:      logOnly,
		engine.EventAudioStarted:        logOnly,
		engine.EventAudioStopped:        logOnly,
		engine.EventAnimationStarted:    logOnly,
		engine.EventAnimationFinished:   logOnly,
		engine.EventCameraMoved:         logOnly,
		engine.EventAssetLoaded:         logOnly,
		engine.EventAssetLoadFailed:     logOnly,
		engine.EventSceneLoaded:         logOnly,
		engine.EventInputStateChanged:   logOnly,
		engine.EventGizmoDragStarted:    logOnly,
		engine.EventGizmoDragEnded:      logOnly,
		engine.EventSnapSettingsChanged: logOnly,
		engine.EventGridVisibility:      logOnly,
		engine.EventViewportResized:     logOnly,
		engine.EventHierarchyReordered:  logOnly,
		engine.EventPrefabApplied:       logOnly,
		engine.EventUndoApplied:         logOnly,
		engine.EventRedoApplied:         logOnly,
		engine.EventStatsUpdate:         logOnly,
	}
}

func payloadStrings(p map[string]any, key string) []string {
	raw, _ := p[key].([]any)
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// persistExport stores an exported scene payload for its scene (the
// active one unless the event names another).
func (b *Bridge) persistExport(ev engine.Event) {
	id := payloadString(ev.Payload, "sceneId")
	if id == "" {
		id = b.store.ActiveScene()
	}
	if id == "" {
		return
	}
	data, err := goccy.Marshal(ev.Payload["data"])
	if err != nil {
		b.log.Warn("unencodable scene export", "scene", id, "error", err)
		return
	}
	if err := b.scenes.SetSceneData(context.Background(), id, data); err != nil {
		b.log.Error("persisting scene export", "scene", id, "error", err)
	}
}
