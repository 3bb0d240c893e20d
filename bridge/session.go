package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/protolith/scenebridge/js"
	"github.com/protolith/scenebridge/state"
)

// session is one play-mode activation. At most one exists at a time;
// it is owned exclusively by the lifecycle methods below.
type session struct {
	sandbox  Sandbox
	started  time.Time
	lastTick time.Time
	elapsed  float64
}

// StartSession creates the isolated script context for a play
// session. Called on the edit->play transition; a no-op while a
// session already exists. The script snapshot comes from the local
// cache only; the engine is never queried for a canonical list.
func (b *Bridge) StartSession() {
	b.mu.Lock()
	if b.session != nil {
		b.mu.Unlock()
		return
	}
	s := &session{
		sandbox: b.newSandbox(),
		started: time.Now(),
	}
	b.session = s
	b.mu.Unlock()

	scripts := []js.Script{}
	for _, script := range b.scripts.Snapshot() {
		if script.Enabled {
			scripts = append(scripts, script)
		}
	}
	init := map[string]any{
		"type":        "init",
		"scripts":     scripts,
		"entities":    map[string]any{},
		"entityInfos": b.store.EntityInfos(),
		"inputState":  map[string]any{},
	}
	if err := s.sandbox.Send(init); err != nil {
		b.log.Error("sending sandbox init", "error", err)
	}
	sceneInfo := map[string]any{
		"type":          "scene_info",
		"currentScene":  b.store.ActiveScene(),
		"allSceneNames": b.store.SceneNames(),
	}
	if err := s.sandbox.Send(sceneInfo); err != nil {
		b.log.Error("sending sandbox scene info", "error", err)
	}
	b.log.Info("script session started", "scripts", len(scripts))

	go b.pump(s)
}

// StopSession tears the current session down: stop message, forced
// context termination, watchdog cleared, HUD cleared. Safe to call
// when no session exists.
func (b *Bridge) StopSession() {
	b.mu.Lock()
	s := b.session
	b.session = nil
	if b.watchdog != nil {
		b.watchdog.Stop()
		b.watchdog = nil
	}
	b.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.sandbox.Send(map[string]any{"type": "stop"}); err != nil {
		b.log.Debug("sending sandbox stop", "error", err)
	}
	s.sandbox.Terminate()
	b.store.SetHUD(nil)
	b.log.Info("script session stopped", "uptime", time.Since(s.started))
}

// pump drains the sandbox's outbound stream until it closes. Every
// message, whatever its type, proves liveness and disarms the
// watchdog before being routed. Both apply only while the session is
// still current: a torn-down session's buffered leftovers must not
// vouch for its successor or mutate state after stop cleared it.
func (b *Bridge) pump(s *session) {
	for msg := range s.sandbox.Out() {
		b.mu.Lock()
		current := b.session == s
		b.mu.Unlock()
		if !current {
			continue
		}
		b.disarmWatchdog()
		b.route(s, msg)
	}
}

func (b *Bridge) route(s *session, msg js.Outbound) {
	switch msg.Type {
	case "ack":
	case "commands":
		b.routeCommands(msg.Commands)
	case "log":
		b.console.Write(msg.EntityID, msg.Message)
	case "error":
		b.console.Write(msg.EntityID, "error: "+msg.Message)
		b.log.Warn("script error", "entity", msg.EntityID, "message", msg.Message)
	case "ui":
		b.store.SetHUD(msg.Elements)
	default:
		b.handleAction(msg)
	}
}

// handleAction applies the structured sandbox messages that live
// outside the Command taxonomy. These are trusted structural
// messages produced by the prelude, not free-form commands, so the
// allow-list does not apply; each mutates its subsystem directly.
func (b *Bridge) handleAction(msg js.Outbound) {
	f := msg.Fields
	switch msg.Type {
	case "camera_set_mode":
		b.store.SetCameraMode(payloadString(f, "mode"))
	case "camera_set_target":
		b.store.SetCameraTarget(payloadString(f, "entityId"))
	case "camera_shake":
		b.store.SetCameraShake(state.CameraShake{
			Intensity:  payloadFloat(f, "intensity", 1),
			DurationMs: payloadInt(f, "durationMs", 0),
		})
	case "camera_set_property":
		b.store.SetCameraProperty(payloadString(f, "name"), f["value"])
	case "dialogue_start":
		b.store.StartDialogue(payloadString(f, "node"))
		b.audio.Duck(dialogueDuckFactor, dialogueDuckMs)
	case "dialogue_advance":
		b.store.AdvanceDialogue()
	case "dialogue_end", "dialogue_skip":
		b.store.EndDialogue()
		b.audio.Unduck(dialogueDuckMs)
	case "dialogue_set_variable":
		b.store.SetDialogueVariable(payloadString(f, "name"), f["value"])
	case "scene_load":
		target := payloadString(f, "scene")
		override := transitionOverride(f["config"])
		if err := b.StartSceneTransition(context.Background(), target, override); err != nil {
			b.log.Warn("script scene load rejected", "target", target, "error", err)
		}
	case "scene_restart":
		target := b.store.ActiveScene()
		if err := b.StartSceneTransition(context.Background(), target, nil); err != nil {
			b.log.Warn("script scene restart rejected", "error", err)
		}
	default:
		b.log.Debug("unhandled sandbox message", "type", msg.Type, "entity", msg.EntityID)
	}
}

const (
	dialogueDuckFactor = 0.4
	dialogueDuckMs     = 300
)

func transitionOverride(raw any) *state.TransitionConfig {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return &state.TransitionConfig{
		Type:       state.TransitionType(payloadString(m, "type")),
		DurationMs: payloadInt(m, "durationMs", 0),
		Color:      payloadString(m, "color"),
		Easing:     payloadString(m, "easing"),
	}
}

// watchdogFault is the only fatal, non-recoverable failure in the
// bridge: the sandbox stopped responding, so it is destroyed and the
// engine is forced back to edit mode. Without this an infinite loop
// in a script would leave the system silently stuck in play mode.
func (b *Bridge) watchdogFault() {
	b.mu.Lock()
	b.watchdog = nil
	faulted := b.session != nil
	b.mu.Unlock()
	if !faulted {
		return
	}
	line := fmt.Sprintf("script watchdog: no response within %s, stopping play mode", b.cfg.WatchdogTimeout)
	b.console.Broadcast(line)
	b.log.Error("sandbox unresponsive, terminating session", "timeout", b.cfg.WatchdogTimeout)
	b.StopSession()
	b.command("stop", nil)
	b.store.SetMode(state.ModeEdit)
}
