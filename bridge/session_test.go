package bridge

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/protolith/scenebridge/engine"
	"github.com/protolith/scenebridge/js"
	"github.com/protolith/scenebridge/state"
)

func TestStartSessionIsIdempotent(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StartSession()
	tb.bridge.StartSession()
	if got := tb.sandboxCount(); got != 1 {
		t.Errorf("expected 1 sandbox, got %d", got)
	}
}

func TestStartSessionSnapshotSkipsDisabledScripts(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.scripts.scripts = []js.Script{
		{EntityID: "e1", Source: "a", Enabled: true},
		{EntityID: "e2", Source: "b", Enabled: false},
		{EntityID: "e3", Source: "c", Enabled: true},
	}
	tb.bridge.StartSession()

	inits := tb.lastSandbox(t).sentOfType("init")
	if len(inits) != 1 {
		t.Fatalf("expected 1 init message, got %d", len(inits))
	}
	scripts, _ := inits[0]["scripts"].([]js.Script)
	ids := []string{}
	for _, s := range scripts {
		ids = append(ids, s.EntityID)
	}
	if diff := cmp.Diff([]string{"e1", "e3"}, ids); diff != "" {
		t.Errorf("init scripts mismatch (-want +got):\n%s", diff)
	}
}

func TestStartSessionSendsSceneInfo(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.store.SetScenes([]state.SceneRef{{ID: "s1", Name: "Intro"}, {ID: "s2", Name: "Cave"}})
	tb.store.SetActiveScene("s1")
	tb.bridge.StartSession()

	infos := tb.lastSandbox(t).sentOfType("scene_info")
	if len(infos) != 1 {
		t.Fatalf("expected 1 scene_info message, got %d", len(infos))
	}
	if infos[0]["currentScene"] != "s1" {
		t.Errorf("currentScene = %v, want s1", infos[0]["currentScene"])
	}
	names, _ := infos[0]["allSceneNames"].([]string)
	if diff := cmp.Diff([]string{"Intro", "Cave"}, names); diff != "" {
		t.Errorf("scene names mismatch (-want +got):\n%s", diff)
	}
}

func TestStopSessionWithoutSessionIsSafe(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StopSession()
	tb.bridge.StopSession()
}

func TestStopSessionClearsHUD(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StartSession()
	sb := tb.lastSandbox(t)
	sb.emit(js.Outbound{Type: "ui", Elements: []map[string]any{{"kind": "label"}}})
	eventually(t, time.Second, func() bool {
		return len(tb.store.HUD()) == 1
	}, "HUD was never applied")

	tb.bridge.StopSession()
	if got := tb.store.HUD(); got != nil {
		t.Errorf("HUD = %v after stop, want nil", got)
	}
	if !sb.isTerminated() {
		t.Error("sandbox was not terminated")
	}
}

func TestFirstTickUsesPayloadDt(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StartSession()
	tb.bridge.Dispatch(engine.Event{
		Type:    engine.EventPlayTick,
		Payload: map[string]any{"dt": 0.016},
	})

	ticks := tb.lastSandbox(t).sentOfType("tick")
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	if got := ticks[0]["dt"]; got != 0.016 {
		t.Errorf("first tick dt = %v, want 0.016", got)
	}
	if got := ticks[0]["elapsed"]; got != 0.016 {
		t.Errorf("first tick elapsed = %v, want 0.016", got)
	}
}

func TestTickWithoutSessionIsDropped(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.Dispatch(engine.Event{
		Type:    engine.EventPlayTick,
		Payload: map[string]any{"dt": 0.016},
	})
	if got := tb.sandboxCount(); got != 0 {
		t.Errorf("a tick created %d sandboxes", got)
	}
}

func TestWatchdogFaultStopsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchdogTimeout = 20 * time.Millisecond
	tb := newTestBridge(t, cfg)
	tb.store.SetMode(state.ModePlay)
	tb.bridge.StartSession()
	sb := tb.lastSandbox(t)

	// A tick arms the watchdog; the sandbox never answers.
	tb.bridge.Dispatch(engine.Event{Type: engine.EventPlayTick, Payload: map[string]any{"dt": 0.016}})

	eventually(t, time.Second, sb.isTerminated, "watchdog never terminated the sandbox")
	eventually(t, time.Second, func() bool {
		return tb.store.Mode() == state.ModeEdit
	}, "mode was not forced back to edit")

	if diff := cmp.Diff([]string{"stop"}, tb.engine.commands()); diff != "" {
		t.Errorf("engine commands mismatch (-want +got):\n%s", diff)
	}
	lines := tb.console.Buffered("bridge")
	if len(lines) != 1 {
		t.Errorf("expected 1 watchdog console line, got %v", lines)
	}

	// The system recovers: a new session can start.
	tb.bridge.StartSession()
	if got := tb.sandboxCount(); got != 2 {
		t.Errorf("expected a fresh sandbox after the fault, got %d", got)
	}
}

func TestAnySandboxMessageDisarmsWatchdog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchdogTimeout = 50 * time.Millisecond
	tb := newTestBridge(t, cfg)
	tb.store.SetMode(state.ModePlay)
	tb.bridge.StartSession()
	sb := tb.lastSandbox(t)

	tb.bridge.Dispatch(engine.Event{Type: engine.EventPlayTick, Payload: map[string]any{"dt": 0.016}})
	sb.emit(js.Outbound{Type: "ack"})

	time.Sleep(4 * cfg.WatchdogTimeout)
	if sb.isTerminated() {
		t.Error("watchdog fired despite a liveness ack")
	}
	if got := tb.store.Mode(); got != state.ModePlay {
		t.Errorf("mode = %q, want play", got)
	}
}

func TestStaleSessionMessagesAreNotLiveness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchdogTimeout = 50 * time.Millisecond
	tb := newTestBridge(t, cfg)
	tb.store.SetMode(state.ModePlay)

	tb.bridge.StartSession()
	old := tb.lastSandbox(t)
	old.holdOutOpen = true
	tb.bridge.StopSession()

	tb.bridge.StartSession()
	fresh := tb.lastSandbox(t)

	// The dead session keeps chattering while the live one is silent.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case old.out <- js.Outbound{Type: "ack"}:
			case <-stop:
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	tb.bridge.Dispatch(engine.Event{Type: engine.EventPlayTick, Payload: map[string]any{"dt": 0.016}})

	eventually(t, time.Second, fresh.isTerminated,
		"watchdog never fired despite silence from the live sandbox")
	eventually(t, time.Second, func() bool {
		return tb.store.Mode() == state.ModeEdit
	}, "mode was not forced back to edit")
}

func TestStaleSessionMessagesAreNotRouted(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StartSession()
	old := tb.lastSandbox(t)
	old.holdOutOpen = true
	tb.bridge.StopSession()
	if got := tb.store.HUD(); got != nil {
		t.Fatalf("HUD = %v after stop, want nil", got)
	}

	old.emit(js.Outbound{Type: "ui", Elements: []map[string]any{{"kind": "label"}}})
	old.emit(js.Outbound{Type: "commands", Commands: []js.Command{{Name: "set_transform"}}})
	old.emit(js.Outbound{Type: "log", EntityID: "e1", Message: "from the grave"})

	time.Sleep(50 * time.Millisecond)
	if got := tb.store.HUD(); got != nil {
		t.Errorf("a dead session's ui message resurrected the HUD: %v", got)
	}
	if got := tb.engine.commands(); len(got) != 0 {
		t.Errorf("a dead session's commands reached the engine: %v", got)
	}
	if got := tb.console.Buffered("e1"); got != nil {
		t.Errorf("a dead session's log reached the console: %v", got)
	}
}

func TestDialogueActionsDuckAudio(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StartSession()
	sb := tb.lastSandbox(t)

	sb.emit(js.Outbound{Type: "dialogue_start", Fields: map[string]any{"node": "intro"}})
	eventually(t, time.Second, func() bool {
		return tb.store.Dialogue().Active
	}, "dialogue never started")

	sb.emit(js.Outbound{Type: "dialogue_advance", Fields: map[string]any{}})
	sb.emit(js.Outbound{Type: "dialogue_end", Fields: map[string]any{}})
	eventually(t, time.Second, func() bool {
		return !tb.store.Dialogue().Active
	}, "dialogue never ended")

	want := []mixerCall{
		{Method: "Duck", Args: []any{dialogueDuckFactor, dialogueDuckMs}},
		{Method: "Unduck", Args: []any{dialogueDuckMs}},
	}
	if diff := cmp.Diff(want, tb.mixer.recorded()); diff != "" {
		t.Errorf("mixer calls mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptLogsReachConsole(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.StartSession()
	sb := tb.lastSandbox(t)

	sb.emit(js.Outbound{Type: "log", EntityID: "e1", Message: "hello"})
	sb.emit(js.Outbound{Type: "error", EntityID: "e1", Message: "boom"})
	eventually(t, time.Second, func() bool {
		return len(tb.console.Buffered("e1")) == 2
	}, "console lines never arrived")

	want := []string{"hello", "error: boom"}
	if diff := cmp.Diff(want, tb.console.Buffered("e1")); diff != "" {
		t.Errorf("console lines mismatch (-want +got):\n%s", diff)
	}
}
