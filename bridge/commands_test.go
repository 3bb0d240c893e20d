package bridge

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/protolith/scenebridge/js"
)

func TestRouteCommandsPartition(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.routeCommands([]js.Command{
		{Name: "audio_play_one_shot", Payload: map[string]any{"source": "boom.ogg", "volume": 0.5}},
		{Name: "set_transform", Payload: map[string]any{"entityId": "e1", "x": 1.0}},
		{Name: "delete_asset", Payload: map[string]any{"assetId": "a1"}},
		{Name: "apply_impulse", Payload: map[string]any{"entityId": "e1"}},
	})

	// Only the two allow-listed commands reach the engine, in batch order.
	wantForwarded := []string{"set_transform", "apply_impulse"}
	if diff := cmp.Diff(wantForwarded, tb.engine.commands()); diff != "" {
		t.Errorf("forwarded commands mismatch (-want +got):\n%s", diff)
	}

	// The local audio command hit the mixer and was never forwarded.
	wantMixer := []mixerCall{{Method: "PlayOneShot", Args: []any{"boom.ogg", 0.5}}}
	if diff := cmp.Diff(wantMixer, tb.mixer.recorded()); diff != "" {
		t.Errorf("mixer calls mismatch (-want +got):\n%s", diff)
	}

	// The unknown command surfaced on the console.
	lines := tb.console.Buffered("bridge")
	if len(lines) != 1 || !strings.Contains(lines[0], "delete_asset") {
		t.Errorf("expected a blocked-command console line, got %v", lines)
	}
}

func TestRouteCommandsAllowListIsExact(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.routeCommands([]js.Command{
		{Name: "Set_Transform"},
		{Name: "set_transform "},
		{Name: ""},
	})
	if got := tb.engine.commands(); len(got) != 0 {
		t.Errorf("no command should have been forwarded, got %v", got)
	}
	if lines := tb.console.Buffered("bridge"); len(lines) != 3 {
		t.Errorf("expected 3 blocked-command lines, got %v", lines)
	}
}

func TestHandleLocalCrossfadeArguments(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.routeCommands([]js.Command{{
		Name: "audio_crossfade",
		Payload: map[string]any{
			"fromEntityId": "forest",
			"toEntityId":   "cave",
			"durationMs":   1500.0,
		},
	}})

	want := []mixerCall{{Method: "Crossfade", Args: []any{"forest", "cave", 1500}}}
	if diff := cmp.Diff(want, tb.mixer.recorded()); diff != "" {
		t.Errorf("mixer calls mismatch (-want +got):\n%s", diff)
	}
	if got := tb.engine.commands(); len(got) != 0 {
		t.Errorf("local command leaked to the engine: %v", got)
	}
}

func TestHandleLocalLayerDefaults(t *testing.T) {
	tb := newTestBridge(t, DefaultConfig())
	tb.bridge.routeCommands([]js.Command{
		{Name: "audio_add_layer", Payload: map[string]any{"layerId": "music", "source": "theme.ogg"}},
		{Name: "audio_fade_out", Payload: map[string]any{"layerId": "music", "durationMs": 250.0}},
		{Name: "audio_remove_all_layers", Payload: map[string]any{}},
	})

	want := []mixerCall{
		{Method: "AddLayer", Args: []any{"music", "theme.ogg", 1.0, false}},
		{Method: "FadeOut", Args: []any{"music", 250}},
		{Method: "RemoveAllLayers", Args: nil},
	}
	if diff := cmp.Diff(want, tb.mixer.recorded()); diff != "" {
		t.Errorf("mixer calls mismatch (-want +got):\n%s", diff)
	}
}
