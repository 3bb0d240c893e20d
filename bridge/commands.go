package bridge

import (
	"github.com/protolith/scenebridge/js"
)

// allowedCommands is the security boundary: the only command names a
// sandboxed script may cause to reach the engine. Scripts are
// arbitrary user content and the sandbox wire protocol is generic
// key/value, so anything not named here is dropped.
var allowedCommands = map[string]struct{}{
	"set_transform":       {},
	"spawn_entity":        {},
	"despawn_entity":      {},
	"set_visibility":      {},
	"update_material":     {},
	"apply_force":         {},
	"set_velocity":        {},
	"apply_impulse":       {},
	"play_audio":          {},
	"stop_audio":          {},
	"set_audio_volume":    {},
	"play_animation":      {},
	"set_animation_speed": {},
	"stop_animation":      {},
	"camera_follow":       {},
	"camera_stop_follow":  {},
	"camera_set_position": {},
	"camera_look_at":      {},
}

// routeCommands partitions one sandbox command batch: locally handled
// audio commands first, then allow-listed forwards, then drops.
// Order within the batch is preserved for forwarded commands.
func (b *Bridge) routeCommands(cmds []js.Command) {
	for _, cmd := range cmds {
		if b.handleLocal(cmd) {
			continue
		}
		if _, ok := allowedCommands[cmd.Name]; ok {
			b.command(cmd.Name, cmd.Payload)
			continue
		}
		b.log.Warn("dropping command not on allow-list", "command", cmd.Name)
		b.console.Broadcast("blocked command: " + cmd.Name)
	}
}

// handleLocal satisfies audio layering commands entirely inside the
// bridge. Returns false if the command is not locally handled.
func (b *Bridge) handleLocal(cmd js.Command) bool {
	p := cmd.Payload
	switch cmd.Name {
	case "audio_add_layer":
		b.audio.AddLayer(
			payloadString(p, "layerId"),
			payloadString(p, "source"),
			payloadFloat(p, "volume", 1),
			payloadBool(p, "loop"),
		)
	case "audio_remove_layer":
		b.audio.RemoveLayer(payloadString(p, "layerId"))
	case "audio_remove_all_layers":
		b.audio.RemoveAllLayers()
	case "audio_crossfade":
		b.audio.Crossfade(
			payloadString(p, "fromEntityId"),
			payloadString(p, "toEntityId"),
			payloadInt(p, "durationMs", 0),
		)
	case "audio_play_one_shot":
		b.audio.PlayOneShot(
			payloadString(p, "source"),
			payloadFloat(p, "volume", 1),
		)
	case "audio_fade_in":
		b.audio.FadeIn(payloadString(p, "layerId"), payloadInt(p, "durationMs", 0))
	case "audio_fade_out":
		b.audio.FadeOut(payloadString(p, "layerId"), payloadInt(p, "durationMs", 0))
	default:
		return false
	}
	return true
}

// Payload values come off the JSON wire, so numbers are float64.

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadFloat(p map[string]any, key string, fallback float64) float64 {
	if f, ok := p[key].(float64); ok {
		return f
	}
	return fallback
}

func payloadInt(p map[string]any, key string, fallback int) int {
	if f, ok := p[key].(float64); ok {
		return int(f)
	}
	return fallback
}

func payloadBool(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}
