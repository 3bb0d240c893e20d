// Package engine defines the contract with the external simulation
// engine: a command entry point and a single serial event callback.
// The engine itself is an opaque collaborator; the bridge only knows
// this surface.
package engine

// EventType tags a notification emitted by the engine. Every tag is
// handled by exactly one dispatcher handler on the bridge side.
type EventType string

const (
	EventEngineReady           EventType = "ENGINE_READY"
	EventEngineModeChanged     EventType = "ENGINE_MODE_CHANGED"
	EventPlayTick              EventType = "PLAY_TICK"
	EventSceneGraphUpdate      EventType = "SCENE_GRAPH_UPDATE"
	EventSelectionChanged      EventType = "SELECTION_CHANGED"
	EventCoordinateModeChanged EventType = "COORDINATE_MODE_CHANGED"
	EventEntitySpawned         EventType = "ENTITY_SPAWNED"
	EventEntityDespawned       EventType = "ENTITY_DESPAWNED"
	EventEntityTransform       EventType = "ENTITY_TRANSFORM_CHANGED"
	EventEntityRenamed         EventType = "ENTITY_RENAMED"
	EventMaterialUpdated       EventType = "MATERIAL_UPDATED"
	EventPhysicsPaused         EventType = "PHYSICS_PAUSED"
	EventPhysicsResumed        EventType = "PHYSICS_RESUMED"
	EventCollisionStart        EventType = "COLLISION_START"
	EventCollisionEnd          EventType = "COLLISION_END"
	EventTriggerEnter          EventType = "TRIGGER_ENTER"
	EventTriggerExit           EventType = "TRIGGER_EXIT"
	EventAudioStarted          EventType = "AUDIO_STARTED"
	EventAudioStopped          EventType = "AUDIO_STOPPED"
	EventAnimationStarted      EventType = "ANIMATION_STARTED"
	EventAnimationFinished     EventType = "ANIMATION_FINISHED"
	EventCameraMoved           EventType = "CAMERA_MOVED"
	EventAssetLoaded           EventType = "ASSET_LOADED"
	EventAssetLoadFailed       EventType = "ASSET_LOAD_FAILED"
	EventSceneExported         EventType = "SCENE_EXPORTED"
	EventSceneLoaded           EventType = "SCENE_LOADED"
	EventSceneSaveRequested    EventType = "SCENE_SAVE_REQUESTED"
	EventSceneTransition       EventType = "SCENE_TRANSITION_REQUESTED"
	EventScriptUpdated         EventType = "SCRIPT_UPDATED"
	EventInputStateChanged     EventType = "INPUT_STATE_CHANGED"
	EventGizmoDragStarted      EventType = "GIZMO_DRAG_STARTED"
	EventGizmoDragEnded        EventType = "GIZMO_DRAG_ENDED"
	EventSnapSettingsChanged   EventType = "SNAP_SETTINGS_CHANGED"
	EventGridVisibility        EventType = "GRID_VISIBILITY_CHANGED"
	EventViewportResized       EventType = "VIEWPORT_RESIZED"
	EventHierarchyReordered    EventType = "HIERARCHY_REORDERED"
	EventPrefabApplied         EventType = "PREFAB_APPLIED"
	EventUndoApplied           EventType = "UNDO_APPLIED"
	EventRedoApplied           EventType = "REDO_APPLIED"
	EventStatsUpdate           EventType = "STATS_UPDATE"
	EventEngineError           EventType = "ENGINE_ERROR"
	EventEngineWarning         EventType = "ENGINE_WARNING"
)

// Event is one engine notification. Payload keys depend on the tag;
// PLAY_TICK carries "entities", "entityInfos" and "inputState".
type Event struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Engine is what the bridge sees of the simulation engine.
//
// HandleCommand may fail; callers catch and log, never propagate.
// OnEvent registers the single event callback; implementations must
// invoke it with one event at a time, in arrival order.
type Engine interface {
	HandleCommand(name string, payload map[string]any) error
	OnEvent(cb func(Event))
}
