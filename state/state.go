// Package state holds the slice of the editor's flat projection that
// the script bridge reads and writes: engine mode, scenes, selection,
// scene graph, HUD, camera, dialogue and the scene transition state.
// All writes happen on the host side; the sandbox never touches it.
package state

import (
	"maps"
	"slices"
	"sync"
)

type Mode string

const (
	ModeEdit   Mode = "edit"
	ModePlay   Mode = "play"
	ModePaused Mode = "paused"
)

type SceneRef struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type TransitionType string

const (
	TransitionFade    TransitionType = "fade"
	TransitionWipe    TransitionType = "wipe"
	TransitionInstant TransitionType = "instant"
)

type TransitionConfig struct {
	Type       TransitionType `json:"type"`
	DurationMs int            `json:"durationMs"`
	Color      string         `json:"color"`
	Easing     string         `json:"easing"`
}

func DefaultTransitionConfig() TransitionConfig {
	return TransitionConfig{
		Type:       TransitionFade,
		DurationMs: 600,
		Color:      "#000000",
		Easing:     "ease-in-out",
	}
}

// Merge overlays the non-zero fields of override onto c.
func (c TransitionConfig) Merge(override *TransitionConfig) TransitionConfig {
	if override == nil {
		return c
	}
	if override.Type != "" {
		c.Type = override.Type
	}
	if override.DurationMs != 0 {
		c.DurationMs = override.DurationMs
	}
	if override.Color != "" {
		c.Color = override.Color
	}
	if override.Easing != "" {
		c.Easing = override.Easing
	}
	return c
}

// Transition is the overlay state machine. Invariant: Active == false
// implies Config == nil and TargetScene == "".
type Transition struct {
	Active      bool              `json:"active"`
	Config      *TransitionConfig `json:"config"`
	TargetScene string            `json:"targetScene"`
}

type CameraShake struct {
	Intensity  float64 `json:"intensity"`
	DurationMs int     `json:"durationMs"`
}

type Camera struct {
	Mode       string         `json:"mode"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties"`
	Shake      *CameraShake   `json:"shake"`
}

type Dialogue struct {
	Active    bool           `json:"active"`
	Node      string         `json:"node"`
	Line      int            `json:"line"`
	Variables map[string]any `json:"variables"`
}

// Store is the projection store. Getters return copies; mutation goes
// through setters so the mutex never leaks.
type Store struct {
	mu             sync.RWMutex
	mode           Mode
	coordinateMode string
	scenes         []SceneRef
	activeScene    string
	sceneGraph     map[string]any
	entityInfos    map[string]any
	selection      []string
	primary        string
	hud            []map[string]any
	camera         Camera
	dialogue       Dialogue
	transition     Transition
}

func NewStore() *Store {
	return &Store{
		mode:       ModeEdit,
		sceneGraph: map[string]any{},
	}
}

func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode returns the previous mode so callers can act on the edge.
func (s *Store) SetMode(m Mode) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.mode
	s.mode = m
	return prev
}

func (s *Store) Scenes() []SceneRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.scenes)
}

func (s *Store) SetScenes(refs []SceneRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = slices.Clone(refs)
}

func (s *Store) ActiveScene() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeScene
}

func (s *Store) SetActiveScene(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeScene = id
}

// SceneByNameOrID resolves a transition target to a canonical scene.
func (s *Store) SceneByNameOrID(target string) (SceneRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ref := range s.scenes {
		if ref.ID == target || ref.Name == target {
			return ref, true
		}
	}
	return SceneRef{}, false
}

func (s *Store) SceneNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scenes))
	for _, ref := range s.scenes {
		names = append(names, ref.Name)
	}
	return names
}

func (s *Store) ReplaceSceneGraph(graph map[string]any, entityInfos map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sceneGraph = maps.Clone(graph)
	s.entityInfos = maps.Clone(entityInfos)
}

func (s *Store) SceneGraph() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.sceneGraph)
}

func (s *Store) EntityInfos() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entityInfos)
}

func (s *Store) SetSelection(ids []string, primary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = slices.Clone(ids)
	s.primary = primary
}

func (s *Store) Selection() ([]string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.selection), s.primary
}

func (s *Store) SetCoordinateMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinateMode = mode
}

func (s *Store) CoordinateMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinateMode
}

func (s *Store) SetHUD(elements []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hud = elements
}

func (s *Store) HUD() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.hud)
}

func (s *Store) SetCameraMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera.Mode = mode
}

func (s *Store) SetCameraTarget(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera.Target = entityID
}

func (s *Store) SetCameraShake(shake CameraShake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera.Shake = &shake
}

func (s *Store) SetCameraProperty(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.camera.Properties == nil {
		s.camera.Properties = map[string]any{}
	}
	s.camera.Properties[name] = value
}

func (s *Store) Camera() Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.camera
	c.Properties = maps.Clone(s.camera.Properties)
	if s.camera.Shake != nil {
		shake := *s.camera.Shake
		c.Shake = &shake
	}
	return c
}

func (s *Store) StartDialogue(node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogue.Active = true
	s.dialogue.Node = node
	s.dialogue.Line = 0
}

func (s *Store) AdvanceDialogue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialogue.Active {
		s.dialogue.Line++
	}
}

func (s *Store) EndDialogue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogue.Active = false
	s.dialogue.Node = ""
	s.dialogue.Line = 0
}

func (s *Store) SetDialogueVariable(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialogue.Variables == nil {
		s.dialogue.Variables = map[string]any{}
	}
	s.dialogue.Variables[name] = value
}

func (s *Store) Dialogue() Dialogue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.dialogue
	d.Variables = maps.Clone(s.dialogue.Variables)
	return d
}

// BeginTransition flips the transition state machine from idle to
// active. Returns false without mutating if a transition is already
// in flight.
func (s *Store) BeginTransition(cfg TransitionConfig, targetScene string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transition.Active {
		return false
	}
	s.transition = Transition{
		Active:      true,
		Config:      &cfg,
		TargetScene: targetScene,
	}
	return true
}

// EndTransition resets to idle, restoring the Active=false invariant.
func (s *Store) EndTransition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition = Transition{}
}

func (s *Store) TransitionState() Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.transition
	if s.transition.Config != nil {
		cfg := *s.transition.Config
		t.Config = &cfg
	}
	return t
}
