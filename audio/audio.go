// Package audio is the bridge-side audio subsystem. Layer management,
// crossfades, one-shots and ducking are resolved here; none of it is
// ever forwarded to the engine. Volumes are modelled as timed ramps so
// callers can read the effective level at any instant without a mixer
// goroutine.
package audio

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

type ramp struct {
	from     float64
	to       float64
	start    time.Time
	duration time.Duration
}

func (r ramp) at(now time.Time) float64 {
	if r.duration <= 0 {
		return r.to
	}
	frac := float64(now.Sub(r.start)) / float64(r.duration)
	if frac <= 0 {
		return r.from
	}
	if frac >= 1 {
		return r.to
	}
	return r.from + (r.to-r.from)*frac
}

type Layer struct {
	ID     string
	Source string
	Loop   bool
	volume ramp
}

// Volume reports the layer's ramped volume at now, before ducking.
func (l *Layer) Volume(now time.Time) float64 {
	return l.volume.at(now)
}

type OneShot struct {
	Source    string
	Volume    float64
	StartedAt time.Time
}

// Mixer tracks layered audio state. It is shared between the Local
// Command Handlers and host UI actions, so every method locks.
type Mixer struct {
	log *slog.Logger

	mu       sync.Mutex
	layers   map[string]*Layer
	order    []string
	oneShots []OneShot
	duck     ramp
	now      func() time.Time
}

func NewMixer(log *slog.Logger) *Mixer {
	return &Mixer{
		log:    log,
		layers: map[string]*Layer{},
		duck:   ramp{from: 1, to: 1},
		now:    time.Now,
	}
}

func (m *Mixer) AddLayer(id string, source string, volume float64, loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.layers[id]; !exists {
		m.order = append(m.order, id)
	}
	m.layers[id] = &Layer{
		ID:     id,
		Source: source,
		Loop:   loop,
		volume: ramp{from: volume, to: volume, start: m.now()},
	}
}

func (m *Mixer) RemoveLayer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.layers[id]; !exists {
		return
	}
	delete(m.layers, id)
	m.order = slices.DeleteFunc(m.order, func(o string) bool { return o == id })
}

func (m *Mixer) RemoveAllLayers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = map[string]*Layer{}
	m.order = nil
}

// Crossfade ramps the layer owned by fromEntityID down to zero and the
// one owned by toEntityID up to full over durationMs. Missing layers
// are logged and skipped so a script can't wedge the mixer.
func (m *Mixer) Crossfade(fromEntityID string, toEntityID string, durationMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dur := time.Duration(durationMs) * time.Millisecond
	if from, found := m.layers[fromEntityID]; found {
		from.volume = ramp{from: from.volume.at(now), to: 0, start: now, duration: dur}
	} else {
		m.log.Warn("crossfade source layer missing", "layer", fromEntityID)
	}
	if to, found := m.layers[toEntityID]; found {
		to.volume = ramp{from: to.volume.at(now), to: 1, start: now, duration: dur}
	} else {
		m.log.Warn("crossfade target layer missing", "layer", toEntityID)
	}
}

func (m *Mixer) PlayOneShot(source string, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShots = append(m.oneShots, OneShot{Source: source, Volume: volume, StartedAt: m.now()})
}

func (m *Mixer) FadeIn(id string, durationMs int) {
	m.fadeTo(id, 1, durationMs)
}

func (m *Mixer) FadeOut(id string, durationMs int) {
	m.fadeTo(id, 0, durationMs)
}

func (m *Mixer) fadeTo(id string, target float64, durationMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	layer, found := m.layers[id]
	if !found {
		m.log.Warn("fade on missing layer", "layer", id)
		return
	}
	now := m.now()
	layer.volume = ramp{
		from:     layer.volume.at(now),
		to:       target,
		start:    now,
		duration: time.Duration(durationMs) * time.Millisecond,
	}
}

// Duck attenuates every layer by factor (0..1) over durationMs. Used
// while dialogue is active.
func (m *Mixer) Duck(factor float64, durationMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.duck = ramp{
		from:     m.duck.at(now),
		to:       factor,
		start:    now,
		duration: time.Duration(durationMs) * time.Millisecond,
	}
}

func (m *Mixer) Unduck(durationMs int) {
	m.Duck(1, durationMs)
}

// Ducking reports the current attenuation multiplier.
func (m *Mixer) Ducking() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duck.at(m.now())
}

// EffectiveVolume is the layer's ramped volume multiplied by the
// current ducking level.
func (m *Mixer) EffectiveVolume(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	layer, found := m.layers[id]
	if !found {
		return 0, false
	}
	now := m.now()
	return layer.volume.at(now) * m.duck.at(now), true
}

// Layers returns the layer set in insertion order.
func (m *Mixer) Layers() []Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Layer, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, *m.layers[id])
	}
	return result
}

func (m *Mixer) OneShots() []OneShot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.oneShots)
}
