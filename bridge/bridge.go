// Package bridge connects sandboxed entity scripts to the simulation
// engine: it owns the play-session sandbox lifecycle, forwards frame
// ticks with a liveness watchdog, enforces the command allow-list,
// dispatches engine events into state projections, and orchestrates
// scene transitions.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/protolith/scenebridge/engine"
	"github.com/protolith/scenebridge/js"
	"github.com/protolith/scenebridge/state"
)

// Sandbox is what the bridge needs from an isolated script context.
// js.Sandbox satisfies it; tests substitute fakes.
type Sandbox interface {
	Send(msg any) error
	Out() <-chan js.Outbound
	Terminate()
}

type SandboxFactory func() Sandbox

// AudioMixer is the audio subsystem targeted by the Local Command
// Handlers. audio.Mixer satisfies it.
type AudioMixer interface {
	AddLayer(id string, source string, volume float64, loop bool)
	RemoveLayer(id string)
	RemoveAllLayers()
	Crossfade(fromEntityID string, toEntityID string, durationMs int)
	PlayOneShot(source string, volume float64)
	FadeIn(id string, durationMs int)
	FadeOut(id string, durationMs int)
	Duck(factor float64, durationMs int)
	Unduck(durationMs int)
}

// SceneStore persists the scene list and exported scene payloads.
// storage.Store satisfies it.
type SceneStore interface {
	SaveScenes(ctx context.Context, refs []state.SceneRef, activeID string) error
	SetSceneData(ctx context.Context, id string, data []byte) error
	SceneData(ctx context.Context, id string) ([]byte, bool, error)
}

// ScriptProvider is the local script cache the session snapshot falls
// back to; the bridge never asks the engine for a canonical list.
type ScriptProvider interface {
	Snapshot() []js.Script
	Put(script js.Script)
}

type Config struct {
	// WatchdogTimeout bounds the gap between a forwarded tick and
	// the next sandbox-originated message.
	WatchdogTimeout time.Duration
	// StopGrace and ExportGrace bound how long a scene transition
	// waits for the engine to acknowledge "stop" and "export_scene"
	// before proceeding anyway.
	StopGrace        time.Duration
	ExportGrace      time.Duration
	AutosaveDebounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		WatchdogTimeout:  5 * time.Second,
		StopGrace:        250 * time.Millisecond,
		ExportGrace:      500 * time.Millisecond,
		AutosaveDebounce: 2 * time.Second,
	}
}

type Bridge struct {
	cfg        Config
	log        *slog.Logger
	engine     engine.Engine
	store      *state.Store
	audio      AudioMixer
	scenes     SceneStore
	scripts    ScriptProvider
	console    *Console
	handlers   map[engine.EventType]handlerEntry
	newSandbox SandboxFactory
	sleep      func(context.Context, time.Duration)

	mu       sync.Mutex
	session  *session
	watchdog *time.Timer
	autosave *time.Timer
	acks     map[engine.EventType][]chan struct{}
}

type Option func(*Bridge)

// WithSandboxFactory overrides how isolated contexts are created.
func WithSandboxFactory(f SandboxFactory) Option {
	return func(b *Bridge) { b.newSandbox = f }
}

// WithSleep overrides the transition orchestrator's delay primitive.
func WithSleep(f func(context.Context, time.Duration)) Option {
	return func(b *Bridge) { b.sleep = f }
}

func New(
	cfg Config,
	log *slog.Logger,
	eng engine.Engine,
	store *state.Store,
	mixer AudioMixer,
	scenes SceneStore,
	scripts ScriptProvider,
	console *Console,
	opts ...Option,
) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		log:     log,
		engine:  eng,
		store:   store,
		audio:   mixer,
		scenes:  scenes,
		scripts: scripts,
		console: console,
		acks:    map[engine.EventType][]chan struct{}{},
	}
	b.newSandbox = func() Sandbox {
		return js.New(js.Options{Log: log})
	}
	b.sleep = func(ctx context.Context, d time.Duration) {
		if d <= 0 {
			return
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	b.handlers = handlerTable()
	for _, opt := range opts {
		opt(b)
	}
	eng.OnEvent(b.Dispatch)
	return b
}

// command sends one engine command, catching and logging failure.
// Engine call failures are never propagated.
func (b *Bridge) command(name string, payload map[string]any) {
	if err := b.engine.HandleCommand(name, payload); err != nil {
		b.log.Warn("engine command failed", "command", name, "error", err)
	}
}

// ackWaiter registers interest in the next event of the given type
// and returns the blocking wait. Registration is split from waiting
// so callers can register before issuing the command the event
// answers; an ack landing in that gap is buffered, not missed. The
// wait returns on the ack, on the grace period, or on ctx; the fixed
// grace is a best-effort substitute kept for engines that never
// acknowledge.
func (b *Bridge) ackWaiter(typ engine.EventType, grace time.Duration) func(context.Context) {
	if grace <= 0 {
		return func(context.Context) {}
	}
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.acks[typ] = append(b.acks[typ], ch)
	b.mu.Unlock()
	return func(ctx context.Context) {
		defer func() {
			b.mu.Lock()
			waiters := b.acks[typ][:0]
			for _, w := range b.acks[typ] {
				if w != ch {
					waiters = append(waiters, w)
				}
			}
			b.acks[typ] = waiters
			b.mu.Unlock()
		}()

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-ch:
		case <-timer.C:
		case <-ctx.Done():
		}
	}
}

func (b *Bridge) signalAck(typ engine.EventType) {
	b.mu.Lock()
	waiters := b.acks[typ]
	delete(b.acks, typ)
	b.mu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
