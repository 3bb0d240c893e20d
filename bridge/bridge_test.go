package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/protolith/scenebridge/engine"
	"github.com/protolith/scenebridge/js"
	"github.com/protolith/scenebridge/state"
)

// engineCall records one command that reached the fake engine.
type engineCall struct {
	Name    string
	Payload map[string]any
}

type fakeEngine struct {
	mu        sync.Mutex
	calls     []engineCall
	cb        func(engine.Event)
	onCommand func(name string)
}

func (e *fakeEngine) HandleCommand(name string, payload map[string]any) error {
	e.mu.Lock()
	e.calls = append(e.calls, engineCall{Name: name, Payload: payload})
	hook := e.onCommand
	e.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return nil
}

func (e *fakeEngine) OnEvent(cb func(engine.Event)) {
	e.cb = cb
}

func (e *fakeEngine) commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.calls))
	for _, call := range e.calls {
		names = append(names, call.Name)
	}
	return names
}

// mixerCall records one method invocation on the fake mixer.
type mixerCall struct {
	Method string
	Args   []any
}

type fakeMixer struct {
	mu    sync.Mutex
	calls []mixerCall
}

func (m *fakeMixer) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mixerCall{Method: method, Args: args})
}

func (m *fakeMixer) AddLayer(id string, source string, volume float64, loop bool) {
	m.record("AddLayer", id, source, volume, loop)
}
func (m *fakeMixer) RemoveLayer(id string)    { m.record("RemoveLayer", id) }
func (m *fakeMixer) RemoveAllLayers()         { m.record("RemoveAllLayers") }
func (m *fakeMixer) PlayOneShot(source string, volume float64) {
	m.record("PlayOneShot", source, volume)
}
func (m *fakeMixer) Crossfade(fromEntityID string, toEntityID string, durationMs int) {
	m.record("Crossfade", fromEntityID, toEntityID, durationMs)
}
func (m *fakeMixer) FadeIn(id string, durationMs int)  { m.record("FadeIn", id, durationMs) }
func (m *fakeMixer) FadeOut(id string, durationMs int) { m.record("FadeOut", id, durationMs) }
func (m *fakeMixer) Duck(factor float64, durationMs int) {
	m.record("Duck", factor, durationMs)
}
func (m *fakeMixer) Unduck(durationMs int) { m.record("Unduck", durationMs) }

func (m *fakeMixer) recorded() []mixerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mixerCall{}, m.calls...)
}

type fakeSceneStore struct {
	mu          sync.Mutex
	saved       [][]state.SceneRef
	savedActive []string
	data        map[string][]byte
	saveErr     error
}

func newFakeSceneStore() *fakeSceneStore {
	return &fakeSceneStore{data: map[string][]byte{}}
}

func (s *fakeSceneStore) SaveScenes(ctx context.Context, refs []state.SceneRef, activeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, append([]state.SceneRef{}, refs...))
	s.savedActive = append(s.savedActive, activeID)
	return nil
}

func (s *fakeSceneStore) SetSceneData(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = data
	return nil
}

func (s *fakeSceneStore) SceneData(ctx context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, found := s.data[id]
	return data, found, nil
}

type fakeScripts struct {
	mu       sync.Mutex
	scripts  []js.Script
	received []js.Script
}

func (f *fakeScripts) Snapshot() []js.Script {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]js.Script{}, f.scripts...)
}

func (f *fakeScripts) Put(script js.Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, script)
}

// fakeSandbox records inbound messages and lets tests feed the
// outbound stream by hand. holdOutOpen keeps the outbound channel
// writable past Terminate, for tests that replay a dead session's
// leftover output.
type fakeSandbox struct {
	mu          sync.Mutex
	sent        []map[string]any
	out         chan js.Outbound
	terminated  bool
	holdOutOpen bool
	closeOnce   sync.Once
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{out: make(chan js.Outbound, 64)}
}

func (s *fakeSandbox) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := msg.(map[string]any); ok {
		s.sent = append(s.sent, m)
	}
	return nil
}

func (s *fakeSandbox) Out() <-chan js.Outbound {
	return s.out
}

func (s *fakeSandbox) Terminate() {
	s.mu.Lock()
	s.terminated = true
	hold := s.holdOutOpen
	s.mu.Unlock()
	if !hold {
		s.closeOnce.Do(func() { close(s.out) })
	}
}

func (s *fakeSandbox) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// emit feeds one outbound message as if the worker produced it.
func (s *fakeSandbox) emit(o js.Outbound) {
	s.out <- o
}

func (s *fakeSandbox) sentMessages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any{}, s.sent...)
}

func (s *fakeSandbox) sentOfType(typ string) []map[string]any {
	result := []map[string]any{}
	for _, msg := range s.sentMessages() {
		if msg["type"] == typ {
			result = append(result, msg)
		}
	}
	return result
}

type testBridge struct {
	bridge  *Bridge
	engine  *fakeEngine
	mixer   *fakeMixer
	scenes  *fakeSceneStore
	scripts *fakeScripts
	console *Console
	store   *state.Store

	mu        sync.Mutex
	sandboxes []*fakeSandbox
}

func (tb *testBridge) lastSandbox(t *testing.T) *fakeSandbox {
	t.Helper()
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.sandboxes) == 0 {
		t.Fatal("no sandbox was created")
	}
	return tb.sandboxes[len(tb.sandboxes)-1]
}

func (tb *testBridge) sandboxCount() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.sandboxes)
}

func newTestBridge(t *testing.T, cfg Config, opts ...Option) *testBridge {
	t.Helper()
	tb := &testBridge{
		engine:  &fakeEngine{},
		mixer:   &fakeMixer{},
		scenes:  newFakeSceneStore(),
		scripts: &fakeScripts{},
		console: NewConsole(),
		store:   state.NewStore(),
	}
	opts = append([]Option{
		WithSandboxFactory(func() Sandbox {
			s := newFakeSandbox()
			tb.mu.Lock()
			tb.sandboxes = append(tb.sandboxes, s)
			tb.mu.Unlock()
			return s
		}),
	}, opts...)
	tb.bridge = New(
		cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		tb.engine,
		tb.store,
		tb.mixer,
		tb.scenes,
		tb.scripts,
		tb.console,
		opts...,
	)
	t.Cleanup(tb.bridge.StopSession)
	return tb
}

// eventually polls until cond holds or the deadline passes.
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}
