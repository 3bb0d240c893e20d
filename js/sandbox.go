// Package js runs untrusted, user-authored per-entity game scripts in
// an isolated V8 context. Each play session owns one Sandbox: a
// dedicated worker goroutine holding the isolate, fed through an
// inbound channel of JSON messages and drained through an outbound
// channel of typed messages. The host never shares state with the
// sandbox and never blocks on it; a wedged script is killed from the
// outside with TerminateExecution, which is the only isolate call
// that is safe from another goroutine.
package js

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/protolith/scenebridge"
	"rogchap.com/v8go"

	goccy "github.com/goccy/go-json"
)

const defaultQueueSize = 64

// Script is one entity's source snapshot, taken at session start.
// Scripts are not hot-reloaded into a running sandbox.
type Script struct {
	EntityID   string `json:"entityId"`
	Source     string `json:"source"`
	Enabled    bool   `json:"enabled"`
	TemplateID string `json:"templateId,omitempty"`
}

// Command is a sandbox request toward the engine. On the wire it is
// flattened: {"cmd": name, ...payload}.
type Command struct {
	Name    string
	Payload map[string]any
}

func (c Command) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Payload)+1)
	for k, v := range c.Payload {
		m[k] = v
	}
	m["cmd"] = c.Name
	return goccy.Marshal(m)
}

func (c *Command) UnmarshalJSON(b []byte) error {
	m := map[string]any{}
	if err := goccy.Unmarshal(b, &m); err != nil {
		return scenebridge.WithStack(err)
	}
	c.Name, _ = m["cmd"].(string)
	delete(m, "cmd")
	c.Payload = m
	return nil
}

// Outbound is one sandbox-originated message. Type selects which
// fields are populated: "commands" fills Commands, "log"/"error" fill
// EntityID and Message, "ui" fills Elements, and the structured
// action types (camera_*, scene_*, dialogue_*) fill Fields. "ack" is
// posted after every processed inbound message so the host's watchdog
// sees liveness even when a tick produces no output.
type Outbound struct {
	Type     string
	EntityID string
	Message  string
	Line     int
	Commands []Command
	Elements []map[string]any
	Fields   map[string]any
}

type Options struct {
	Log       *slog.Logger
	QueueSize int
}

type Sandbox struct {
	log  *slog.Logger
	in   chan string
	out  chan Outbound
	quit chan struct{}
	done chan struct{}
	iso  atomic.Pointer[v8go.Isolate]
	kill sync.Once
}

// New spawns the worker goroutine. The sandbox is empty until an init
// message delivers the script snapshot.
func New(opts Options) *Sandbox {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	s := &Sandbox{
		log:  opts.Log,
		in:   make(chan string, opts.QueueSize),
		out:  make(chan Outbound, opts.QueueSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Send serializes msg and queues it for the worker. It never blocks:
// if the sandbox has stopped draining its queue the message is
// rejected and the watchdog will deal with the rest.
func (s *Sandbox) Send(msg any) error {
	b, err := goccy.Marshal(msg)
	if err != nil {
		return scenebridge.WithStack(err)
	}
	select {
	case <-s.quit:
		return errors.New("sandbox terminated")
	default:
	}
	select {
	case s.in <- string(b):
		return nil
	default:
		return errors.New("sandbox input queue full")
	}
}

// Out is the stream of sandbox-originated messages. Closed when the
// worker exits.
func (s *Sandbox) Out() <-chan Outbound {
	return s.out
}

// Done is closed when the worker goroutine has fully wound down.
func (s *Sandbox) Done() <-chan struct{} {
	return s.done
}

// Terminate forcibly kills the isolate. Unconditional and immediate:
// scripts are untrusted and may not cooperate with anything gentler.
// Safe to call more than once and from any goroutine.
func (s *Sandbox) Terminate() {
	s.kill.Do(func() {
		close(s.quit)
		if iso := s.iso.Load(); iso != nil {
			iso.TerminateExecution()
		}
	})
}

func (s *Sandbox) run() {
	defer close(s.done)
	defer close(s.out)

	iso := v8go.NewIsolate()
	defer iso.Dispose()
	s.iso.Store(iso)

	// Terminate may have raced isolate creation.
	select {
	case <-s.quit:
		return
	default:
	}

	vctx := v8go.NewContext(iso)
	defer vctx.Close()

	w := &worker{
		s:         s,
		iso:       iso,
		vctx:      vctx,
		callbacks: map[string][]entityCallback{},
	}
	if err := w.install(); err != nil {
		s.log.Error("sandbox bootstrap failed", "error", err)
		return
	}

	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.in:
			if !w.handle(msg) {
				return
			}
		}
	}
}

type entityCallback struct {
	entityID string
	fn       *v8go.Function
}

type worker struct {
	s         *Sandbox
	iso       *v8go.Isolate
	vctx      *v8go.Context
	callbacks map[string][]entityCallback
	pending   []Command
	current   string
}

func (w *worker) post(o Outbound) {
	select {
	case w.s.out <- o:
	case <-w.s.quit:
	}
}

func (w *worker) throw(format string, args ...any) *v8go.Value {
	msg, err := v8go.NewValue(w.iso, fmt.Sprintf(format, args...))
	if err != nil {
		return nil
	}
	return w.iso.ThrowException(msg)
}

func (w *worker) addFunc(name string, f func(info *v8go.FunctionCallbackInfo) *v8go.Value) error {
	return scenebridge.WithStack(w.vctx.Global().Set(
		name,
		v8go.NewFunctionTemplate(w.iso, f).GetFunction(w.vctx),
	))
}

func (w *worker) install() error {
	hostFuncs := map[string]func(info *v8go.FunctionCallbackInfo) *v8go.Value{
		"addCallback":    w.addJSCallback,
		"removeCallback": w.removeJSCallback,
		"__queueCommand": w.queueCommand,
		"__post":         w.postFromJS,
		"__log":          w.logFromJS,
	}
	for name, f := range hostFuncs {
		if err := w.addFunc(name, f); err != nil {
			return scenebridge.WithStack(err)
		}
	}
	if _, err := w.vctx.RunScript(prelude, "prelude.js"); err != nil {
		return scenebridge.WithStack(err)
	}
	return nil
}

func (w *worker) addJSCallback(info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) != 2 || !args[0].IsString() || !args[1].IsFunction() {
		return w.throw("addCallback takes [string, function] arguments")
	}
	fn, err := args[1].AsFunction()
	if err != nil {
		return w.throw("trying to cast %v to a function: %v", args[1], err)
	}
	name := args[0].String()
	w.callbacks[name] = append(w.callbacks[name], entityCallback{entityID: w.current, fn: fn})
	return nil
}

func (w *worker) removeJSCallback(info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) != 1 || !args[0].IsString() {
		return w.throw("removeCallback takes [string] arguments")
	}
	name := args[0].String()
	kept := w.callbacks[name][:0]
	for _, cb := range w.callbacks[name] {
		if cb.entityID != w.current {
			kept = append(kept, cb)
		}
	}
	w.callbacks[name] = kept
	return nil
}

func (w *worker) queueCommand(info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) != 1 {
		return w.throw("__queueCommand takes [object] arguments")
	}
	jsonArg, err := v8go.JSONStringify(w.vctx, args[0])
	if err != nil {
		return w.throw("trying to serialize %v: %v", args[0], err)
	}
	cmd := Command{}
	if err := goccy.Unmarshal([]byte(jsonArg), &cmd); err != nil {
		return w.throw("trying to decode command %s: %v", jsonArg, err)
	}
	w.pending = append(w.pending, cmd)
	return nil
}

func (w *worker) postFromJS(info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) != 1 {
		return w.throw("__post takes [object] arguments")
	}
	jsonArg, err := v8go.JSONStringify(w.vctx, args[0])
	if err != nil {
		return w.throw("trying to serialize %v: %v", args[0], err)
	}
	fields := map[string]any{}
	if err := goccy.Unmarshal([]byte(jsonArg), &fields); err != nil {
		return w.throw("trying to decode message %s: %v", jsonArg, err)
	}
	typ, _ := fields["type"].(string)
	if typ == "" {
		return w.throw("posted message needs a type")
	}
	delete(fields, "type")
	w.post(w.decode(typ, fields))
	return nil
}

func (w *worker) decode(typ string, fields map[string]any) Outbound {
	o := Outbound{Type: typ, EntityID: w.current}
	switch typ {
	case "ui":
		if raw, ok := fields["elements"].([]any); ok {
			for _, el := range raw {
				if m, ok := el.(map[string]any); ok {
					o.Elements = append(o.Elements, m)
				}
			}
		}
	default:
		o.Fields = fields
	}
	return o
}

func (w *worker) logFromJS(info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) != 2 || !args[0].IsString() || !args[1].IsString() {
		return w.throw("__log takes [string, string] arguments")
	}
	level := args[0].String()
	if level != "error" {
		level = "log"
	}
	w.post(Outbound{Type: level, EntityID: w.current, Message: args[1].String()})
	return nil
}

type initMessage struct {
	Scripts []Script `json:"scripts"`
}

func (w *worker) handle(msg string) bool {
	head := struct {
		Type string `json:"type"`
	}{}
	if err := goccy.Unmarshal([]byte(msg), &head); err != nil {
		w.s.log.Warn("dropping malformed sandbox message", "error", err)
		return true
	}
	switch head.Type {
	case "init":
		init := initMessage{}
		if err := goccy.Unmarshal([]byte(msg), &init); err != nil {
			w.s.log.Warn("dropping malformed init message", "error", err)
			return true
		}
		for _, script := range init.Scripts {
			if script.Enabled {
				w.evaluate(script)
			}
		}
		w.deliver("init", msg)
	case "stop":
		w.deliver("stop", msg)
		w.flush()
		w.post(Outbound{Type: "ack"})
		return false
	default:
		w.deliver(head.Type, msg)
	}
	w.flush()
	w.post(Outbound{Type: "ack"})
	return true
}

// evaluate runs one entity script inside a closure that receives its
// own entity id. Registration side effects (addCallback) are tagged
// with that entity while the script's top level is on the stack.
func (w *worker) evaluate(script Script) {
	quoted, err := goccy.Marshal(script.EntityID)
	if err != nil {
		w.s.log.Warn("unencodable entity id", "entity", script.EntityID)
		return
	}
	src := fmt.Sprintf("(function(entity){\n%s\n})(%s);", script.Source, quoted)
	w.current = script.EntityID
	defer func() { w.current = "" }()
	if _, err := w.vctx.RunScript(src, script.EntityID+".js"); err != nil {
		w.postError(script.EntityID, err)
	}
}

func (w *worker) deliver(typ string, msg string) {
	cbs := w.callbacks[typ]
	if len(cbs) == 0 {
		return
	}
	val, err := v8go.JSONParse(w.vctx, msg)
	if err != nil {
		w.s.log.Warn("unparseable sandbox message", "type", typ, "error", err)
		return
	}
	for _, cb := range cbs {
		w.current = cb.entityID
		if _, err := cb.fn.Call(w.vctx.Global(), val); err != nil {
			w.postError(cb.entityID, err)
		}
	}
	w.current = ""
}

func (w *worker) flush() {
	if len(w.pending) == 0 {
		return
	}
	cmds := w.pending
	w.pending = nil
	w.post(Outbound{Type: "commands", Commands: cmds})
}

func (w *worker) postError(entityID string, err error) {
	jserr := &v8go.JSError{}
	if errors.As(err, &jserr) {
		w.post(Outbound{
			Type:     "error",
			EntityID: entityID,
			Message:  fmt.Sprintf("%s (%s)", jserr.Message, jserr.Location),
		})
		return
	}
	w.post(Outbound{Type: "error", EntityID: entityID, Message: err.Error()})
}
