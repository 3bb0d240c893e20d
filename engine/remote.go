package engine

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/protolith/scenebridge"

	goccy "github.com/goccy/go-json"
)

// Remote is an Engine backed by a single websocket connection from
// the separately-compiled engine. Commands go out as JSON frames,
// events come in as JSON frames and are delivered serially on the
// read loop goroutine.
type Remote struct {
	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	cb   func(Event)
}

type commandFrame struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload,omitempty"`
}

type eventFrame struct {
	Event   EventType      `json:"event"`
	Payload map[string]any `json:"payload"`
}

func NewRemote(log *slog.Logger) *Remote {
	return &Remote{log: log}
}

func (r *Remote) OnEvent(cb func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = cb
}

// Attach takes over conn as the active engine connection, replacing
// (and closing) any previous one, and blocks reading events until the
// connection dies.
func (r *Remote) Attach(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.conn = conn
	cb := r.cb
	r.mu.Unlock()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			break
		}
		frame := eventFrame{}
		if err := goccy.Unmarshal(b, &frame); err != nil {
			r.log.Warn("dropping malformed engine event", "error", err)
			continue
		}
		if cb != nil {
			cb(Event{Type: frame.Event, Payload: frame.Payload})
		}
	}

	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	conn.Close()
}

func (r *Remote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *Remote) HandleCommand(name string, payload map[string]any) error {
	b, err := goccy.Marshal(commandFrame{Command: name, Payload: payload})
	if err != nil {
		return scenebridge.WithStack(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return errors.Errorf("no engine connected")
	}
	return scenebridge.WithStack(r.conn.WriteMessage(websocket.TextMessage, b))
}
