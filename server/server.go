// Package server hosts the bridge: an HTTP server with a websocket
// endpoint for the engine to connect to, a websocket endpoint for the
// editor UI (actions in, console stream out), and a health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/protolith/scenebridge"
	"github.com/protolith/scenebridge/audio"
	"github.com/protolith/scenebridge/bridge"
	"github.com/protolith/scenebridge/engine"
	"github.com/protolith/scenebridge/scripts"
	"github.com/protolith/scenebridge/state"
	"github.com/protolith/scenebridge/storage"

	goccy "github.com/goccy/go-json"
)

type Server struct {
	cfg     Config
	log     *slog.Logger
	echo    *echo.Echo
	remote  *engine.Remote
	store   *state.Store
	scenes  *storage.Store
	scripts *scripts.Cache
	console *bridge.Console
	bridge  *bridge.Bridge

	upgrader websocket.Upgrader
}

func New(cfg Config, log *slog.Logger) (*Server, error) {
	scenes, err := storage.Open(filepath.Join(cfg.DataDir, "scenes.db"))
	if err != nil {
		return nil, scenebridge.WithStack(err)
	}

	store := state.NewStore()
	refs, activeID, err := scenes.LoadScenes(context.Background())
	if err != nil {
		scenes.Close()
		return nil, scenebridge.WithStack(err)
	}
	store.SetScenes(refs)
	if activeID == "" && len(refs) > 0 {
		activeID = refs[0].ID
	}
	store.SetActiveScene(activeID)

	cache := scripts.NewCache(cfg.ScriptDir, log)
	if err := cache.Load(); err != nil {
		log.Warn("seeding script cache", "error", err)
	}

	remote := engine.NewRemote(log)
	console := bridge.NewConsole()
	b := bridge.New(
		bridge.Config{
			WatchdogTimeout:  cfg.WatchdogTimeout,
			StopGrace:        cfg.StopGrace,
			ExportGrace:      cfg.ExportGrace,
			AutosaveDebounce: cfg.AutosaveDebounce,
		},
		log,
		remote,
		store,
		audio.NewMixer(log),
		scenes,
		cache,
		console,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		cfg:     cfg,
		log:     log,
		echo:    e,
		remote:  remote,
		store:   store,
		scenes:  scenes,
		scripts: cache,
		console: console,
		bridge:  b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	e.GET("/healthz", s.health)
	e.GET("/ws/engine", s.engineSocket)
	e.GET("/ws/editor", s.editorSocket)
	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.scripts.Watch(ctx); err != nil {
			s.log.Warn("script watcher stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.echo.Shutdown(context.Background())
		s.scenes.Close()
	}()
	s.log.Info("listening", "addr", s.cfg.HTTPAddr)
	if err := s.echo.Start(s.cfg.HTTPAddr); !errors.Is(err, http.ErrServerClosed) {
		return scenebridge.WithStack(err)
	}
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"engine": s.remote.Connected(),
		"mode":   s.store.Mode(),
	})
}

// engineSocket hands the connection to the remote engine adapter and
// blocks on its read loop until the engine goes away.
func (s *Server) engineSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return scenebridge.WithStack(err)
	}
	s.log.Info("engine connected", "remote", conn.RemoteAddr())
	s.remote.Attach(conn)
	s.log.Info("engine disconnected")
	return nil
}

type editorAction struct {
	Action string                  `json:"action"`
	Mode   state.Mode              `json:"mode,omitempty"`
	Target string                  `json:"target,omitempty"`
	Config *state.TransitionConfig `json:"config,omitempty"`
}

// editorSocket serves the UI: console lines stream out, user actions
// come in. Actions are the one place besides the orchestrator where
// the bridge issues commands on a user's behalf.
func (s *Server) editorSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return scenebridge.WithStack(err)
	}
	defer conn.Close()

	w := &socketWriter{conn: conn}
	s.console.Attach(w)
	defer s.console.Detach(w)

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		act := editorAction{}
		if err := goccy.Unmarshal(b, &act); err != nil {
			s.log.Warn("malformed editor action", "error", err)
			continue
		}
		s.handleEditorAction(c.Request().Context(), act)
	}
}

func (s *Server) handleEditorAction(ctx context.Context, act editorAction) {
	switch act.Action {
	case "set_mode":
		// The engine answers with ENGINE_MODE_CHANGED, which is what
		// actually updates local state and the session lifecycle.
		name, found := modeCommands[act.Mode]
		if !found {
			s.log.Warn("unknown mode", "mode", act.Mode)
			return
		}
		if err := s.remote.HandleCommand(name, nil); err != nil {
			s.log.Warn("engine command failed", "command", name, "error", err)
		}
	case "start_transition":
		if err := s.bridge.StartSceneTransition(ctx, act.Target, act.Config); err != nil {
			s.log.Warn("editor transition rejected", "target", act.Target, "error", err)
		}
	default:
		s.log.Warn("unknown editor action", "action", act.Action)
	}
}

var modeCommands = map[state.Mode]string{
	state.ModePlay:   "play",
	state.ModePaused: "pause",
	state.ModeEdit:   "stop",
}

// socketWriter adapts a websocket connection into the console's
// io.Writer contract.
type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *socketWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return 0, scenebridge.WithStack(err)
	}
	return len(b), nil
}
