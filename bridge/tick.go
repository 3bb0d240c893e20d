package bridge

import (
	"time"

	"github.com/protolith/scenebridge/engine"
)

// fallbackTickDt seeds dt on the very first tick, when no previous
// wall-clock sample exists. The engine's payload dt is preferred.
const fallbackTickDt = 1.0 / 60.0

// handlePlayTick forwards one frame into the sandbox. dt and elapsed
// are computed from wall-clock deltas, not trusted from the payload
// (except on the first tick, which has no previous sample). Before
// sending, a watchdog is armed unless one is already outstanding; it
// is disarmed by the next sandbox-originated message of any kind.
func (b *Bridge) handlePlayTick(ev engine.Event) {
	b.mu.Lock()
	s := b.session
	if s == nil {
		b.mu.Unlock()
		return
	}
	now := time.Now()
	var dt float64
	if s.lastTick.IsZero() {
		dt = payloadFloat(ev.Payload, "dt", fallbackTickDt)
	} else {
		dt = now.Sub(s.lastTick).Seconds()
	}
	s.lastTick = now
	s.elapsed += dt
	elapsed := s.elapsed
	if b.watchdog == nil {
		b.watchdog = time.AfterFunc(b.cfg.WatchdogTimeout, b.watchdogFault)
	}
	b.mu.Unlock()

	tick := map[string]any{
		"type":        "tick",
		"dt":          dt,
		"elapsed":     elapsed,
		"entities":    ev.Payload["entities"],
		"entityInfos": ev.Payload["entityInfos"],
		"inputState":  ev.Payload["inputState"],
	}
	if err := s.sandbox.Send(tick); err != nil {
		b.log.Warn("forwarding tick to sandbox", "error", err)
	}
}

func (b *Bridge) disarmWatchdog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watchdog != nil {
		b.watchdog.Stop()
		b.watchdog = nil
	}
}

// forwardToSandbox relays an engine sub-event (collisions, triggers)
// into the sandbox as a domain event, if a session is running.
func (b *Bridge) forwardToSandbox(ev engine.Event) {
	b.mu.Lock()
	s := b.session
	b.mu.Unlock()
	if s == nil {
		return
	}
	msg := map[string]any{"type": string(ev.Type)}
	for k, v := range ev.Payload {
		msg[k] = v
	}
	if err := s.sandbox.Send(msg); err != nil {
		b.log.Debug("forwarding engine event to sandbox", "type", ev.Type, "error", err)
	}
}
