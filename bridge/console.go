package bridge

import (
	"fmt"
	"io"
	"sync"
)

const (
	// consoleBufferSize is the number of log lines buffered per
	// entity. A freshly attached writer can fetch these to backfill.
	consoleBufferSize = 64

	// consoleBridgeKey buffers lines that belong to no entity, such
	// as watchdog faults and rejected-command warnings.
	consoleBridgeKey = "bridge"
)

// consoleBuffer is a ring buffer of log lines.
type consoleBuffer struct {
	lines []string
	start int
	count int
}

func (b *consoleBuffer) push(line string) {
	if b.lines == nil {
		b.lines = make([]string, consoleBufferSize)
	}
	idx := (b.start + b.count) % consoleBufferSize
	if b.count < consoleBufferSize {
		b.lines[idx] = line
		b.count++
	} else {
		b.lines[b.start] = line
		b.start = (b.start + 1) % consoleBufferSize
	}
}

func (b *consoleBuffer) all() []string {
	if b.count == 0 {
		return nil
	}
	result := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.lines[(b.start+i)%consoleBufferSize]
	}
	return result
}

// Console carries user-visible script output: sandbox log/error lines
// keyed by entity, plus bridge-level notices. Each line is buffered
// per key and broadcast to every attached writer (the editor streams
// them over its websocket). Failed writers are detached.
type Console struct {
	mu      sync.Mutex
	buffers map[string]*consoleBuffer
	writers map[io.Writer]struct{}
}

func NewConsole() *Console {
	return &Console{
		buffers: map[string]*consoleBuffer{},
		writers: map[io.Writer]struct{}{},
	}
}

func (c *Console) Attach(w io.Writer) {
	if w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writers[w] = struct{}{}
}

func (c *Console) Detach(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writers, w)
}

// Write records a line for one entity and broadcasts it.
func (c *Console) Write(entityID string, line string) {
	if entityID == "" {
		entityID = consoleBridgeKey
	}
	c.mu.Lock()
	if c.buffers[entityID] == nil {
		c.buffers[entityID] = &consoleBuffer{}
	}
	c.buffers[entityID].push(line)
	writers := make([]io.Writer, 0, len(c.writers))
	for w := range c.writers {
		writers = append(writers, w)
	}
	c.mu.Unlock()

	formatted := []byte(fmt.Sprintf("[%s] %s\n", entityID, line))
	var failed []io.Writer
	for _, w := range writers {
		if _, err := w.Write(formatted); err != nil {
			failed = append(failed, w)
		}
	}
	if len(failed) > 0 {
		c.mu.Lock()
		for _, w := range failed {
			delete(c.writers, w)
		}
		c.mu.Unlock()
	}
}

// Broadcast records a bridge-level line.
func (c *Console) Broadcast(line string) {
	c.Write(consoleBridgeKey, line)
}

// Buffered returns an entity's buffered lines in order.
func (c *Console) Buffered(entityID string) []string {
	if entityID == "" {
		entityID = consoleBridgeKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf := c.buffers[entityID]; buf != nil {
		return buf.all()
	}
	return nil
}
