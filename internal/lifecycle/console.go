package lifecycle

import (
	"strings"
	"sync"

	"github.com/cubeward/cubeward/internal/events"
)

// DefaultConsoleLines is the number of recent console lines retained for the
// web console view.
const DefaultConsoleLines = 400

// Console keeps a bounded ring of the server's most recent stdout lines and
// republishes each completed line on the event bus for live streaming. It is
// wired as the server handle's stdout tap and must tolerate arbitrary write
// chunking.
type Console struct {
	mu      sync.Mutex
	lines   []string
	head    int
	full    bool
	partial strings.Builder
	bus     *events.Bus
	profile string
}

// NewConsole creates a ring holding up to max lines. A non-positive max
// falls back to DefaultConsoleLines. bus may be nil.
func NewConsole(max int, bus *events.Bus) *Console {
	if max <= 0 {
		max = DefaultConsoleLines
	}
	return &Console{lines: make([]string, max), bus: bus}
}

// SetProfile tags subsequently published console events with the profile
// name.
func (c *Console) SetProfile(name string) {
	c.mu.Lock()
	c.profile = name
	c.mu.Unlock()
}

// Write implements io.Writer. Data is split on newlines; an incomplete
// trailing line is buffered until its newline arrives.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	var done []string
	for _, b := range p {
		if b == '\n' {
			line := strings.TrimRight(c.partial.String(), "\r")
			c.partial.Reset()
			c.push(line)
			done = append(done, line)
			continue
		}
		c.partial.WriteByte(b)
	}
	profile := c.profile
	bus := c.bus
	c.mu.Unlock()

	if bus != nil {
		for _, line := range done {
			bus.Publish(events.Event{
				Kind:    events.KindConsoleLine,
				Profile: profile,
				Role:    string(RoleServer),
				Message: line,
			})
		}
	}
	return len(p), nil
}

func (c *Console) push(line string) {
	c.lines[c.head] = line
	c.head = (c.head + 1) % len(c.lines)
	if c.head == 0 {
		c.full = true
	}
}

// Lines returns the retained lines oldest-first.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		out := make([]string, c.head)
		copy(out, c.lines[:c.head])
		return out
	}
	out := make([]string, 0, len(c.lines))
	out = append(out, c.lines[c.head:]...)
	out = append(out, c.lines[:c.head]...)
	return out
}

// Clear drops all retained lines. Used when a profile is swapped so the new
// server's console does not start with the old server's tail.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		c.lines[i] = ""
	}
	c.head = 0
	c.full = false
	c.partial.Reset()
}
