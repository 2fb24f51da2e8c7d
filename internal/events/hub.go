package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultHistorySize is the number of log lines kept for late joiners.
const DefaultHistorySize = 200

var hubLog = logrus.WithField("component", "broadcast")

// Hub publishes typed observer messages on the bus and keeps a ring buffer
// of recent log lines.
type Hub struct {
	bus *Bus

	mu      sync.Mutex
	ring    []LogMessage
	next    int
	full    bool
	nowFunc func() time.Time
}

// NewHub creates a hub on top of bus with a log ring of size history.
func NewHub(bus *Bus, history int) *Hub {
	if history <= 0 {
		history = DefaultHistorySize
	}
	return &Hub{bus: bus, ring: make([]LogMessage, history), nowFunc: time.Now}
}

// Bus exposes the underlying bus for subscribers.
func (h *Hub) Bus() *Bus { return h.bus }

// Log records a user-facing line, mirrors it to the process log and fans it
// out to observers.
func (h *Hub) Log(level, message string) {
	msg := LogMessage{
		Type:      "log",
		Message:   message,
		Level:     level,
		Timestamp: h.nowFunc().Format("15:04:05"),
	}

	h.mu.Lock()
	h.ring[h.next] = msg
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	entry := hubLog
	switch level {
	case LevelError:
		entry.Error(message)
	case LevelWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
	h.bus.Publish(EventBroadcast, msg)
}

// Logf is Log with formatting.
func (h *Hub) Logf(level, format string, args ...any) {
	h.Log(level, fmt.Sprintf(format, args...))
}

// Status broadcasts the running flag.
func (h *Hub) Status(message string, running bool) {
	h.bus.Publish(EventBroadcast, StatusMessage{Type: "status", Message: message, IsRunning: running})
}

// Progress broadcasts batch counters.
func (h *Hub) Progress(p ProgressMessage) {
	p.Type = "progress_update"
	h.bus.Publish(EventBroadcast, p)
}

// PositionClosed announces a filled close.
func (h *Hub) PositionClosed(symbol string, ratio float64) {
	msg := PositionClosedMessage{Type: "position_closed", Symbol: symbol, Ratio: ratio}
	h.bus.Publish(EventBroadcast, msg)
	h.bus.Publish(EventPositionClosed, msg)
}

// Refresh notifies observers and dependents that positions changed.
func (h *Hub) Refresh() {
	msg := RefreshMessage{Type: "refresh_positions"}
	h.bus.Publish(EventBroadcast, msg)
	h.bus.Publish(EventRefresh, msg)
}

// History returns buffered log lines, oldest first.
func (h *Hub) History() []LogMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]LogMessage, h.next)
		copy(out, h.ring[:h.next])
		return out
	}
	out := make([]LogMessage, 0, len(h.ring))
	out = append(out, h.ring[h.next:]...)
	out = append(out, h.ring[:h.next]...)
	return out
}
