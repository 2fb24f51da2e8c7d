package events

// Event enumerates topics inside the hedge core.
type Event string

const (
	// EventBroadcast carries every observer-facing message (log, status,
	// progress, position_closed, refresh) in publish order.
	EventBroadcast Event = "broadcast"
	// EventRefresh tells dependents that positions changed after a batch.
	EventRefresh Event = "refresh"
	// EventPositionClosed is published per closed or reduced position.
	EventPositionClosed Event = "position_closed"
)

// Log levels understood by observers.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// LogMessage is one user-facing log line.
type LogMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// StatusMessage reports whether a batch is running.
type StatusMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	IsRunning bool   `json:"isRunning"`
}

// ProgressMessage mirrors the batch counters.
type ProgressMessage struct {
	Type         string `json:"type"`
	TaskName     string `json:"task_name"`
	Total        int    `json:"total"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
	IsFinal      bool   `json:"is_final"`
}

// PositionClosedMessage is sent after a close order fills.
type PositionClosedMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Ratio  float64 `json:"ratio"`
}

// RefreshMessage asks observers to reload positions.
type RefreshMessage struct {
	Type string `json:"type"`
}
