// Package procwatch follows a tracked OS process (and, optionally, a named
// log file) and translates each line of output into a bus event per the
// process.* mapping table.
package procwatch

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/axbridge/axd/internal/model"
)

// DefaultIdleTimeout is the duration of silence before a process.idle event
// fires.
const DefaultIdleTimeout = 300 * time.Second

// Publisher is the subset of eventbus.Bus the watcher needs.
type Publisher interface {
	Publish(model.Event)
}

// Watcher tracks a single process by PID, translating its output lines into
// events. Safe for concurrent use; HandleLine and the idle checker may run
// from different goroutines.
type Watcher struct {
	mu          sync.Mutex
	pid         int
	app         string
	bus         Publisher
	idleTimeout time.Duration
	lastLine    time.Time
	lineNumber  int
	now         func() time.Time
	exited      bool
}

func New(pid int, app string, bus Publisher) *Watcher {
	return NewWithClock(pid, app, bus, time.Now)
}

func NewWithClock(pid int, app string, bus Publisher, now func() time.Time) *Watcher {
	return &Watcher{
		pid:         pid,
		app:         app,
		bus:         bus,
		idleTimeout: DefaultIdleTimeout,
		lastLine:    now(),
		now:         now,
	}
}

func (w *Watcher) SetIdleTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idleTimeout = d
}

// HandleLine translates one line of process output into an event and
// publishes it, resetting the idle timer.
func (w *Watcher) HandleLine(line string) {
	w.mu.Lock()
	w.lineNumber++
	n := w.lineNumber
	now := w.now()
	w.lastLine = now
	w.mu.Unlock()

	ev := translateLine(line)
	ev.App = w.app
	ev.PID = w.pid
	ev.Timestamp = now
	if ev.Details == nil {
		ev.Details = make(map[string]model.Value)
	}
	ev.Details["line_number"] = model.Int(int64(n))
	w.bus.Publish(ev)
}

// CheckIdle publishes a process.idle event if no line has arrived within the
// configured idle timeout. Call on a periodic tick.
func (w *Watcher) CheckIdle() {
	w.mu.Lock()
	if w.exited {
		w.mu.Unlock()
		return
	}
	now := w.now()
	idleFor := now.Sub(w.lastLine)
	timeout := w.idleTimeout
	w.mu.Unlock()

	if idleFor < timeout {
		return
	}
	w.bus.Publish(model.Event{
		Type:      "process.idle",
		App:       w.app,
		PID:       w.pid,
		Timestamp: now,
		Details:   map[string]model.Value{"idle_seconds": model.Int(int64(idleFor.Seconds()))},
	})
}

// HandleExit publishes process.exit and marks the watcher done.
func (w *Watcher) HandleExit(exitCode int) {
	w.mu.Lock()
	w.exited = true
	now := w.now()
	w.mu.Unlock()

	w.bus.Publish(model.Event{
		Type:      "process.exit",
		App:       w.app,
		PID:       w.pid,
		Timestamp: now,
		Details:   map[string]model.Value{"exit_code": model.Int(int64(exitCode))},
	})
}

type ndjsonLine struct {
	Type       string          `json:"type"`
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input"`
	IsError    *bool           `json:"is_error"`
	DurationMs *int64          `json:"duration_ms"`
	Error      string          `json:"error"`
	Text       string          `json:"text"`
	Result     string          `json:"result"`
}

// translateLine applies the process.* mapping table. A line that is not
// valid JSON, or has no recognised type, is wrapped as process.message with
// the raw text preserved.
func translateLine(line string) model.Event {
	var parsed ndjsonLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil || parsed.Type == "" {
		return model.Event{Type: "process.message", Details: map[string]model.Value{"raw": model.Str(line)}}
	}

	switch parsed.Type {
	case "tool_use", "tool_call":
		details := map[string]model.Value{"tool": model.Str(parsed.Tool)}
		addScalarFields(details, parsed.Input)
		return model.Event{Type: "process.tool_start", Details: details}
	case "tool_result":
		isError := parsed.IsError != nil && *parsed.IsError
		details := map[string]model.Value{
			"tool":    model.Str(parsed.Tool),
			"success": model.Bool(!isError),
		}
		if parsed.DurationMs != nil {
			details["duration_ms"] = model.Int(*parsed.DurationMs)
		}
		if isError && parsed.Error != "" {
			details["error"] = model.Str(parsed.Error)
		}
		return model.Event{Type: "process.tool_end", Details: details}
	case "text", "assistant", "content_block_delta":
		return model.Event{Type: "process.message", Details: map[string]model.Value{"text": model.Str(parsed.Text)}}
	case "error":
		return model.Event{Type: "process.error", Details: map[string]model.Value{"error": model.Str(parsed.Error)}}
	case "result":
		return model.Event{Type: "process.message", Details: map[string]model.Value{
			"text":  model.Str(parsed.Result),
			"final": model.Bool(true),
		}}
	default:
		details := map[string]model.Value{"raw_type": model.Str(parsed.Type)}
		addTopLevelScalars(details, line)
		return model.Event{Type: "process.message", Details: details}
	}
}

// addScalarFields copies each scalar-valued field of a JSON object into
// details, skipping nested objects/arrays.
func addScalarFields(details map[string]model.Value, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return
	}
	for k, v := range obj {
		if val, ok := scalarValue(v); ok {
			details[k] = val
		}
	}
}

func addTopLevelScalars(details map[string]model.Value, line string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return
	}
	for k, v := range obj {
		if k == "type" {
			continue
		}
		if val, ok := scalarValue(v); ok {
			details[k] = val
		}
	}
}

func scalarValue(v any) (model.Value, bool) {
	switch t := v.(type) {
	case string:
		return model.Str(t), true
	case bool:
		return model.Bool(t), true
	case float64:
		if t == float64(int64(t)) {
			return model.Int(int64(t)), true
		}
		return model.Float(t), true
	default:
		return model.Value{}, false
	}
}

// IsTestCommand reports whether cmd matches the allowlist of recognised
// test-runner invocations.
func IsTestCommand(cmd string) bool {
	lc := strings.ToLower(cmd)
	for _, prefix := range []string{"cargo test", "npm test", "pytest", "go test", "swift test", "jest"} {
		if strings.Contains(lc, prefix) {
			return true
		}
	}
	return false
}
