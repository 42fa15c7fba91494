// Package groups tracks named groups of OS processes through a small state
// machine driven by process.* events, persisting to disk on every mutation
// so a restart can restore the view.
package groups

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/procwatch"
)

// State is a TrackedProcess's position in the lifecycle state machine.
type State string

const (
	StateStarting State = "STARTING"
	StateBuilding State = "BUILDING"
	StateTesting  State = "TESTING"
	StateIdle     State = "IDLE"
	StateError    State = "ERROR"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// IsTerminal reports whether s is a terminal state (DONE or FAILED), after
// which further events are recorded but no longer change state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// TrackedProcess is one PID's position within a ProcessGroup.
type TrackedProcess struct {
	PID            int       `json:"pid"`
	Label          string    `json:"label"`
	State          State     `json:"state"`
	LastEvent      string    `json:"last_event"`
	LastEventTime  time.Time `json:"last_event_time"`
	LastDetail     string    `json:"last_detail,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	ExitCode       *int      `json:"exit_code,omitempty"`
}

// ProcessGroup is a named collection of tracked processes.
type ProcessGroup struct {
	GroupName string                    `json:"group_name"`
	Processes map[int]*TrackedProcess   `json:"processes"`
}

// Publisher is the subset of eventbus.Bus the tracker needs.
type Publisher interface {
	Publish(model.Event)
}

// Tracker owns every ProcessGroup and persists to persistPath on mutation.
type Tracker struct {
	mu         sync.Mutex
	groups     map[string]*ProcessGroup
	bus        Publisher
	persistPath string
	now        func() time.Time
}

func New(bus Publisher, persistPath string) *Tracker {
	return NewWithClock(bus, persistPath, time.Now)
}

func NewWithClock(bus Publisher, persistPath string, now func() time.Time) *Tracker {
	return &Tracker{groups: make(map[string]*ProcessGroup), bus: bus, persistPath: persistPath, now: now}
}

// Load restores persisted state from persistPath, if present. A missing
// file is not an error.
func (t *Tracker) Load() error {
	data, err := os.ReadFile(t.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Unmarshal(data, &t.groups)
}

// Track registers a new process as STARTING within groupName, creating the
// group if necessary.
func (t *Tracker) Track(groupName, label string, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.groupLocked(groupName)
	now := t.now()
	g.Processes[pid] = &TrackedProcess{
		PID: pid, Label: label, State: StateStarting,
		LastEvent: "start", LastEventTime: now, StartedAt: now,
	}
	t.persistLocked()
}

func (t *Tracker) groupLocked(name string) *ProcessGroup {
	g, ok := t.groups[name]
	if !ok {
		g = &ProcessGroup{GroupName: name, Processes: make(map[int]*TrackedProcess)}
		t.groups[name] = g
	}
	return g
}

// HandleEvent updates groupName's tracked process for e.PID according to
// the state machine, publishing process.group.state_change on any actual
// transition. Events for an unknown pid are ignored.
func (t *Tracker) HandleEvent(groupName string, e model.Event, command string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[groupName]
	if !ok {
		return
	}
	p, ok := g.Processes[e.PID]
	if !ok {
		return
	}

	p.LastEvent = e.Type
	p.LastEventTime = t.now()
	if detail, ok := firstStringDetail(e); ok {
		p.LastDetail = detail
	}

	if p.State.IsTerminal() {
		t.persistLocked()
		return
	}

	old := p.State
	next := nextState(old, e, command)
	if next == "" || next == old {
		t.persistLocked()
		return
	}
	p.State = next
	if next == StateFailed || next == StateDone {
		if code, ok := e.Details["exit_code"].Int(); ok {
			c := int(code)
			p.ExitCode = &c
		}
	}

	t.bus.Publish(model.Event{
		Type:      "process.group.state_change",
		PID:       e.PID,
		Timestamp: t.now(),
		Details: map[string]model.Value{
			"old_state": model.Str(string(old)),
			"new_state": model.Str(string(next)),
			"label":     model.Str(p.Label),
		},
	})
	t.persistLocked()
}

func nextState(old State, e model.Event, command string) State {
	switch e.Type {
	case "process.tool_start":
		if procwatch.IsTestCommand(command) {
			return StateTesting
		}
		return StateBuilding
	case "process.idle":
		return StateIdle
	case "process.error":
		return StateError
	case "process.exit":
		code, _ := e.Details["exit_code"].Int()
		if code == 0 {
			return StateDone
		}
		return StateFailed
	default:
		return ""
	}
}

func firstStringDetail(e model.Event) (string, bool) {
	for _, k := range []string{"text", "error", "raw"} {
		if v, ok := e.Details[k]; ok {
			if s, ok := v.String(); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Clear removes every process in a terminal state across all groups.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, g := range t.groups {
		for pid, p := range g.Processes {
			if p.State.IsTerminal() {
				delete(g.Processes, pid)
			}
		}
	}
	t.persistLocked()
}

// Snapshot returns a defensive copy of the named group, or false if it does
// not exist.
func (t *Tracker) Snapshot(groupName string) (ProcessGroup, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[groupName]
	if !ok {
		return ProcessGroup{}, false
	}
	out := ProcessGroup{GroupName: g.GroupName, Processes: make(map[int]*TrackedProcess, len(g.Processes))}
	for pid, p := range g.Processes {
		cp := *p
		out.Processes[pid] = &cp
	}
	return out, true
}

// List returns the names of every tracked group, for process.group.list.
func (t *Tracker) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.groups))
	for name := range t.groups {
		out = append(out, name)
	}
	return out
}

func (t *Tracker) persistLocked() {
	if t.persistPath == "" {
		return
	}
	data, err := json.MarshalIndent(t.groups, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(t.persistPath, data, 0o600)
}
