// Package transport defines the Transport capability interface and the
// router that picks among concrete transports per action type, health, and
// caller preference, falling back through the chain on failure.
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Health is a transport's derived reliability state.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthDegraded     Health = "degraded"
	HealthReconnecting Health = "reconnecting"
	HealthDead         Health = "dead"
)

// Action identifies the kind of operation being routed.
type Action string

const (
	ActionSnapshot      Action = "snapshot"
	ActionClick         Action = "click"
	ActionFill          Action = "fill"
	ActionClear         Action = "clear"
	ActionToggle        Action = "toggle"
	ActionSelect        Action = "select"
	ActionFocus         Action = "focus"
	ActionEval          Action = "eval"
	ActionScript        Action = "script"
	ActionSafariExtract Action = "safari_extract"
)

// Request is a single action to route to a transport.
type Request struct {
	Action   Action
	App      string
	BundleID string
	Ref      string
	Value    string
	Expr     string
}

// Result is a transport's outcome for a Request.
type Result struct {
	Success bool
	Value   string
	Error   string
}

// Transport is the capability interface every concrete transport
// implements.
type Transport interface {
	Name() string
	CanHandle(app, bundleID string) bool
	Capabilities() []Action
	Health() Health
	Execute(ctx context.Context, req Request) Result
}

// Stats tracks a rolling window of success/failure calls for health
// derivation.
type Stats struct {
	mu                  sync.Mutex
	window              []bool // true = success, oldest first
	windowSize          int
	consecutiveFailures int
}

// DefaultWindowSize bounds the rolling success-rate window.
const DefaultWindowSize = 20

func NewStats() *Stats { return &Stats{windowSize: DefaultWindowSize} }

// Record appends an outcome and returns the derived health.
func (s *Stats) Record(success bool) Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, success)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}
	if success {
		s.consecutiveFailures = 0
	} else {
		s.consecutiveFailures++
	}
	return s.healthLocked()
}

// Health returns the currently derived health without recording a new call.
func (s *Stats) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthLocked()
}

func (s *Stats) healthLocked() Health {
	if s.consecutiveFailures >= 5 {
		return HealthDead
	}
	if len(s.window) == 0 {
		return HealthHealthy
	}
	if !s.window[len(s.window)-1] && allFailed(s.window) {
		return HealthReconnecting
	}
	rate := successRate(s.window)
	switch {
	case rate >= 0.9:
		return HealthHealthy
	case rate >= 0.5:
		return HealthDegraded
	default:
		return HealthReconnecting
	}
}

func allFailed(window []bool) bool {
	for _, ok := range window {
		if ok {
			return false
		}
	}
	return true
}

func successRate(window []bool) float64 {
	var successes int
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(window))
}

// Router owns an ordered list of transports and a preference order,
// implementing the fallback-chain execute algorithm.
type Router struct {
	mu          sync.Mutex
	transports  []Transport
	preferences []string // transport names, in preferred order
}

func NewRouter(transports ...Transport) *Router {
	return &Router{transports: transports}
}

// Register appends a transport to the chain. Callers add concrete,
// platform-specific transports after construction since this package does
// not own any of them.
func (r *Router) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports = append(r.transports, t)
}

// TransportHealth reports every registered transport's current health,
// keyed by name, for the daemon's health/status handlers.
func (r *Router) TransportHealth() map[string]Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Health, len(r.transports))
	for _, t := range r.transports {
		out[t.Name()] = t.Health()
	}
	return out
}

// SetPreferences sets the preferred transport-name order; a matching
// transport is moved to the front of the chain, preserving the preference
// order as a prefix.
func (r *Router) SetPreferences(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences = names
}

func actionsInclude(caps []Action, a Action) bool {
	for _, c := range caps {
		if c == a {
			return true
		}
	}
	return false
}

// Execute builds the candidate chain, skips dead transports, and executes
// in order until one succeeds.
func (r *Router) Execute(ctx context.Context, req Request) Result {
	r.mu.Lock()
	chain := r.buildChainLocked(req)
	r.mu.Unlock()

	if len(chain) == 0 {
		return Result{Success: false, Error: fmt.Sprintf("No transport available for %s", req.App)}
	}

	var causes []string
	attempted := false
	for _, t := range chain {
		if t.Health() == HealthDead {
			continue
		}
		attempted = true
		res := t.Execute(ctx, req)
		if res.Success {
			return res
		}
		causes = append(causes, fmt.Sprintf("%s: %s", t.Name(), res.Error))
	}

	if !attempted {
		return Result{Success: false, Error: fmt.Sprintf("No transport available for %s", req.App)}
	}
	return Result{Success: false, Error: "All transports failed: " + strings.Join(causes, "; ")}
}

func (r *Router) buildChainLocked(req Request) []Transport {
	var chain []Transport
	for _, t := range r.transports {
		if t.CanHandle(req.App, req.BundleID) && actionsInclude(t.Capabilities(), req.Action) {
			chain = append(chain, t)
		}
	}
	if len(r.preferences) == 0 {
		return chain
	}

	byName := make(map[string]Transport, len(chain))
	for _, t := range chain {
		byName[t.Name()] = t
	}
	var reordered []Transport
	used := make(map[string]bool)
	for _, name := range r.preferences {
		if t, ok := byName[name]; ok && !used[name] {
			reordered = append(reordered, t)
			used[name] = true
		}
	}
	for _, t := range chain {
		if !used[t.Name()] {
			reordered = append(reordered, t)
		}
	}
	return reordered
}
