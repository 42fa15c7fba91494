package model

import (
	"time"

	"github.com/gobwas/glob"
)

// Event is an immutable, dotted-type notification published on the bus.
type Event struct {
	Type      string           `json:"type"`
	App       string           `json:"app,omitempty"`
	BundleID  string           `json:"bundle_id,omitempty"`
	PID       int              `json:"pid,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Details   map[string]Value `json:"details,omitempty"`
}

// TypeFilterMatches implements the bus's glob-prefix matching rule:
// "*" matches everything; "p.*" matches any type starting with "p." that has
// at least one character after the dot; an exact filter must match verbatim.
// A bare "*" is handled directly since glob.Compile("*") would also match the
// empty string, which is never a valid event type here.
func TypeFilterMatches(filter, eventType string) bool {
	if eventType == "" {
		return false
	}
	if filter == "*" {
		return true
	}
	g, err := glob.Compile(filter, '.')
	if err != nil {
		return filter == eventType
	}
	if !g.Match(eventType) {
		return false
	}
	// "p.*" must not match "p." itself — glob already requires a non-empty
	// segment after the dot because '.' is a glob separator here.
	return true
}
