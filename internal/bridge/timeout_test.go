// timeout_test.go — Tests for MethodTimeout.
package bridge

import (
	"testing"
	"time"
)

func TestMethodTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method   string
		expected time.Duration
	}{
		{"ping gets fast timeout", "ping", FastTimeout},
		{"status gets fast timeout", "status", FastTimeout},
		{"snapshot gets transport timeout", "snapshot", TransportTimeout},
		{"click gets transport timeout", "click", TransportTimeout},
		{"fill gets transport timeout", "fill", TransportTimeout},
		{"toggle gets transport timeout", "toggle", TransportTimeout},
		{"pipe gets script timeout", "pipe", ScriptTimeout},
		{"web.eval gets cdp timeout", "web.eval", CDPTimeout},
		{"subscribe is long-lived", "subscribe", SubscribeTimeout},
		{"unknown method gets fast timeout", "unknown", FastTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := MethodTimeout(tc.method)
			if got != tc.expected {
				t.Errorf("MethodTimeout(%s) = %v, want %v", tc.method, got, tc.expected)
			}
		})
	}
}
