package transport

import (
	"context"
	"testing"
)

type fakeTransport struct {
	name    string
	caps    []Action
	canDo   bool
	results []Result // consumed in order across Execute calls
	calls   int
	stats   *Stats
}

func (f *fakeTransport) Name() string                      { return f.name }
func (f *fakeTransport) CanHandle(app, bundleID string) bool { return f.canDo }
func (f *fakeTransport) Capabilities() []Action             { return f.caps }
func (f *fakeTransport) Health() Health {
	if f.stats != nil {
		return f.stats.Health()
	}
	return HealthHealthy
}
func (f *fakeTransport) Execute(ctx context.Context, req Request) Result {
	r := f.results[f.calls%len(f.results)]
	f.calls++
	if f.stats != nil {
		f.stats.Record(r.Success)
	}
	return r
}

func TestRouter_FallsBackToSecondTransportOnFirstFailure(t *testing.T) {
	t.Parallel()
	t1 := &fakeTransport{name: "t1", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: false, Error: "X"}}, stats: NewStats()}
	t2 := &fakeTransport{name: "t2", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: true, Value: "ok"}}, stats: NewStats()}

	r := NewRouter(t1, t2)
	res := r.Execute(context.Background(), Request{Action: ActionSnapshot, App: "X"})

	if !res.Success || res.Value != "ok" {
		t.Fatalf("Execute() = %+v, want success from t2", res)
	}
	if t1.stats.Health() != HealthDegraded && t1.stats.Health() != HealthReconnecting {
		t.Errorf("t1 health after 1 failure = %v", t1.stats.Health())
	}
	if t2.stats.Health() != HealthHealthy {
		t.Errorf("t2 health after 1 success = %v, want healthy", t2.stats.Health())
	}
}

func TestRouter_AllFailReturnsAggregatedError(t *testing.T) {
	t.Parallel()
	t1 := &fakeTransport{name: "t1", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: false, Error: "boom1"}}, stats: NewStats()}
	t2 := &fakeTransport{name: "t2", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: false, Error: "boom2"}}, stats: NewStats()}

	r := NewRouter(t1, t2)
	res := r.Execute(context.Background(), Request{Action: ActionSnapshot, App: "X"})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Fatal("expected aggregated error message")
	}
}

func TestRouter_NoTransportCanHandle(t *testing.T) {
	t.Parallel()
	t1 := &fakeTransport{name: "t1", caps: []Action{ActionSnapshot}, canDo: false}
	r := NewRouter(t1)
	res := r.Execute(context.Background(), Request{Action: ActionSnapshot, App: "X"})
	if res.Success || res.Error == "" {
		t.Fatalf("Execute() = %+v, want no-transport error", res)
	}
}

func TestRouter_PreferenceReordersChain(t *testing.T) {
	t.Parallel()
	slow := &fakeTransport{name: "slow", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: true, Value: "slow"}}, stats: NewStats()}
	fast := &fakeTransport{name: "fast", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: true, Value: "fast"}}, stats: NewStats()}

	r := NewRouter(slow, fast)
	r.SetPreferences([]string{"fast"})
	res := r.Execute(context.Background(), Request{Action: ActionSnapshot, App: "X"})

	if res.Value != "fast" {
		t.Fatalf("Execute() = %+v, want preferred transport to run first", res)
	}
}

func TestRouter_SkipsDeadTransport(t *testing.T) {
	t.Parallel()
	dead := &fakeTransport{name: "dead", caps: []Action{ActionSnapshot}, canDo: true, stats: NewStats()}
	for i := 0; i < 5; i++ {
		dead.stats.Record(false)
	}
	alive := &fakeTransport{name: "alive", caps: []Action{ActionSnapshot}, canDo: true,
		results: []Result{{Success: true, Value: "ok"}}, stats: NewStats()}

	r := NewRouter(dead, alive)
	res := r.Execute(context.Background(), Request{Action: ActionSnapshot, App: "X"})

	if !res.Success || res.Value != "ok" || dead.calls != 0 {
		t.Fatalf("Execute() = %+v, dead.calls=%d, want dead transport skipped entirely", res, dead.calls)
	}
}

func TestStats_HealthDerivation(t *testing.T) {
	t.Parallel()
	s := NewStats()
	for i := 0; i < 10; i++ {
		s.Record(true)
	}
	if s.Health() != HealthHealthy {
		t.Errorf("all-success health = %v, want healthy", s.Health())
	}

	s2 := NewStats()
	for i := 0; i < 5; i++ {
		s2.Record(false)
	}
	if s2.Health() != HealthDead {
		t.Errorf("5 consecutive failures health = %v, want dead", s2.Health())
	}
}

func TestWrapExpression_AddsTellBlockWhenAbsent(t *testing.T) {
	t.Parallel()
	out := WrapExpression("TextEdit", "activate")
	if !contains(out, `tell application "TextEdit"`) || !contains(out, "activate") {
		t.Fatalf("WrapExpression() = %q", out)
	}
}

func TestWrapExpression_LeavesExistingTellBlockAlone(t *testing.T) {
	t.Parallel()
	expr := `tell application "Safari" to activate`
	if got := WrapExpression("Safari", expr); got != expr {
		t.Fatalf("WrapExpression() = %q, want unchanged", got)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
