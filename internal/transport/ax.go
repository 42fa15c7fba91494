package transport

import (
	"context"
	"fmt"
)

// DefaultMaxDepth bounds how deep the AX transport will walk the host tree.
const DefaultMaxDepth = 50

// HostAX is the thin adapter over the host's accessibility API: read-only
// element handles, attribute reads, and action performs. A reimplementer
// may substitute any equivalent; axd treats it as an external collaborator.
type HostAX interface {
	// Snapshot returns the raw tree for app, bounded to maxDepth.
	Snapshot(ctx context.Context, app string, maxDepth int) (RawTreeJSON string, err error)
	// PerformAction invokes action (click, fill, clear, toggle, select,
	// focus) on the element identified by handle, with an optional value.
	PerformAction(ctx context.Context, handle, action, value string) error
}

// RefResolver maps a stable element ref back to the host's opaque handle,
// per the ref-map attached to the most recent snapshot for that app.
type RefResolver interface {
	ResolveRef(app, ref string) (handle string, ok bool)
}

// AXTransport performs snapshot reads and ref-targeted actions via the
// host accessibility API. It declines eval and script.
type AXTransport struct {
	host     HostAX
	refs     RefResolver
	maxDepth int
	stats    *Stats
}

func NewAXTransport(host HostAX, refs RefResolver) *AXTransport {
	return &AXTransport{host: host, refs: refs, maxDepth: DefaultMaxDepth, stats: NewStats()}
}

func (t *AXTransport) SetMaxDepth(d int) { t.maxDepth = d }

func (t *AXTransport) Name() string { return "ax" }

func (t *AXTransport) CanHandle(app, bundleID string) bool { return true }

func (t *AXTransport) Capabilities() []Action {
	return []Action{ActionSnapshot, ActionClick, ActionFill, ActionClear, ActionToggle, ActionSelect, ActionFocus}
}

func (t *AXTransport) Health() Health { return t.stats.Health() }

func (t *AXTransport) Execute(ctx context.Context, req Request) Result {
	var res Result
	switch req.Action {
	case ActionSnapshot:
		res = t.snapshot(ctx, req)
	case ActionClick, ActionFill, ActionClear, ActionToggle, ActionSelect, ActionFocus:
		res = t.act(ctx, req)
	case ActionEval, ActionScript:
		res = Result{Success: false, Error: "ax transport declines " + string(req.Action)}
	default:
		res = Result{Success: false, Error: "ax transport: unsupported action " + string(req.Action)}
	}
	t.stats.Record(res.Success)
	return res
}

func (t *AXTransport) snapshot(ctx context.Context, req Request) Result {
	raw, err := t.host.Snapshot(ctx, req.App, t.maxDepth)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Value: raw}
}

func (t *AXTransport) act(ctx context.Context, req Request) Result {
	handle, ok := t.refs.ResolveRef(req.App, req.Ref)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown ref %q for %s", req.Ref, req.App)}
	}
	if err := t.host.PerformAction(ctx, handle, string(req.Action), req.Value); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}
