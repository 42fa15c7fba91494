package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/axbridge/axd/internal/axerr"
	"github.com/axbridge/axd/internal/enhance"
	"github.com/axbridge/axd/internal/eventbus"
	"github.com/axbridge/axd/internal/groups"
	"github.com/axbridge/axd/internal/milestone"
	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/procwatch"
	"github.com/axbridge/axd/internal/transport"
	"github.com/axbridge/axd/internal/webhook"
)

// groupForwarder publishes to the bus and, for a process tracked within a
// named group, also drives that group's state machine from the same event —
// so a watched process's output updates process.group.state_change without
// the pipe handler needing to replay events out of the bus after the fact.
type groupForwarder struct {
	bus     *eventbus.Bus
	tracker *groups.Tracker
	group   string
	command string
}

func (f *groupForwarder) Publish(e model.Event) {
	f.bus.Publish(e)
	if f.group != "" {
		f.tracker.HandleEvent(f.group, e, f.command)
	}
}

// watchedProcess is one process.watch registration: a line watcher plus any
// milestone engines evaluating its output, and the process group (if any)
// it reports state transitions into. cancelFollow stops the log-file
// follower goroutine (if one was started) on unwatch or on exit detection.
type watchedProcess struct {
	app          string
	group        string
	command      string
	watcher      *procwatch.Watcher
	milestones   []*milestone.Engine
	cancelFollow context.CancelFunc
}

// registerHandlers binds every allowed method to its implementation. Called
// once from New, before the caller has a chance to register platform
// transports — handlers read d.Router at call time, not at registration
// time, so ordering with transport registration does not matter.
func (d *Daemon) registerHandlers() {
	d.dispatcher.Register("ping", d.handlePing)
	d.dispatcher.Register("status", d.handleStatus)
	d.dispatcher.Register("health", d.handleHealth)
	d.dispatcher.Register("list", d.handleList)
	d.dispatcher.Register("snapshot", d.handleSnapshot)
	d.dispatcher.Register("act", d.handleAct)
	d.dispatcher.Register("pipe", d.handlePipe)
	d.dispatcher.Register("screenshot", d.handleScreenshot)
	d.dispatcher.Register("web.extract", d.handleWebExtract)
	d.dispatcher.Register("web.eval", d.handleWebEval)
	d.dispatcher.Register("process.watch", d.handleProcessWatch)
	d.dispatcher.Register("process.unwatch", d.handleProcessUnwatch)
	d.dispatcher.Register("process.list", d.handleProcessList)
	d.dispatcher.Register("process.group.get", d.handleGroupGet)
	d.dispatcher.Register("process.group.clear", d.handleGroupClear)
	d.dispatcher.Register("process.group.list", d.handleGroupList)
	d.dispatcher.Register("events", d.handleEvents)
	d.dispatcher.Register("events.subscribe.webhook", d.handleEventsSubscribeWebhook)
	d.dispatcher.Register("events.unsubscribe", d.handleEventsUnsubscribe)
	d.dispatcher.Register("events.subscriptions", d.handleEventsSubscriptions)
}

func decodeParams(raw json.RawMessage, v any) *axerr.Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return axerr.New(axerr.InvalidRequest, "invalid params: "+err.Error())
	}
	return nil
}

func (d *Daemon) handlePing(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	return map[string]any{"status": "ok", "time": time.Now().UTC()}, nil
}

func (d *Daemon) handleStatus(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	return map[string]any{
		"uptime_seconds":   int(time.Since(d.startedAt).Seconds()),
		"cache":            d.Cache.Stats(),
		"tombstones":       d.RefStore.TombstoneCount(),
		"events_buffered":  d.Bus.EventCount(),
		"transport_health": d.Router.TransportHealth(),
	}, nil
}

func (d *Daemon) handleHealth(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	return map[string]any{"transports": d.Router.TransportHealth()}, nil
}

func (d *Daemon) handleList(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	return map[string]any{"apps": d.Cache.Apps()}, nil
}

type snapshotParams struct {
	App      string `json:"app"`
	BundleID string `json:"bundle_id"`
	Fresh    bool   `json:"fresh"`
}

func (d *Daemon) handleSnapshot(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p snapshotParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	if p.App == "" {
		return nil, axerr.New(axerr.InvalidRequest, "app is required")
	}

	if !p.Fresh {
		if snap, ok := d.Cache.Get(p.App); ok {
			return snap, nil
		}
	}

	res := d.Router.Execute(ctx, transport.Request{Action: transport.ActionSnapshot, App: p.App, BundleID: p.BundleID})
	if !res.Success {
		return nil, axerr.New(axerr.TransportFailed, res.Error)
	}

	var root model.RawNode
	if err := json.Unmarshal([]byte(res.Value), &root); err != nil {
		return nil, axerr.Wrap(axerr.Internal, "malformed raw tree from transport", err)
	}

	enh := d.enhancers.For(p.BundleID)
	snap := enh.Enhance(&root, enhance.Meta{App: p.App, BundleID: p.BundleID, Now: time.Now()})

	d.handles.Update(p.App, snap)
	d.Cache.Put(p.App, snap, transportNameFor(res))
	return snap, nil
}

// transportNameFor infers which cache TTL class to apply. The router does
// not currently report which transport produced a Result, so snapshot
// results are cached under the "ax" class; a reimplementer wiring CDP-backed
// snapshots should extend transport.Result with a Transport field.
func transportNameFor(res transport.Result) string { return "ax" }

type actParams struct {
	App    string `json:"app"`
	Ref    string `json:"ref"`
	Action string `json:"action"`
	Value  string `json:"value"`
}

var actionByName = map[string]transport.Action{
	"click":  transport.ActionClick,
	"fill":   transport.ActionFill,
	"clear":  transport.ActionClear,
	"toggle": transport.ActionToggle,
	"select": transport.ActionSelect,
	"focus":  transport.ActionFocus,
}

func (d *Daemon) handleAct(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p actParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	action, ok := actionByName[p.Action]
	if !ok {
		return nil, axerr.New(axerr.InvalidRequest, "unknown action: "+p.Action)
	}
	if p.App == "" || p.Ref == "" {
		return nil, axerr.New(axerr.InvalidRequest, "app and ref are required")
	}

	res := d.Router.Execute(ctx, transport.Request{Action: action, App: p.App, Ref: p.Ref, Value: p.Value})
	if !res.Success {
		return nil, axerr.New(axerr.TransportFailed, res.Error)
	}
	d.Cache.Invalidate(p.App)
	return map[string]any{"success": true}, nil
}

type pipeParams struct {
	PID  int    `json:"pid"`
	Line string `json:"line"`
}

func (d *Daemon) handlePipe(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p pipeParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	d.procMu.Lock()
	wp, ok := d.procs[p.PID]
	d.procMu.Unlock()
	if !ok {
		return nil, axerr.New(axerr.InvalidRequest, fmt.Sprintf("pid %d is not being watched", p.PID))
	}

	wp.watcher.HandleLine(p.Line)
	for _, eng := range wp.milestones {
		if m, ok := eng.Evaluate(p.Line, 0, p.PID); ok && !m.Suppressed {
			d.Bus.Publish(m.ToEvent(wp.app))
		}
	}
	return map[string]any{"accepted": true}, nil
}

type screenshotParams struct {
	App    string `json:"app"`
	Script string `json:"script"`
}

func (d *Daemon) handleScreenshot(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p screenshotParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	if p.Script == "" {
		return nil, axerr.New(axerr.InvalidRequest, "script is required")
	}
	res := d.Router.Execute(ctx, transport.Request{Action: transport.ActionScript, App: p.App, Expr: p.Script})
	if !res.Success {
		return nil, axerr.New(axerr.TransportFailed, res.Error)
	}
	return map[string]any{"data": res.Value}, nil
}

type webParams struct {
	App  string `json:"app"`
	Expr string `json:"expr"`
}

func (d *Daemon) handleWebExtract(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p webParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	res := d.Router.Execute(ctx, transport.Request{Action: transport.ActionSafariExtract, App: p.App, Expr: p.Expr})
	if !res.Success {
		return nil, axerr.New(axerr.TransportFailed, res.Error)
	}
	return map[string]any{"result": res.Value}, nil
}

func (d *Daemon) handleWebEval(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p webParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	if p.Expr == "" {
		return nil, axerr.New(axerr.InvalidRequest, "expr is required")
	}
	res := d.Router.Execute(ctx, transport.Request{Action: transport.ActionEval, App: p.App, Expr: p.Expr})
	if !res.Success {
		return nil, axerr.New(axerr.TransportFailed, res.Error)
	}
	return map[string]any{"result": res.Value}, nil
}

type watchParams struct {
	PID        int                    `json:"pid"`
	App        string                 `json:"app"`
	Group      string                 `json:"group"`
	Command    string                 `json:"command"`
	LogPath    string                 `json:"log_path"`
	Milestones []milestone.Definition `json:"milestones"`
}

func (d *Daemon) handleProcessWatch(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p watchParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	if p.PID <= 0 {
		return nil, axerr.New(axerr.InvalidRequest, "pid is required")
	}

	engines := make([]*milestone.Engine, 0, len(p.Milestones))
	for _, def := range p.Milestones {
		if err := milestone.Validate(def); err != nil {
			return nil, axerr.Wrap(axerr.InvalidRequest, "invalid milestone definition", err)
		}
		if err := milestone.Compile(&def); err != nil {
			return nil, axerr.Wrap(axerr.InvalidRequest, "failed to compile milestone patterns", err)
		}
		engines = append(engines, milestone.NewEngine(def))
	}

	wp := &watchedProcess{
		app:     p.App,
		group:   p.Group,
		command: p.Command,
		watcher: procwatch.New(p.PID, p.App, &groupForwarder{
			bus: d.Bus, tracker: d.Groups, group: p.Group, command: p.Command,
		}),
		milestones: engines,
	}

	// process.watch's pipe path (external lines pushed via the pipe method)
	// and its log-file path (lines read by following a file on disk) are
	// alternatives: a caller that already has a log file to tail does not
	// need to also relay lines over pipe.
	if p.LogPath != "" {
		followCtx, cancel := context.WithCancel(context.Background())
		wp.cancelFollow = cancel
		follower := procwatch.NewLogFollower(p.LogPath, wp.watcher)
		go func() {
			if err := follower.Run(followCtx); err != nil {
				d.log.Warn().Err(err).Int("pid", p.PID).Str("log_path", p.LogPath).Msg("daemon: log follower stopped")
			}
		}()
	}

	d.procMu.Lock()
	d.procs[p.PID] = wp
	d.procMu.Unlock()

	if p.Group != "" {
		d.Groups.Track(p.Group, p.App, p.PID)
	}
	return map[string]any{"watching": true}, nil
}

type unwatchParams struct {
	PID int `json:"pid"`
}

func (d *Daemon) handleProcessUnwatch(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p unwatchParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	d.procMu.Lock()
	wp, ok := d.procs[p.PID]
	delete(d.procs, p.PID)
	d.procMu.Unlock()
	if ok && wp.cancelFollow != nil {
		wp.cancelFollow()
	}
	return map[string]any{"unwatched": ok}, nil
}

// reapProcs checks every watched process for exit or idleness, per spec.md
// §4.9's exit-detection and idle-timeout behavior: a process whose PID has
// gone is reported via HandleExit and unregistered; a live process that
// has produced no output within its idle timeout is reported via CheckIdle.
func (d *Daemon) reapProcs() {
	d.procMu.Lock()
	snapshot := make(map[int]*watchedProcess, len(d.procs))
	for pid, wp := range d.procs {
		snapshot[pid] = wp
	}
	d.procMu.Unlock()

	for pid, wp := range snapshot {
		if isProcessAlive(pid) {
			wp.watcher.CheckIdle()
			continue
		}
		wp.watcher.HandleExit(0)
		if wp.cancelFollow != nil {
			wp.cancelFollow()
		}
		d.procMu.Lock()
		delete(d.procs, pid)
		d.procMu.Unlock()
	}
}

func (d *Daemon) handleProcessList(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	d.procMu.Lock()
	defer d.procMu.Unlock()
	out := make([]map[string]any, 0, len(d.procs))
	for pid, wp := range d.procs {
		out = append(out, map[string]any{"pid": pid, "app": wp.app, "group": wp.group})
	}
	return map[string]any{"processes": out}, nil
}

type groupParams struct {
	Group string `json:"group"`
}

func (d *Daemon) handleGroupGet(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p groupParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	snap, ok := d.Groups.Snapshot(p.Group)
	if !ok {
		return nil, axerr.New(axerr.InvalidRequest, "unknown group: "+p.Group)
	}
	return snap, nil
}

func (d *Daemon) handleGroupClear(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	d.Groups.Clear()
	return map[string]any{"cleared": true}, nil
}

func (d *Daemon) handleGroupList(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	return map[string]any{"groups": d.Groups.List()}, nil
}

type eventsParams struct {
	App   string   `json:"app"`
	Types []string `json:"types"`
	Limit int      `json:"limit"`
}

func (d *Daemon) handleEvents(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p eventsParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	events := d.Bus.GetRecent(eventbus.Filter{AppFilter: p.App, Types: p.Types}, p.Limit)
	return map[string]any{"events": events}, nil
}

type webhookSubscribeParams struct {
	Name            string         `json:"name"`
	URL             string         `json:"url"`
	BearerToken     string         `json:"bearer_token"`
	CooldownSeconds int            `json:"cooldown_seconds"`
	MaxPerHour      int            `json:"max_per_hour"`
	App             string         `json:"app"`
	Types           []string       `json:"types"`
	Metadata        map[string]any `json:"metadata"`
}

func (d *Daemon) handleEventsSubscribeWebhook(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p webhookSubscribeParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	if p.Name == "" || p.URL == "" {
		return nil, axerr.New(axerr.InvalidRequest, "name and url are required")
	}

	cfg := webhook.Config{
		URL:         p.URL,
		BearerToken: p.BearerToken,
		Metadata:    p.Metadata,
	}
	if p.CooldownSeconds > 0 {
		cfg.Cooldown = time.Duration(p.CooldownSeconds) * time.Second
	}
	if p.MaxPerHour > 0 {
		cfg.MaxPerHour = p.MaxPerHour
	}

	sub := webhook.New(cfg, http.DefaultClient, d.log)
	d.RegisterWebhook(p.Name, sub, eventbus.Filter{AppFilter: p.App, Types: p.Types})
	return map[string]any{"subscribed": true}, nil
}

type unsubscribeParams struct {
	Name string `json:"name"`
}

func (d *Daemon) handleEventsUnsubscribe(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	var p unsubscribeParams
	if aerr := decodeParams(params, &p); aerr != nil {
		return nil, aerr
	}
	return map[string]any{"unsubscribed": d.UnregisterWebhook(p.Name)}, nil
}

func (d *Daemon) handleEventsSubscriptions(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
	d.webhooksMu.Lock()
	defer d.webhooksMu.Unlock()
	out := make(map[string]any, len(d.webhooks))
	for name, rw := range d.webhooks {
		out[name] = map[string]any{"url_app_filter": rw.filter.AppFilter, "counters": rw.sub.Counters()}
	}
	return map[string]any{"subscriptions": out}, nil
}
