package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultScriptTimeout bounds a single host-script invocation.
const DefaultScriptTimeout = 3 * time.Second

// ScriptTransport spawns the host's scripting interpreter (osascript on
// macOS) to evaluate a user-supplied expression. It handles only the
// script action.
type ScriptTransport struct {
	interpreter string   // e.g. "osascript"
	baseArgs    []string // e.g. ["-e"]
	timeout     time.Duration
	stats       *Stats
}

func NewScriptTransport(interpreter string, baseArgs []string) *ScriptTransport {
	return &ScriptTransport{interpreter: interpreter, baseArgs: baseArgs, timeout: DefaultScriptTimeout, stats: NewStats()}
}

func (t *ScriptTransport) SetTimeout(d time.Duration) { t.timeout = d }

func (t *ScriptTransport) Name() string { return "host-script" }

func (t *ScriptTransport) CanHandle(app, bundleID string) bool { return true }

func (t *ScriptTransport) Capabilities() []Action { return []Action{ActionScript} }

func (t *ScriptTransport) Health() Health { return t.stats.Health() }

func (t *ScriptTransport) Execute(ctx context.Context, req Request) Result {
	if req.Action != ActionScript {
		return Result{Success: false, Error: "host-script transport only supports script"}
	}
	res := t.run(ctx, req.App, req.Expr)
	t.stats.Record(res.Success)
	return res
}

func (t *ScriptTransport) run(ctx context.Context, app, expr string) Result {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body := WrapExpression(app, expr)
	args := append(append([]string{}, t.baseArgs...), body)
	cmd := exec.CommandContext(runCtx, t.interpreter, args...) // #nosec G204 -- host scripting interpreter invoked with caller-supplied automation expression by design

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("host-script: %v: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return Result{Success: true, Value: strings.TrimSpace(stdout.String())}
}

// WrapExpression wraps a single-expression body in the
// tell application "<name>" ... end tell idiom unless the caller already
// supplied their own tell block.
func WrapExpression(app, expr string) string {
	if strings.Contains(expr, "tell application") {
		return expr
	}
	return fmt.Sprintf(`tell application "%s"
%s
end tell`, app, expr)
}
