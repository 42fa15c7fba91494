package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CDPConfig configures the Chrome DevTools Protocol transport.
type CDPConfig struct {
	Port            int
	AllowedBundleIDs []string
	AllowedNames    []string
	DialTimeout     time.Duration
}

// CDPTransport evaluates JavaScript in a Chromium-backed app over a pooled
// WebSocket connection to its DevTools endpoint. It only handles
// applications on the bundle-id/name allowlist, and only the eval action.
type CDPTransport struct {
	cfg   CDPConfig
	stats *Stats

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

func NewCDPTransport(cfg CDPConfig) *CDPTransport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &CDPTransport{cfg: cfg, stats: NewStats()}
}

func (t *CDPTransport) Name() string { return "cdp" }

func (t *CDPTransport) CanHandle(app, bundleID string) bool {
	for _, id := range t.cfg.AllowedBundleIDs {
		if strings.EqualFold(id, bundleID) {
			return true
		}
	}
	for _, name := range t.cfg.AllowedNames {
		if strings.EqualFold(name, app) {
			return true
		}
	}
	return false
}

func (t *CDPTransport) Capabilities() []Action { return []Action{ActionEval} }

func (t *CDPTransport) Health() Health { return t.stats.Health() }

func (t *CDPTransport) Execute(ctx context.Context, req Request) Result {
	if req.Action != ActionEval {
		return Result{Success: false, Error: "cdp transport only supports eval"}
	}
	res := t.evaluate(ctx, req.Expr)
	t.stats.Record(res.Success)
	return res
}

func (t *CDPTransport) evaluate(ctx context.Context, expr string) Result {
	result, err := t.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
	})
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	var decoded struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Value: string(decoded.Result.Value)}
}

// send issues one CDP command over the pooled connection, reconnecting on
// demand if the prior connection has gone dead.
func (t *CDPTransport) send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connectLocked(ctx)
	if err != nil {
		return nil, err
	}

	t.nextID++
	id := t.nextID
	msg := map[string]any{"id": id, "method": method, "params": params}
	if err := conn.WriteJSON(msg); err != nil {
		t.evictLocked()
		return nil, fmt.Errorf("cdp: write failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.evictLocked()
			return nil, fmt.Errorf("cdp: read failed: %w", err)
		}
		var resp struct {
			ID     int             `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &resp) == nil && resp.ID == id {
			if resp.Error != nil {
				return nil, fmt.Errorf("cdp: %s", resp.Error.Message)
			}
			return resp.Result, nil
		}
	}
}

func (t *CDPTransport) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	wsURL, err := t.discoverPageURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial failed: %w", err)
	}
	t.conn = conn
	return conn, nil
}

func (t *CDPTransport) evictLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// discoverPageURL queries the local DevTools /json endpoint and returns the
// first page's WebSocket debugger URL.
func (t *CDPTransport) discoverPageURL(ctx context.Context) (string, error) {
	url := fmt.Sprintf("http://localhost:%d/json", t.cfg.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cdp: discovery failed: %w", err)
	}
	defer resp.Body.Close()

	var pages []struct {
		Type                 string `json:"type"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		return "", fmt.Errorf("cdp: decode /json response: %w", err)
	}
	for _, p := range pages {
		if p.Type == "page" && p.WebSocketDebuggerURL != "" {
			return p.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("cdp: no page target available")
}
