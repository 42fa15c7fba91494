package remoteserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/axerr"
	"github.com/axbridge/axd/internal/eventbus"
	"github.com/axbridge/axd/internal/hmacauth"
	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/redaction"
	"github.com/axbridge/axd/internal/rpcserver"
)

type recordingSink struct {
	peer    string
	payload json.RawMessage
}

func (s *recordingSink) StoreIngest(peer string, payload json.RawMessage) {
	s.peer = peer
	s.payload = payload
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *hmacauth.Manager, *PeerRegistry, *recordingSink) {
	t.Helper()
	d := rpcserver.NewDispatcher(eventbus.New())
	d.Register("ping", func(ctx context.Context, params json.RawMessage) (any, *axerr.Error) {
		return map[string]string{"status": "pong"}, nil
	})

	auth := hmacauth.New([]byte("shared-secret"))
	peers := NewPeerRegistry()
	peers.Register("peer-a", []byte("peer-a-key"))
	sink := &recordingSink{}

	srv := NewServer(cfg, d, auth, peers, redaction.NewRedactionEngine(""), sink, zerolog.Nop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, auth, peers, sink
}

func doRequest(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func nowUnixSeconds() int64 { return time.Now().Unix() }

func TestHandshakeAuthRPCRoundTrip(t *testing.T) {
	t.Parallel()
	ts, _, _, _ := newTestServer(t, Config{})

	token := authenticateWithRealClock(t, ts)
	req := model.RPCRequest{JSONRPC: "2.0", Method: "ping", ID: model.NewRPCID(1)}
	resp, raw := doRequest(t, http.MethodPost, ts.URL+"/rpc", req, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/rpc status = %d body=%s", resp.StatusCode, raw)
	}
	var out model.RPCResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal rpc response: %v", err)
	}
	if out.Error != nil {
		t.Fatalf("rpc error: %+v", out.Error)
	}
}

// authenticateWithRealClock performs the handshake/auth flow using the
// manager's actual wall clock for ts, since the server under test was built
// with a real-time hmacauth.Manager.
func authenticateWithRealClock(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, raw := doRequest(t, http.MethodGet, ts.URL+"/handshake", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/handshake status = %d", resp.StatusCode)
	}
	var h struct {
		Challenge string `json:"challenge"`
	}
	_ = json.Unmarshal(raw, &h)

	nowUnix := nowUnixSeconds()
	sig := hmacauth.Sign([]byte("shared-secret"), h.Challenge, nowUnix)
	resp2, raw2 := doRequest(t, http.MethodPost, ts.URL+"/auth", authRequest{Sig: sig, Challenge: h.Challenge, TS: nowUnix}, nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("/auth status = %d body=%s", resp2.StatusCode, raw2)
	}
	var a struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(raw2, &a)
	return a.Token
}

func TestRPC_RejectsMissingToken(t *testing.T) {
	t.Parallel()
	ts, _, _, _ := newTestServer(t, Config{})
	req := model.RPCRequest{JSONRPC: "2.0", Method: "ping", ID: model.NewRPCID(1)}
	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/rpc", req, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRPC_BlockedAppReturns403(t *testing.T) {
	t.Parallel()
	ts, _, _, _ := newTestServer(t, Config{BlockedApps: []string{"Keychain Access"}})
	token := authenticateWithRealClock(t, ts)

	params, _ := json.Marshal(map[string]string{"app": "Keychain Access"})
	req := model.RPCRequest{JSONRPC: "2.0", Method: "ping", Params: params, ID: model.NewRPCID(1)}
	resp, raw := doRequest(t, http.MethodPost, ts.URL+"/rpc", req, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body=%s", resp.StatusCode, raw)
	}
}

func TestRemotePing_Unauthenticated(t *testing.T) {
	t.Parallel()
	ts, _, _, _ := newTestServer(t, Config{})
	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/remote-ping", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPairingIngest_ScrubsAndStores(t *testing.T) {
	t.Parallel()
	ts, _, _, sink := newTestServer(t, Config{})

	nowUnix := nowUnixSeconds()
	sig := hmacauth.Sign([]byte("peer-a-key"), "peer-a", nowUnix)
	resp, raw := doRequest(t, http.MethodPost, ts.URL+"/remote-handshake", remoteHandshakeRequest{Peer: "peer-a", Sig: sig, TS: nowUnix}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/remote-handshake status = %d body=%s", resp.StatusCode, raw)
	}
	var h struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(raw, &h)

	payload := map[string]any{
		"bundle_id": "com.example.app",
		"snapshot":  map[string]any{"content": map[string]any{"summary": "api_key=abcdef1234567890secretvalue"}},
	}
	resp2, raw2 := doRequest(t, http.MethodPost, ts.URL+"/remote-ingest", payload, map[string]string{"Authorization": "Bearer " + h.Token})
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("/remote-ingest status = %d body=%s", resp2.StatusCode, raw2)
	}
	if sink.peer != "peer-a" {
		t.Errorf("sink.peer = %q, want peer-a", sink.peer)
	}
	if bytes.Contains(sink.payload, []byte("secretvalue")) {
		t.Errorf("ingest payload not scrubbed: %s", sink.payload)
	}
}

func TestPairingIngest_BlocksSensitiveBundleID(t *testing.T) {
	t.Parallel()
	ts, _, _, sink := newTestServer(t, Config{})

	nowUnix := nowUnixSeconds()
	sig := hmacauth.Sign([]byte("peer-a-key"), "peer-a", nowUnix)
	_, raw := doRequest(t, http.MethodPost, ts.URL+"/remote-handshake", remoteHandshakeRequest{Peer: "peer-a", Sig: sig, TS: nowUnix}, nil)
	var h struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(raw, &h)

	payload := map[string]any{"bundle_id": "com.1password.1password", "snapshot": map[string]any{}}
	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/remote-ingest", payload, map[string]string{"Authorization": "Bearer " + h.Token})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if sink.peer != "" {
		t.Errorf("sink should not have received a blocked-app ingest")
	}
}
