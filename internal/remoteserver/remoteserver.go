// Package remoteserver is the optional remote HTTP server: handshake/auth,
// a bearer-token-gated /rpc endpoint sharing the local dispatcher, federated
// event push, and the separate pairing-based ingest flow for peer snapshots.
// Kept intentionally distinct from the handshake/auth flow — the two exist
// for different trust models (an operator driving this daemon remotely vs.
// a peer daemon pushing its own snapshots) and are not interchangeable.
package remoteserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/axerr"
	"github.com/axbridge/axd/internal/hmacauth"
	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/redaction"
	"github.com/axbridge/axd/internal/rpcserver"
)

// BlockedBundleIDs is the hard-coded sensitive-app blocklist applied to
// federated ingest regardless of any configured blocklist.
var BlockedBundleIDs = map[string]bool{
	"com.apple.keychainaccess": true,
	"com.1password.1password":  true,
	"com.agilebits.onepassword7": true,
	"com.lastpass.lastpass":    true,
	"com.bitwarden.desktop":    true,
}

// Config configures one remote server instance.
type Config struct {
	Bind        string
	Port        int
	BlockedApps []string // per-deployment app blocklist, in addition to BlockedBundleIDs
}

// PeerRegistry is the pairing-flow's pre-shared-key table: one entry per
// peer daemon authorized to push ingest payloads.
type PeerRegistry struct {
	mu     sync.Mutex
	peers  map[string][]byte // peer name -> pre-shared key
	tokens map[string]peerSession
	now    func() time.Time
}

type peerSession struct {
	peer      string
	expiresAt time.Time
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string][]byte), tokens: make(map[string]peerSession), now: time.Now}
}

func (r *PeerRegistry) Register(peer string, presharedKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer] = presharedKey
}

func (r *PeerRegistry) keyFor(peer string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.peers[peer]
	return k, ok
}

func (r *PeerRegistry) issue(peer string, ttl time.Duration) (string, error) {
	tok, err := hmacauth.NewSessionToken()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.tokens[tok] = peerSession{peer: peer, expiresAt: r.now().Add(ttl)}
	r.mu.Unlock()
	return tok, nil
}

func (r *PeerRegistry) peerFor(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.tokens[token]
	if !ok || s.expiresAt.Before(r.now()) {
		return "", false
	}
	return s.peer, true
}

// SnapshotSink receives a peer's scrubbed ingest payload, keyed by peer name.
type SnapshotSink interface {
	StoreIngest(peer string, payload json.RawMessage)
}

// Server is the remote HTTP surface.
type Server struct {
	cfg        Config
	dispatcher *rpcserver.Dispatcher
	auth       *hmacauth.Manager
	peers      *PeerRegistry
	redactor   *redaction.RedactionEngine
	sink       SnapshotSink
	log        zerolog.Logger

	httpSrv *http.Server
}

func NewServer(cfg Config, dispatcher *rpcserver.Dispatcher, auth *hmacauth.Manager, peers *PeerRegistry, redactor *redaction.RedactionEngine, sink SnapshotSink, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, dispatcher: dispatcher, auth: auth, peers: peers, redactor: redactor, sink: sink, log: log}
}

func (s *Server) isAppBlocked(app string) bool {
	for _, b := range s.cfg.BlockedApps {
		if strings.EqualFold(b, app) {
			return true
		}
	}
	return false
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/handshake", s.handleHandshake)
	mux.HandleFunc("/auth", s.handleAuth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/stream/push", s.handleStreamPush)
	mux.HandleFunc("/remote-ping", s.handleRemotePing)
	mux.HandleFunc("/remote-handshake", s.handleRemoteHandshake)
	mux.HandleFunc("/remote-ingest", s.handleRemoteIngest)
	return mux
}

// handleHealthz is the unauthenticated liveness probe bridge.IsServerRunning
// and bridge.WaitForServer poll against during daemon startup.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe binds cfg.Bind:cfg.Port and serves until the listener is
// closed.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	s.httpSrv = &http.Server{Addr: addr, Handler: s.routes()}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	challenge, ttl, err := s.auth.IssueChallenge()
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "handshake failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenge": challenge, "expires_in": int(ttl.Seconds())})
}

type authRequest struct {
	Sig       string `json:"sig"`
	Challenge string `json:"challenge"`
	TS        int64  `json:"ts"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusUnauthorized, "malformed auth request")
		return
	}
	token, ttl, err := s.auth.Authenticate(req.Challenge, req.TS, req.Sig)
	if err != nil {
		writeErrorStatus(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "ttl": int(ttl.Seconds())})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok || !s.auth.ValidateToken(token) {
		writeErrorStatus(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	var req model.RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusUnauthorized, "malformed JSON-RPC request")
		return
	}

	var target struct {
		App string `json:"app"`
	}
	_ = json.Unmarshal(req.Params, &target)
	if target.App != "" && s.isAppBlocked(target.App) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "app blocked"})
		return
	}

	result, aerr := s.dispatcher.Dispatch(r.Context(), req.Method, req.Params)
	if aerr != nil {
		if aerr.Kind == axerr.MethodNotAllowed {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": aerr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, model.RPCResponse{JSONRPC: "2.0", Error: aerr.JSONRPC(), ID: req.ID})
		return
	}
	writeJSON(w, http.StatusOK, model.RPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) handleStreamPush(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok || !s.auth.ValidateToken(token) {
		writeErrorStatus(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	dec := json.NewDecoder(r.Body)
	var count int
	for dec.More() {
		var e model.Event
		if err := dec.Decode(&e); err != nil {
			writeErrorStatus(w, http.StatusUnauthorized, "malformed event in NDJSON batch")
			return
		}
		s.dispatcher.Bus().Publish(e)
		count++
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": count})
}

func (s *Server) handleRemotePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type remoteHandshakeRequest struct {
	Peer string `json:"peer"`
	Sig  string `json:"sig"`
	TS   int64  `json:"ts"`
}

// handleRemoteHandshake is the pairing flow's proof-of-possession step: the
// peer signs its own name with the pre-shared key it was registered with
// out-of-band, and receives a session token scoped to ingest only.
func (s *Server) handleRemoteHandshake(w http.ResponseWriter, r *http.Request) {
	var req remoteHandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusUnauthorized, "malformed pairing request")
		return
	}
	key, ok := s.peers.keyFor(req.Peer)
	if !ok {
		writeErrorStatus(w, http.StatusUnauthorized, "unknown peer")
		return
	}
	now := time.Now().Unix()
	if d := now - req.TS; d > 30 || d < -30 {
		writeErrorStatus(w, http.StatusUnauthorized, "timestamp out of tolerance")
		return
	}
	if !hmacauth.Verify(key, req.Peer, req.TS, req.Sig) {
		writeErrorStatus(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	token, err := s.peers.issue(req.Peer, hmacauth.DefaultTokenTTL)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "ttl": int(hmacauth.DefaultTokenTTL.Seconds())})
}

// handleRemoteIngest accepts a paired peer's pushed snapshot, scrubs it, and
// blocks it outright if it names a sensitive bundle id.
func (s *Server) handleRemoteIngest(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeErrorStatus(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	peer, ok := s.peers.peerFor(token)
	if !ok {
		writeErrorStatus(w, http.StatusUnauthorized, "invalid or expired ingest token")
		return
	}

	var body struct {
		BundleID string          `json:"bundle_id"`
		Snapshot json.RawMessage `json:"snapshot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorStatus(w, http.StatusUnauthorized, "malformed ingest payload")
		return
	}
	if BlockedBundleIDs[strings.ToLower(body.BundleID)] {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "app blocked"})
		return
	}

	scrubbed := s.redactor.RedactJSON(body.Snapshot)
	if s.sink != nil {
		s.sink.StoreIngest(peer, scrubbed)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}
