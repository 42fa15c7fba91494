// Package hmacauth implements the remote server's challenge/response
// handshake: HMAC-SHA256(secret, "<challenge>:<ts>") signatures, single-use
// challenges, and session token issuance. Constant-time comparison follows
// the same crypto/subtle pattern the local HTTP auth middleware uses.
package hmacauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// DefaultChallengeTTL is how long a handshake challenge remains valid and
// unconsumed before it expires.
const DefaultChallengeTTL = 30 * time.Second

// DefaultTokenTTL is how long an issued session token remains valid.
const DefaultTokenTTL = 3600 * time.Second

// Sign computes the lowercase-hex HMAC-SHA256 signature of
// "<challenge>:<ts>" under secret.
func Sign(secret []byte, challenge string, ts int64) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(challenge + ":" + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the correct signature for challenge/ts
// under secret, using a constant-time comparison.
func Verify(secret []byte, challenge string, ts int64, sig string) bool {
	want := Sign(secret, challenge, ts)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewChallenge generates a 64-hex-character challenge.
func NewChallenge() (string, error) { return randomHex(32) }

// NewSessionToken generates a 64-byte session token, hex-encoded.
func NewSessionToken() (string, error) { return randomHex(64) }

type challengeEntry struct {
	expiresAt time.Time
	consumed  bool
}

type tokenEntry struct {
	expiresAt time.Time
}

// Manager tracks outstanding challenges and issued session tokens. Safe for
// concurrent use.
type Manager struct {
	mu          sync.Mutex
	secret      []byte
	challengeTTL time.Duration
	tokenTTL    time.Duration
	challenges  map[string]*challengeEntry
	tokens      map[string]*tokenEntry
	now         func() time.Time
}

func New(secret []byte) *Manager {
	return NewWithClock(secret, time.Now)
}

func NewWithClock(secret []byte, now func() time.Time) *Manager {
	return &Manager{
		secret:       secret,
		challengeTTL: DefaultChallengeTTL,
		tokenTTL:     DefaultTokenTTL,
		challenges:   make(map[string]*challengeEntry),
		tokens:       make(map[string]*tokenEntry),
		now:          now,
	}
}

func (m *Manager) SetChallengeTTL(d time.Duration) { m.mu.Lock(); m.challengeTTL = d; m.mu.Unlock() }
func (m *Manager) SetTokenTTL(d time.Duration)     { m.mu.Lock(); m.tokenTTL = d; m.mu.Unlock() }

// IssueChallenge creates and records a new challenge.
func (m *Manager) IssueChallenge() (challenge string, expiresIn time.Duration, err error) {
	c, err := NewChallenge()
	if err != nil {
		return "", 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c] = &challengeEntry{expiresAt: m.now().Add(m.challengeTTL)}
	return c, m.challengeTTL, nil
}

// Authenticate verifies a {sig, challenge, ts} tuple and, on success,
// consumes the challenge and issues a fresh session token.
func (m *Manager) Authenticate(challenge string, ts int64, sig string) (token string, ttl time.Duration, err error) {
	now := m.now()
	if d := now.Unix() - ts; d > 30 || d < -30 {
		return "", 0, fmt.Errorf("hmacauth: timestamp out of tolerance")
	}
	if !Verify(m.secret, challenge, ts, sig) {
		return "", 0, fmt.Errorf("hmacauth: invalid signature")
	}

	m.mu.Lock()
	entry, ok := m.challenges[challenge]
	if !ok || entry.consumed || entry.expiresAt.Before(now) {
		m.mu.Unlock()
		return "", 0, fmt.Errorf("hmacauth: challenge unknown, consumed, or expired")
	}
	entry.consumed = true
	m.mu.Unlock()

	tok, err := NewSessionToken()
	if err != nil {
		return "", 0, err
	}
	m.mu.Lock()
	m.tokens[tok] = &tokenEntry{expiresAt: now.Add(m.tokenTTL)}
	m.mu.Unlock()
	return tok, m.tokenTTL, nil
}

// ValidateToken reports whether token is a live, unexpired session token.
func (m *Manager) ValidateToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tokens[token]
	if !ok {
		return false
	}
	return entry.expiresAt.After(m.now())
}
