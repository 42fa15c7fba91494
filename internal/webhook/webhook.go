// Package webhook delivers batched bus events to an HTTP endpoint, subject
// to a cooldown batching window and a rolling-hour circuit breaker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/model"
)

// Defaults per the delivery subsystem's configuration knobs.
const (
	DefaultCooldown           = 300 * time.Second
	DefaultCircuitMaxPerHour  = 20
)

// Config configures one webhook subscription.
type Config struct {
	URL           string
	BearerToken   string
	Cooldown      time.Duration
	MaxPerHour    int
	Metadata      map[string]any
}

// Counters reports delivery outcomes, exposed to events.subscriptions.
type Counters struct {
	Delivered int
	Failed    int
}

// Doer is the subset of *http.Client the subscription needs; satisfied by
// http.DefaultClient or a test double.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Subscription batches events arriving during its cooldown window into a
// single POST, subject to a rolling-hour circuit breaker.
type Subscription struct {
	mu       sync.Mutex
	cfg      Config
	client   Doer
	log      zerolog.Logger
	now      func() time.Time

	pending       []model.Event
	lastPostAt    time.Time
	postTimestamps []time.Time // rolling window for the circuit breaker
	counters      Counters
	cooldownTimer *time.Timer
}

func New(cfg Config, client Doer, log zerolog.Logger) *Subscription {
	return NewWithClock(cfg, client, log, time.Now)
}

func NewWithClock(cfg Config, client Doer, log zerolog.Logger, now func() time.Time) *Subscription {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = DefaultCircuitMaxPerHour
	}
	return &Subscription{cfg: cfg, client: client, log: log, now: now}
}

// HandleEvent enqueues e for delivery. If the cooldown window has elapsed
// since the last POST, delivery happens immediately (synchronously);
// otherwise e joins the pending batch to be flushed by FlushIfDue.
func (s *Subscription) HandleEvent(ctx context.Context, e model.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	due := s.now().Sub(s.lastPostAt) >= s.cfg.Cooldown
	s.mu.Unlock()

	if due {
		s.flush(ctx)
	}
}

// FlushIfDue delivers any pending batch once the cooldown window has
// elapsed. Callers drive this from a ticker for subscriptions that
// accumulate events but see no further HandleEvent calls.
func (s *Subscription) FlushIfDue(ctx context.Context) {
	s.mu.Lock()
	due := len(s.pending) > 0 && s.now().Sub(s.lastPostAt) >= s.cfg.Cooldown
	s.mu.Unlock()
	if due {
		s.flush(ctx)
	}
}

func (s *Subscription) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	now := s.now()

	if s.breakerOpenLocked(now) {
		s.log.Warn().Str("url", s.cfg.URL).Msg("webhook circuit breaker open, dropping batch")
		s.counters.Failed++
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	payload := formatPayload(batch, s.cfg.Metadata)
	err := s.post(ctx, payload)

	s.mu.Lock()
	s.lastPostAt = s.now()
	s.postTimestamps = append(s.postTimestamps, s.lastPostAt)
	if err != nil {
		s.counters.Failed++
		s.log.Error().Err(err).Str("url", s.cfg.URL).Msg("webhook delivery failed")
	} else {
		s.counters.Delivered++
	}
	s.mu.Unlock()
}

// breakerOpenLocked compacts the rolling hour window and reports whether
// the breaker is currently tripped. Callers must hold s.mu.
func (s *Subscription) breakerOpenLocked(now time.Time) bool {
	cutoff := now.Add(-time.Hour)
	kept := s.postTimestamps[:0]
	for _, ts := range s.postTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.postTimestamps = kept
	return len(s.postTimestamps) >= s.cfg.MaxPerHour
}

func (s *Subscription) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s returned status %d", s.cfg.URL, resp.StatusCode)
	}
	return nil
}

type payloadMessage struct {
	Message string         `json:"message"`
	Events  []model.Event  `json:"events"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// formatPayload renders a single-event batch as its formatted message, and
// a multi-event batch prefixed "batch (N events)".
func formatPayload(batch []model.Event, metadata map[string]any) []byte {
	var msg string
	if len(batch) == 1 {
		msg = formatSingle(batch[0])
	} else {
		msg = fmt.Sprintf("batch (%d events): %s", len(batch), summarizeTypes(batch))
	}
	out, _ := json.Marshal(payloadMessage{Message: msg, Events: batch, Metadata: metadata})
	return out
}

func formatSingle(e model.Event) string {
	if e.App != "" {
		return fmt.Sprintf("%s (%s)", e.Type, e.App)
	}
	return e.Type
}

func summarizeTypes(batch []model.Event) string {
	var types []string
	for _, e := range batch {
		types = append(types, e.Type)
	}
	return strings.Join(types, ", ")
}

// Counters returns a copy of the current delivery counters.
func (s *Subscription) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
