// Package refstore assigns stable "e<N>" refs to elements across successive
// snapshots of the same app, tombstoning refs whose identity disappears so
// they cannot be handed to a different identity while the tombstone is live.
package refstore

import (
	"strconv"
	"sync"
	"time"

	"github.com/axbridge/axd/internal/model"
)

// DefaultTombstoneDuration is the default grace period before a vacated ref
// becomes eligible for reuse by a new identity.
const DefaultTombstoneDuration = 60 * time.Second

// Identity is the tuple used to decide whether two elements across snapshots
// are "the same" for ref assignment.
type Identity struct {
	Role        string
	LabelOrID   string
	Identifier  string
	PositionKey string
}

func identityOf(el *model.Element, posKey string) Identity {
	id := Identity{Role: el.Role}
	switch {
	case el.Identifier != "":
		id.Identifier = el.Identifier
	case el.Label != "":
		id.LabelOrID = el.Label
	default:
		id.PositionKey = posKey
	}
	return id
}

// Store is the stateful ref stability manager. Safe for concurrent use; all
// mutation happens inside a single critical section per Stabilize call, per
// the ordering guarantee that a caller observes a consistent before/after.
type Store struct {
	mu                sync.Mutex
	counter           int
	identityToRef     map[Identity]string
	refToIdentity     map[string]Identity
	tombstones        map[string]time.Time
	tombstoneDuration time.Duration
	now               func() time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock allows tests to inject a deterministic clock.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		identityToRef:     make(map[Identity]string),
		refToIdentity:     make(map[string]Identity),
		tombstones:        make(map[string]time.Time),
		tombstoneDuration: DefaultTombstoneDuration,
		now:               now,
	}
}

func (s *Store) SetTombstoneDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstoneDuration = d
}

// Stabilize rewrites each element's Ref field in place and returns the
// resolved refs in input order. posKeys, if non-nil, supplies a position
// key per element index, consulted only when that element has no
// identifier and no label.
func (s *Store) Stabilize(elements []*model.Element, posKeys []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	seen := make(map[Identity]bool, len(elements))
	refs := make([]string, len(elements))

	for i, el := range elements {
		var posKey string
		if posKeys != nil && i < len(posKeys) && el.Identifier == "" && el.Label == "" {
			posKey = posKeys[i]
		} else if el.Identifier == "" && el.Label == "" {
			posKey = el.PositionKey
		}
		id := identityOf(el, posKey)
		seen[id] = true

		ref, ok := s.identityToRef[id]
		if ok {
			delete(s.tombstones, ref)
		} else {
			ref = s.allocate()
			s.identityToRef[id] = ref
			s.refToIdentity[ref] = id
		}
		el.Ref = ref
		refs[i] = ref
	}

	// Tombstone any live ref whose identity did not appear in this batch.
	for ref, id := range s.refToIdentity {
		if !seen[id] {
			if _, already := s.tombstones[ref]; !already {
				s.tombstones[ref] = now.Add(s.tombstoneDuration)
			}
		}
	}

	// Purge expired tombstones from all three maps.
	for ref, expiry := range s.tombstones {
		if expiry.Before(now) {
			if id, ok := s.refToIdentity[ref]; ok {
				delete(s.identityToRef, id)
				delete(s.refToIdentity, ref)
			}
			delete(s.tombstones, ref)
		}
	}

	return refs
}

func (s *Store) allocate() string {
	for {
		s.counter++
		candidate := "e" + strconv.Itoa(s.counter)
		if _, live := s.refToIdentity[candidate]; live {
			continue
		}
		if _, dead := s.tombstones[candidate]; dead {
			continue
		}
		return candidate
	}
}

// TombstoneCount reports the number of currently-tombstoned refs, mainly for
// tests and diagnostics.
func (s *Store) TombstoneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tombstones)
}

// PurgeExpiredTombstones removes tombstones (and their vacated identity/ref
// mappings) whose grace period has elapsed, independent of Stabilize. Lets
// the daemon's periodic reaper reclaim refs for apps that have gone quiet
// rather than waiting for their next snapshot to trigger the purge inline.
func (s *Store) PurgeExpiredTombstones() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var purged int
	for ref, expiry := range s.tombstones {
		if expiry.Before(now) {
			if id, ok := s.refToIdentity[ref]; ok {
				delete(s.identityToRef, id)
				delete(s.refToIdentity, ref)
			}
			delete(s.tombstones, ref)
			purged++
		}
	}
	return purged
}
