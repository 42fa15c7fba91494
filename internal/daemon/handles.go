package daemon

import (
	"strings"
	"sync"

	"github.com/axbridge/axd/internal/model"
)

// handleIndex resolves a stable ref back to the opaque host handle it was
// last built from, per app. It is rebuilt wholesale on every snapshot, since
// refs that vanish from a snapshot are already tombstoned by refstore and
// must not resolve to a stale handle.
type handleIndex struct {
	mu     sync.Mutex
	byApp  map[string]map[string]string // app -> ref -> handle
}

func newHandleIndex() *handleIndex {
	return &handleIndex{byApp: make(map[string]map[string]string)}
}

// Update replaces app's ref->handle table from snap's elements.
func (h *handleIndex) Update(app string, snap model.Snapshot) {
	table := make(map[string]string)
	for _, sec := range snap.Content.Sections {
		for _, el := range sec.Elements {
			if el.Ref != "" && el.Handle != "" {
				table[el.Ref] = el.Handle
			}
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byApp[key(app)] = table
}

// ResolveRef implements transport.RefResolver.
func (h *handleIndex) ResolveRef(app, ref string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	table, ok := h.byApp[key(app)]
	if !ok {
		return "", false
	}
	handle, ok := table[ref]
	return handle, ok
}

func key(app string) string { return strings.ToLower(app) }
