// Package enhance turns a raw accessibility tree into an enriched Snapshot,
// via a bundle-id keyed registry of per-app strategies layered over a
// generic default pipeline (prune -> group -> stabilize refs -> infer
// actions). Enhancers never mutate the raw tree after the walk completes.
package enhance

import (
	"strings"
	"time"

	"github.com/axbridge/axd/internal/group"
	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/prune"
	"github.com/axbridge/axd/internal/refstore"
)

// Enhancer builds a Snapshot from a raw tree for one app. Implementations
// must not mutate root or any of its descendants.
type Enhancer interface {
	Enhance(root *model.RawNode, meta Meta) model.Snapshot
}

// Meta carries the identifying and windowing context the walker collected
// alongside the raw tree, independent of any single node.
type Meta struct {
	App      string
	BundleID string
	PID      int
	Window   model.WindowInfo
	Now      time.Time
}

// Registry dispatches to a bundle-id specific Enhancer, falling back to a
// shared default for apps with no registered strategy.
type Registry struct {
	byBundleID map[string]Enhancer
	refs       *refstore.Store
	defaultEnh Enhancer
}

// NewRegistry builds a registry backed by a single ref store shared across
// every app's enhancer, since refs are only unique per app in practice but
// the store itself is keyed purely by identity within one Stabilize call
// sequence — callers are expected to run one Registry per watched app, or
// to namespace identities externally if sharing across apps.
func NewRegistry(refs *refstore.Store) *Registry {
	return &Registry{
		byBundleID: make(map[string]Enhancer),
		refs:       refs,
		defaultEnh: &DefaultEnhancer{refs: refs},
	}
}

// Register installs an app-specific enhancer, keyed by lowercased bundle id.
func (r *Registry) Register(bundleID string, e Enhancer) {
	r.byBundleID[strings.ToLower(bundleID)] = e
}

// For returns the enhancer to use for bundleID, falling back to the
// generic default when no app-specific strategy is registered.
func (r *Registry) For(bundleID string) Enhancer {
	if e, ok := r.byBundleID[strings.ToLower(bundleID)]; ok {
		return e
	}
	return r.defaultEnh
}

// DefaultEnhancer implements the generic prune -> group -> stabilize ->
// infer pipeline shared by every app absent a more specific strategy.
type DefaultEnhancer struct {
	refs *refstore.Store
}

func NewDefaultEnhancer(refs *refstore.Store) *DefaultEnhancer {
	return &DefaultEnhancer{refs: refs}
}

func (d *DefaultEnhancer) Enhance(root *model.RawNode, meta Meta) model.Snapshot {
	start := time.Now()
	flat := prune.Walk(root)
	walked := time.Since(start)

	sections := group.Group(flat)

	var allElements []*model.Element
	for i := range sections {
		for j := range sections[i].Elements {
			allElements = append(allElements, &sections[i].Elements[j])
		}
	}
	posKeys := make([]string, len(allElements))
	d.refs.Stabilize(allElements, posKeys)

	snap := model.Snapshot{
		App:       meta.App,
		BundleID:  meta.BundleID,
		PID:       meta.PID,
		Timestamp: meta.Now,
		Window:    meta.Window,
		Content:   model.Content{Sections: sections},
		Actions:   InferActions(sections),
		Stats: model.Stats{
			TotalNodes:       countNodes(root),
			PrunedNodes:      len(flat),
			EnrichedElements: len(allElements),
			WalkMs:           walked.Milliseconds(),
		},
	}
	snap.Content.Summary = snap.Summarize()
	return snap
}

func countNodes(n *model.RawNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}

// InferActions synthesizes shortcuts from form and navigation sections: a
// "submit" action naming the first button in a form section, and a
// "navigate" action per link in a navigation section.
func InferActions(sections []model.Section) []model.InferredAction {
	var actions []model.InferredAction
	for _, sec := range sections {
		switch sec.Role {
		case "form":
			if a, ok := submitAction(sec); ok {
				actions = append(actions, a)
			}
		case "navigation":
			actions = append(actions, navigateActions(sec)...)
		}
	}
	return actions
}

func submitAction(sec model.Section) (model.InferredAction, bool) {
	var submitRef string
	var required []string
	for _, el := range sec.Elements {
		switch el.Role {
		case "button":
			if submitRef == "" {
				submitRef = el.Ref
			}
		case "textfield", "textarea", "combobox":
			required = append(required, el.Ref)
		}
	}
	if submitRef == "" {
		return model.InferredAction{}, false
	}
	return model.InferredAction{
		Name:         "submit",
		Description:  "Fill required fields and click the form's primary button.",
		PrimaryRef:   submitRef,
		RequiredRefs: required,
	}, true
}

func navigateActions(sec model.Section) []model.InferredAction {
	var out []model.InferredAction
	for _, el := range sec.Elements {
		if el.Role != "link" || el.Label == "" {
			continue
		}
		out = append(out, model.InferredAction{
			Name:        "navigate",
			Description: "Follow the \"" + el.Label + "\" link.",
			PrimaryRef:  el.Ref,
		})
	}
	return out
}
