package prune

import (
	"testing"

	"github.com/axbridge/axd/internal/model"
)

func TestDecide_AlwaysPruneBeatsEverything(t *testing.T) {
	t.Parallel()
	n := &model.RawNode{Role: "ScrollBar", Title: "x", Actions: []string{"Press"}}
	if got := Decide(n); got != Prune {
		t.Errorf("Decide() = %v, want Prune", got)
	}
}

func TestDecide_EmptyGroupPruned(t *testing.T) {
	t.Parallel()
	n := &model.RawNode{Role: "Group"}
	if got := Decide(n); got != Prune {
		t.Errorf("Decide() = %v, want Prune", got)
	}
}

func TestDecide_AlwaysKeep(t *testing.T) {
	t.Parallel()
	n := &model.RawNode{Role: "Button"}
	if got := Decide(n); got != Keep {
		t.Errorf("Decide() = %v, want Keep", got)
	}
}

func TestDecide_InteractiveActionKeeps(t *testing.T) {
	t.Parallel()
	n := &model.RawNode{Role: "Custom", Actions: []string{"Confirm"}}
	if got := Decide(n); got != Keep {
		t.Errorf("Decide() = %v, want Keep", got)
	}
}

func TestDecide_StaticTextRequiresContent(t *testing.T) {
	t.Parallel()
	blank := &model.RawNode{Role: "StaticText"}
	if got := Decide(blank); got != PassThrough {
		t.Errorf("Decide(blank static text) = %v, want PassThrough", got)
	}
	titled := &model.RawNode{Role: "StaticText", Title: "hi"}
	if got := Decide(titled); got != Keep {
		t.Errorf("Decide(titled static text) = %v, want Keep", got)
	}
}

func TestWalk_PassThroughFlattensChildren(t *testing.T) {
	t.Parallel()
	root := &model.RawNode{
		Role: "Unclassified",
		Children: []*model.RawNode{
			{Handle: "a", Role: "Button"},
			{Handle: "b", Role: "ScrollBar"},
		},
	}
	got := Walk(root)
	if len(got) != 1 || got[0].Role != "Button" {
		t.Fatalf("Walk() = %+v, want only the Button child", got)
	}
}

func TestWalk_BreaksCycles(t *testing.T) {
	t.Parallel()
	a := &model.RawNode{Handle: "a", Role: "Group", Title: "A"}
	b := &model.RawNode{Handle: "b", Role: "Group", Title: "B", Children: []*model.RawNode{a}}
	a.Children = []*model.RawNode{b} // cycle

	got := Walk(a)
	if len(got) != 1 {
		t.Fatalf("Walk() with cycle = %d nodes, want 1", len(got))
	}
}

func TestWalk_WebAreaRecursesDeeply(t *testing.T) {
	t.Parallel()
	root := &model.RawNode{
		Role: "WebArea",
		Children: []*model.RawNode{
			{Handle: "wrap", Role: "Group", Children: []*model.RawNode{
				{Handle: "btn", Role: "Button"},
				{Handle: "blank", Role: "StaticText"},
			}},
		},
	}
	got := Walk(root)
	if len(got) != 2 {
		t.Fatalf("Walk(WebArea) = %d nodes, want WebArea + surviving Button", len(got))
	}
	if got[0].Role != "WebArea" || got[1].Role != "Button" {
		t.Fatalf("Walk(WebArea) = %+v", got)
	}
}

func TestSimpleRole(t *testing.T) {
	t.Parallel()
	role, actions := SimpleRole("CheckBox")
	if role != "checkbox" || len(actions) != 1 || actions[0] != "toggle" {
		t.Errorf("SimpleRole(CheckBox) = %q, %v", role, actions)
	}
}
