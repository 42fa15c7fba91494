package enhance

import (
	"testing"
	"time"

	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/refstore"
)

func loginForm() *model.RawNode {
	return &model.RawNode{
		Role: "Window",
		Children: []*model.RawNode{
			{
				Role:  "Form",
				Title: "Login",
				Children: []*model.RawNode{
					{Handle: "h1", Role: "TextField", Identifier: "username"},
					{Handle: "h2", Role: "Button", Title: "Sign In"},
				},
			},
		},
	}
}

func TestDefaultEnhancer_BuildsFormSectionWithSubmitAction(t *testing.T) {
	t.Parallel()
	e := NewDefaultEnhancer(refstore.New())
	snap := e.Enhance(loginForm(), Meta{App: "TestApp", Now: time.Now()})

	if len(snap.Content.Sections) != 1 || snap.Content.Sections[0].Role != "form" {
		t.Fatalf("sections = %+v, want one form section", snap.Content.Sections)
	}
	if len(snap.Actions) != 1 || snap.Actions[0].Name != "submit" {
		t.Fatalf("actions = %+v, want one submit action", snap.Actions)
	}
	if snap.Actions[0].PrimaryRef == "" || len(snap.Actions[0].RequiredRefs) != 1 {
		t.Fatalf("submit action malformed: %+v", snap.Actions[0])
	}
}

func TestDefaultEnhancer_SummaryReflectsActualCounts(t *testing.T) {
	t.Parallel()
	e := NewDefaultEnhancer(refstore.New())
	snap := e.Enhance(loginForm(), Meta{App: "TestApp", Now: time.Now()})

	want := "forms=1 buttons=1 links=0 textfields=1"
	if snap.Content.Summary != want {
		t.Fatalf("summary = %q, want %q", snap.Content.Summary, want)
	}
}

func TestRegistry_FallsBackToDefaultForUnknownBundle(t *testing.T) {
	t.Parallel()
	r := NewRegistry(refstore.New())
	if r.For("com.unknown.app") == nil {
		t.Fatal("expected non-nil default enhancer")
	}
}

func TestRegistry_DispatchesToRegisteredAppSpecificEnhancer(t *testing.T) {
	t.Parallel()
	r := NewRegistry(refstore.New())
	custom := &stubEnhancer{}
	r.Register("com.example.special", custom)

	if r.For("com.example.special") != custom {
		t.Fatal("expected registered enhancer for exact bundle id")
	}
	if r.For("COM.EXAMPLE.SPECIAL") != custom {
		t.Fatal("expected case-insensitive bundle id match")
	}
}

type stubEnhancer struct{}

func (s *stubEnhancer) Enhance(root *model.RawNode, meta Meta) model.Snapshot {
	return model.Snapshot{App: meta.App}
}
