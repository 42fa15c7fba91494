package refstore

import (
	"testing"

	"github.com/axbridge/axd/internal/model"
)

func elems(pairs ...[2]string) []*model.Element {
	out := make([]*model.Element, len(pairs))
	for i, p := range pairs {
		out[i] = &model.Element{Role: p[0], Label: p[1]}
	}
	return out
}

func refsOf(els []*model.Element) []string {
	out := make([]string, len(els))
	for i, el := range els {
		out[i] = el.Ref
	}
	return out
}

func TestStabilize_RefPersistence(t *testing.T) {
	t.Parallel()
	s := New()

	batch1 := elems([2]string{"button", "Save"}, [2]string{"button", "Delete"})
	s.Stabilize(batch1, nil)
	if got := refsOf(batch1); got[0] != "e1" || got[1] != "e2" {
		t.Fatalf("batch1 refs = %v, want [e1 e2]", got)
	}

	batch2 := elems([2]string{"button", "Save"})
	s.Stabilize(batch2, nil)
	if got := refsOf(batch2); got[0] != "e1" {
		t.Fatalf("batch2 refs = %v, want [e1]", got)
	}
	if s.TombstoneCount() != 1 {
		t.Fatalf("tombstone count = %d, want 1", s.TombstoneCount())
	}

	batch3 := elems([2]string{"button", "Save"}, [2]string{"button", "Archive"})
	s.Stabilize(batch3, nil)
	if got := refsOf(batch3); got[0] != "e1" || got[1] != "e3" {
		t.Fatalf("batch3 refs = %v, want [e1 e3]", got)
	}
}

func TestStabilize_RefReclaim(t *testing.T) {
	t.Parallel()
	s := New()

	s.Stabilize(elems([2]string{"button", "Save"}, [2]string{"button", "Delete"}), nil)
	s.Stabilize(elems([2]string{"button", "Save"}), nil)
	final := elems([2]string{"button", "Save"}, [2]string{"button", "Delete"})
	s.Stabilize(final, nil)

	if got := refsOf(final); got[0] != "e1" || got[1] != "e2" {
		t.Fatalf("final refs = %v, want [e1 e2]", got)
	}
	if s.TombstoneCount() != 0 {
		t.Fatalf("tombstone count = %d, want 0", s.TombstoneCount())
	}
}

func TestStabilize_IdentifierWinsOverLabel(t *testing.T) {
	t.Parallel()
	s := New()

	first := []*model.Element{{Role: "button", Label: "Uploading…", Identifier: "upload-btn"}}
	s.Stabilize(first, nil)

	second := []*model.Element{{Role: "button", Label: "Upload Complete", Identifier: "upload-btn"}}
	s.Stabilize(second, nil)

	if first[0].Ref != second[0].Ref {
		t.Fatalf("refs differ across label change: %q vs %q", first[0].Ref, second[0].Ref)
	}
}

func TestStabilize_SameBatchTwiceYieldsSameRefs(t *testing.T) {
	t.Parallel()
	s := New()
	batch := elems([2]string{"link", "Home"}, [2]string{"link", "About"})
	s.Stabilize(batch, nil)
	r1 := refsOf(batch)

	batch2 := elems([2]string{"link", "Home"}, [2]string{"link", "About"})
	s.Stabilize(batch2, nil)
	r2 := refsOf(batch2)

	if r1[0] != r2[0] || r1[1] != r2[1] {
		t.Fatalf("refs changed across identical batches: %v vs %v", r1, r2)
	}
}
