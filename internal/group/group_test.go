package group

import (
	"testing"

	"github.com/axbridge/axd/internal/model"
)

func TestGroup_OpensNewSectionOnRoleChange(t *testing.T) {
	t.Parallel()
	flat := []*model.RawNode{
		{Role: "Toolbar", Title: "Top"},
		{Role: "Button", Title: "Save"},
		{Role: "List", Title: "Items"},
	}
	sections := Group(flat)
	if len(sections) != 2 {
		t.Fatalf("Group() = %d sections, want 2 (toolbar, list)", len(sections))
	}
	if sections[0].Role != "toolbar" || sections[1].Role != "list" {
		t.Fatalf("Group() roles = %q, %q", sections[0].Role, sections[1].Role)
	}
}

func TestBuildElements_DedupesStaticText(t *testing.T) {
	t.Parallel()
	flat := []*model.RawNode{
		{Role: "List", Title: "x"},
		{Role: "StaticText", Title: "Loading"},
		{Role: "StaticText", Title: "Loading"},
	}
	sections := Group(flat)
	if len(sections) != 1 {
		t.Fatalf("Group() = %d sections, want 1", len(sections))
	}
	var textCount int
	for _, el := range sections[0].Elements {
		if el.Role == "text" {
			textCount++
		}
	}
	if textCount != 1 {
		t.Errorf("duplicate static text entries = %d, want 1", textCount)
	}
}

func TestBuildElements_RowBubblesChildLabels(t *testing.T) {
	t.Parallel()
	row := &model.RawNode{
		Role: "Row",
		Children: []*model.RawNode{
			{Role: "StaticText", Title: "Alice"},
			{Role: "StaticText", Title: "Admin"},
		},
	}
	sections := Group([]*model.RawNode{row})
	els := sections[0].Elements
	if len(els) == 0 || els[0].Label != "Alice | Admin" {
		t.Fatalf("row label = %+v, want bubbled child labels", els)
	}
}
