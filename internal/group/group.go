// Package group turns the pruner's flat node list into labelled Sections and
// Elements, per the grouping and buildElements rules.
package group

import (
	"strings"

	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/prune"
)

// sectionRole infers a Section.Role for a raw node using the enclosing role
// and, for an untitled Group, its children's shape.
func sectionRole(n *model.RawNode) string {
	switch n.Role {
	case "Form":
		return "form"
	case "Toolbar":
		return "toolbar"
	case "TabGroup", "Outline":
		return "navigation"
	case "List":
		return "list"
	case "Table":
		return "table"
	case "Sheet", "Dialog", "Popover":
		return "dialog"
	case "WebArea":
		return "content"
	case "Group":
		if n.Title != "" {
			return inspectGroupChildren(n)
		}
		return inspectGroupChildren(n)
	default:
		return "other"
	}
}

func inspectGroupChildren(n *model.RawNode) string {
	var inputs, buttonsOrLinks int
	for _, c := range n.Children {
		switch c.Role {
		case "TextField", "TextArea", "ComboBox":
			inputs++
		case "Button", "Link", "MenuButton":
			buttonsOrLinks++
		}
	}
	switch {
	case inputs >= 1 && buttonsOrLinks >= 1:
		return "form"
	case buttonsOrLinks >= 3:
		return "navigation"
	default:
		return "other"
	}
}

// Group walks the flat node list, opening a new Section whenever the
// section-role changes, and builds Elements for each closed section.
func Group(flat []*model.RawNode) []model.Section {
	var sections []model.Section
	var currentRole string
	var buf []*model.RawNode
	var label string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		sections = append(sections, model.Section{
			Role:     currentRole,
			Label:    label,
			Elements: buildElements(buf),
		})
		buf = nil
		label = ""
	}

	for _, n := range flat {
		role := sectionRole(n)
		if len(buf) == 0 {
			currentRole = role
		} else if role != currentRole {
			flush()
			currentRole = role
		}
		if label == "" && n.Title != "" {
			label = n.Title
		}
		buf = append(buf, n)
		buf = append(buf, flattenPrunedChildren(n)...)
	}
	flush()
	return sections
}

// flattenPrunedChildren returns n's own pruned children (not n itself),
// appended to the section's raw buffer per the grouper contract.
func flattenPrunedChildren(n *model.RawNode) []*model.RawNode {
	var out []*model.RawNode
	for _, c := range n.Children {
		out = append(out, prune.Walk(c)...)
	}
	return out
}

// buildElements converts a section's raw node buffer into deduplicated,
// ref-pending Elements.
func buildElements(buf []*model.RawNode) []model.Element {
	seenText := make(map[string]bool)
	var out []model.Element

	for _, n := range buf {
		role, actions := prune.SimpleRole(n.Role)

		if isStaticKind(n.Role) {
			key := staticKey(n)
			if seenText[key] {
				continue
			}
			seenText[key] = true
			out = append(out, model.Element{
				Role:   role,
				Label:  label(n),
				Value:  n.Value,
				Handle: n.Handle,
			})
			continue
		}

		if isInteractive(n.Role) {
			el := model.Element{
				Role:        role,
				Label:       label(n),
				Value:       n.Value,
				Placeholder: n.Placeholder,
				Enabled:     n.Enabled,
				Focused:     n.Focused,
				Selected:    n.Selected,
				Actions:     actions,
				Identifier:  n.Identifier,
				Handle:      n.Handle,
			}
			if n.Role == "Row" && n.Title == "" {
				el.Label = bubbleRowLabel(n)
			}
			if el.Identifier == "" && el.Label == "" {
				el.PositionKey = n.PositionKey()
			}
			out = append(out, el)
			continue
		}

		// Non-interactive survivor (kept group, heading, image, container).
		out = append(out, model.Element{Role: role, Label: label(n), Handle: n.Handle})
	}
	return out
}

func isStaticKind(role string) bool {
	return role == "StaticText"
}

func isInteractive(role string) bool {
	switch role {
	case "Button", "MenuButton", "TextField", "TextArea", "ComboBox", "CheckBox",
		"RadioButton", "Tab", "PopUpButton", "Link", "Slider", "Incrementor",
		"Row", "Cell", "MenuItem":
		return true
	default:
		return false
	}
}

func staticKey(n *model.RawNode) string {
	if s, ok := n.Value.String(); ok && s != "" {
		return n.Role + "|" + s
	}
	return n.Role + "|" + n.Title
}

func label(n *model.RawNode) string {
	if n.Title != "" {
		return n.Title
	}
	if n.Description != "" {
		return n.Description
	}
	if n.Placeholder != "" {
		return n.Placeholder
	}
	if s, ok := n.Value.String(); ok {
		return s
	}
	return ""
}

func bubbleRowLabel(n *model.RawNode) string {
	var parts []string
	for _, c := range n.Children {
		if c.Role == "StaticText" {
			if s, ok := c.Value.String(); ok && s != "" {
				parts = append(parts, s)
			} else if c.Title != "" {
				parts = append(parts, c.Title)
			}
		}
	}
	return strings.Join(parts, " | ")
}
