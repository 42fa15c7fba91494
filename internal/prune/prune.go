// Package prune implements the pure tree-pruning decision and the raw→simple
// role table. Neither function touches shared state; both are safe to call
// concurrently from any number of snapshot pipelines.
package prune

import "github.com/axbridge/axd/internal/model"

var alwaysPrune = map[string]bool{
	"ScrollBar": true, "Splitter": true, "GrowArea": true, "Matte": true,
	"Ruler": true, "RulerMarker": true, "Unknown": true, "ScrollArea": true,
	"SplitGroup": true,
}

var alwaysKeep = map[string]bool{
	"Button": true, "TextField": true, "TextArea": true, "CheckBox": true,
	"RadioButton": true, "Link": true, "PopUpButton": true, "ComboBox": true,
	"Slider": true, "MenuItem": true, "MenuButton": true, "Tab": true,
	"Table": true, "Row": true, "Cell": true, "DisclosureTriangle": true,
	"Incrementor": true, "ColorWell": true,
}

var interactiveActions = map[string]bool{"Press": true, "Confirm": true, "Pick": true}

var containerKeep = map[string]bool{
	"TabGroup": true, "Toolbar": true, "WebArea": true, "List": true, "Outline": true,
	"Form": true,
}

var dialogKeep = map[string]bool{"Sheet": true, "Dialog": true, "Popover": true}

// Decision is the pruner's verdict for a single raw node.
type Decision int

const (
	Prune Decision = iota
	Keep
	PassThrough
)

func hasInteractiveAction(n *model.RawNode) bool {
	for _, a := range n.Actions {
		if interactiveActions[a] {
			return true
		}
	}
	return false
}

// Decide applies the first-match-wins rule list from the pruning spec.
func Decide(n *model.RawNode) Decision {
	if n.Role == "" {
		return Prune
	}
	if alwaysPrune[n.Role] {
		return Prune
	}
	if n.Role == "Group" && n.Title == "" && n.Value.IsNull() && len(n.Children) <= 1 && !hasInteractiveAction(n) {
		return Prune
	}
	if alwaysKeep[n.Role] {
		return Keep
	}
	if hasInteractiveAction(n) {
		return Keep
	}
	if n.Role == "StaticText" {
		if n.Title != "" || !n.Value.IsNull() {
			return Keep
		}
	}
	if n.Role == "Image" && (n.Title != "" || n.Description != "") {
		return Keep
	}
	if n.Role == "Group" && n.Title != "" {
		return Keep
	}
	if containerKeep[n.Role] {
		return Keep
	}
	if dialogKeep[n.Role] {
		return Keep
	}
	return PassThrough
}

// isBlankText reports whether s is empty or only a zero-width space, the
// filter WebArea recursion applies to static text survivors.
func isBlankText(s string) bool {
	return s == "" || s == "​"
}

// Walk prunes a raw tree into a flat ordered list. When a WebArea is
// encountered it is recursed deeply per the WebArea special rule: only
// interactive elements, non-blank static text, headings, images with
// descriptions, and list/table/outline containers survive from within it.
func Walk(root *model.RawNode) []*model.RawNode {
	visited := make(map[string]bool)
	return walk(root, visited, false)
}

func walk(n *model.RawNode, visited map[string]bool, insideWebArea bool) []*model.RawNode {
	if n == nil || n.Handle == "" && n.Role == "" && len(n.Children) == 0 {
		return nil
	}
	if n.Handle != "" {
		if visited[n.Handle] {
			return nil
		}
		visited[n.Handle] = true
	}

	if insideWebArea {
		if !webAreaSurvivor(n) {
			return flattenChildren(n, visited, true)
		}
		out := []*model.RawNode{n}
		return out
	}

	switch Decide(n) {
	case Prune:
		return nil
	case Keep:
		out := []*model.RawNode{n}
		if n.Role == "WebArea" {
			out = append(out, flattenChildren(n, visited, true)...)
		}
		return out
	default: // PassThrough
		return flattenChildren(n, visited, insideWebArea)
	}
}

func flattenChildren(n *model.RawNode, visited map[string]bool, insideWebArea bool) []*model.RawNode {
	var out []*model.RawNode
	for _, c := range n.Children {
		out = append(out, walk(c, visited, insideWebArea)...)
	}
	return out
}

func webAreaSurvivor(n *model.RawNode) bool {
	if hasInteractiveAction(n) {
		return true
	}
	switch n.Role {
	case "StaticText":
		return !isBlankText(n.Title) || !n.Value.IsNull()
	case "Heading":
		return true
	case "Image":
		return n.Description != ""
	case "List", "Table", "Outline":
		return true
	}
	if alwaysKeep[n.Role] {
		return true
	}
	return false
}

// SimpleRole maps a raw AX role to its simplified wire role and default
// action set, per the raw→simplified table.
func SimpleRole(raw string) (role string, actions []string) {
	switch raw {
	case "Button", "MenuButton":
		return "button", []string{"click"}
	case "TextField":
		return "textfield", []string{"fill", "clear"}
	case "TextArea":
		return "textarea", []string{"fill", "clear"}
	case "ComboBox":
		return "combobox", []string{"fill", "clear"}
	case "CheckBox":
		return "checkbox", []string{"toggle"}
	case "RadioButton":
		return "radio", []string{"select"}
	case "Tab":
		return "tab", []string{"select"}
	case "PopUpButton":
		return "dropdown", []string{"select"}
	case "Link":
		return "link", []string{"click"}
	case "Slider":
		return "slider", []string{"fill"}
	case "Incrementor":
		return "stepper", []string{"fill"}
	case "StaticText":
		return "text", nil
	case "Heading":
		return "heading", nil
	case "Row":
		return "row", []string{"select", "click"}
	case "Cell":
		return "cell", []string{"select", "click"}
	case "MenuItem":
		return "menuitem", []string{"select", "click"}
	default:
		return lowerFirst(raw), nil
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
