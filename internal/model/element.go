package model

// Element is an enriched, potentially interactive leaf derived from the
// raw AX tree. Ref is the empty string for purely informational entries.
type Element struct {
	Ref         string   `json:"ref,omitempty"`
	Role        string   `json:"role"`
	Label       string   `json:"label,omitempty"`
	Value       Value    `json:"value,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Enabled     bool     `json:"enabled"`
	Focused     bool     `json:"focused"`
	Selected    bool     `json:"selected"`
	Actions     []string `json:"actions,omitempty"`
	Identifier  string   `json:"identifier,omitempty"`
	PositionKey string   `json:"position_key,omitempty"`

	// Handle is the opaque host handle this element was built from. It never
	// crosses the wire; the daemon keeps it in memory to resolve a ref back
	// to a host-actionable target.
	Handle string `json:"-"`
}

// Section is a labelled, role-tagged group of elements within a snapshot.
type Section struct {
	Role     string    `json:"role"`
	Label    string    `json:"label,omitempty"`
	Elements []Element `json:"elements"`
}

// SectionRoles enumerates the valid Section.Role values.
var SectionRoles = []string{"form", "navigation", "toolbar", "content", "list", "table", "sidebar", "dialog", "other"}

// InferredAction is a convenience shortcut synthesised by the enhancer.
type InferredAction struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	PrimaryRef   string         `json:"primary_ref,omitempty"`
	RequiredRefs []string       `json:"required_refs,omitempty"`
	Options      []ActionOption `json:"options,omitempty"`
}

type ActionOption struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}
