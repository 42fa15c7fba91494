// Package milestone matches process output lines against user-defined
// patterns and emits process.milestone events, deduplicating per a
// per-pattern policy.
package milestone

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/axbridge/axd/internal/model"
)

// Format is the line format a definition's patterns expect.
type Format string

const (
	FormatPlaintext Format = "plaintext"
	FormatNDJSON    Format = "ndjson"
)

// Dedupe policies. Every and Latest emit identically at emit-time; they are
// kept as distinct tagged values because they carry different meaning to
// consumers (every: no assumption; latest: only the most recent value
// matters), not because the engine behaves differently today.
type Dedupe string

const (
	DedupeFirst      Dedupe = "first"
	DedupeTransition Dedupe = "transition"
	DedupeEvery      Dedupe = "every"
	DedupeLatest     Dedupe = "latest"
)

// MatchType selects how Pattern.Match is interpreted.
type MatchType string

const (
	MatchRegex    MatchType = "regex"
	MatchAnyText  MatchType = "any_text"
	MatchJSONPath MatchType = "json_path"
)

// Pattern is a single match rule within a milestone definition.
type Pattern struct {
	Type            MatchType
	Match           string // regex source, substring, or json_path expression
	Value           string // json_path: optional exact-value constraint on the extracted scalar
	ValueRegex      string // json_path: optional regex constraint on the extracted scalar
	Emoji           string
	Message         string
	MessageTemplate string
	Dedupe          Dedupe

	compiled *regexp.Regexp
}

// Definition is a named set of ordered patterns applied to one watcher's
// output.
type Definition struct {
	Name        string
	Description string
	Format      Format
	Patterns    []Pattern
}

// Validate checks the structural rules: non-empty name, each pattern has at
// least one match criterion, every regex compiles, and pattern types are
// unique within the definition.
func Validate(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("milestone: definition name must not be empty")
	}
	seenTypes := make(map[MatchType]bool)
	for i, p := range def.Patterns {
		if seenTypes[p.Type] {
			return fmt.Errorf("milestone: duplicate pattern type %q in definition %q", p.Type, def.Name)
		}
		seenTypes[p.Type] = true

		switch p.Type {
		case MatchRegex:
			if p.Match == "" {
				return fmt.Errorf("milestone: pattern %d: regex match must not be empty", i)
			}
			if _, err := regexp.Compile(p.Match); err != nil {
				return fmt.Errorf("milestone: pattern %d: invalid regex %q: %w", i, p.Match, err)
			}
		case MatchAnyText:
			if p.Match == "" {
				return fmt.Errorf("milestone: pattern %d: any_text match must not be empty", i)
			}
		case MatchJSONPath:
			if p.Match == "" {
				return fmt.Errorf("milestone: pattern %d: json_path expression must not be empty", i)
			}
			if p.ValueRegex != "" {
				if _, err := regexp.Compile(p.ValueRegex); err != nil {
					return fmt.Errorf("milestone: pattern %d: invalid value regex %q: %w", i, p.ValueRegex, err)
				}
			}
		default:
			return fmt.Errorf("milestone: pattern %d: unknown match type %q", i, p.Type)
		}
	}
	return nil
}

// Compile prepares a Definition's regex patterns for reuse across lines.
// Callers should call Compile once after Validate succeeds.
func Compile(def *Definition) error {
	for i := range def.Patterns {
		p := &def.Patterns[i]
		switch p.Type {
		case MatchRegex:
			re, err := regexp.Compile(p.Match)
			if err != nil {
				return err
			}
			p.compiled = re
		case MatchJSONPath:
			if p.ValueRegex != "" {
				re, err := regexp.Compile(p.ValueRegex)
				if err != nil {
					return err
				}
				p.compiled = re
			}
		}
	}
	return nil
}

// Engine evaluates one Definition's patterns against a stream of lines,
// tracking dedupe state across calls.
type Engine struct {
	mu           sync.Mutex
	def          Definition
	lastType     string // for DedupeTransition
	firstEmitted map[string]bool // for DedupeFirst
}

func NewEngine(def Definition) *Engine {
	return &Engine{def: def, firstEmitted: make(map[string]bool)}
}

// Match is a single matched milestone, ready to be published as an event.
type Match struct {
	Type       string
	Message    string
	LineNumber int
	PID        int
	Suppressed bool // true if dedupe policy suppressed this emission
}

// Evaluate applies the definition's patterns to line in order, first match
// wins. Returns ok=false if no pattern matched.
func (e *Engine) Evaluate(line string, lineNumber, pid int) (Match, bool) {
	for _, p := range e.def.Patterns {
		matchedText, ok := p.matches(line)
		if !ok {
			continue
		}
		msg := formatMessage(p, matchedText)
		m := Match{Type: string(p.Type), Message: msg, LineNumber: lineNumber, PID: pid}
		m.Suppressed = e.dedupeSuppress(p, string(p.Type))
		return m, true
	}
	return Match{}, false
}

func (e *Engine) dedupeSuppress(p Pattern, milestoneType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch p.Dedupe {
	case DedupeFirst:
		if e.firstEmitted[milestoneType] {
			return true
		}
		e.firstEmitted[milestoneType] = true
		return false
	case DedupeTransition:
		suppress := e.lastType == milestoneType
		e.lastType = milestoneType
		return suppress
	case DedupeEvery, DedupeLatest:
		return false
	default:
		return false
	}
}

// Reset clears all dedup state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastType = ""
	e.firstEmitted = make(map[string]bool)
}

func formatMessage(p Pattern, matchedText string) string {
	if p.MessageTemplate != "" {
		return strings.ReplaceAll(p.MessageTemplate, "{match}", matchedText)
	}
	return p.Message
}

func (p Pattern) matches(line string) (matchedText string, ok bool) {
	switch p.Type {
	case MatchRegex:
		re := p.compiled
		if re == nil {
			re = regexp.MustCompile(p.Match)
		}
		loc := re.FindString(line)
		if loc == "" && !re.MatchString(line) {
			return "", false
		}
		return loc, true
	case MatchAnyText:
		if !strings.Contains(line, p.Match) {
			return "", false
		}
		return p.Match, true
	case MatchJSONPath:
		result := gjson.Get(line, p.Match)
		if !result.Exists() {
			return "", false
		}
		if p.Value != "" && result.String() != p.Value {
			return "", false
		}
		if p.ValueRegex != "" {
			re := p.compiled
			if re == nil {
				re = regexp.MustCompile(p.ValueRegex)
			}
			if !re.MatchString(result.String()) {
				return "", false
			}
		}
		return result.String(), true
	default:
		return "", false
	}
}

// ToEvent converts a matched milestone to its bus event.
func (m Match) ToEvent(app string) model.Event {
	return model.Event{
		Type: "process.milestone",
		App:  app,
		PID:  m.PID,
		Details: map[string]model.Value{
			"type":        model.Str(m.Type),
			"message":     model.Str(m.Message),
			"line_number": model.Int(int64(m.LineNumber)),
		},
	}
}
