// Package segment turns assembled agent response text into an ordered
// set of typed, named sections ("tabs") for structured presentation.
//
// Segmentation is a pure function of the input text: no I/O, and
// identical input always yields identical sections regardless of how
// the text was chunked on the wire.
//
//	tokenize  — lex lines into marker-start / marker-end / heading / text
//	reduce    — single pass builds Sections from the token stream
//	sniff     — infer yaml/json/markdown format for template content
package segment

import (
	"fmt"
	"strings"

	"github.com/stackhand/console/pkg/models"
)

// Segment splits fullText into typed sections. Empty input yields a
// ParsedResponse with zero sections. Malformed input never fails: an
// unterminated marker swallows everything to end-of-text, and
// unrecognized markers become freeform sections.
func Segment(fullText string, kind models.AgentKind) models.ParsedResponse {
	resp := models.ParsedResponse{AgentKind: kind}
	if strings.TrimSpace(fullText) == "" {
		return resp
	}

	r := reducer{agentKind: kind, usedIDs: make(map[string]int)}
	for _, tok := range tokenize(fullText) {
		r.consume(tok)
	}
	r.flush()

	resp.Sections = r.sections
	return resp
}

// pending accumulates lines for the section currently being built.
type pending struct {
	title      string
	kind       models.SectionKind
	lines      []string
	fromMarker bool
}

type reducer struct {
	agentKind models.AgentKind
	sections  []models.Section
	usedIDs   map[string]int
	current   *pending
}

func (r *reducer) consume(tok token) {
	switch tok.kind {
	case tokMarkerStart:
		r.flush()
		kind := sectionKindFromLabel(tok.label)
		title := tok.title
		if title == "" {
			title = defaultTitle(r.agentKind, kind, tok.label)
		}
		r.current = &pending{title: title, kind: kind, fromMarker: true}

	case tokMarkerEnd:
		if r.current != nil && r.current.fromMarker {
			r.flush()
		}
		// A stray end tag outside any marker is dropped: best effort.

	case tokHeading:
		if r.current != nil && r.current.fromMarker {
			// Headings inside an explicit marker stay part of its
			// content, verbatim.
			r.current.lines = append(r.current.lines, tok.raw)
			return
		}
		r.flush()
		r.current = &pending{title: tok.text, kind: kindFromTitle(tok.text)}

	case tokText:
		if r.current == nil {
			if strings.TrimSpace(tok.text) == "" {
				return
			}
			// Text before any heading or marker: a leading summary
			// section titled by its first non-empty line.
			r.current = &pending{kind: models.SectionSummary}
		}
		r.current.lines = append(r.current.lines, tok.text)
	}
}

// flush finalizes the in-progress section, if any.
func (r *reducer) flush() {
	p := r.current
	r.current = nil
	if p == nil {
		return
	}

	content := strings.TrimSpace(strings.Join(p.lines, "\n"))
	if content == "" && p.title == "" {
		return
	}

	title := p.title
	if title == "" {
		title = firstLine(content)
	}

	sec := models.Section{
		ID:      r.uniqueID(slug(title)),
		Title:   title,
		Kind:    p.kind,
		Content: content,
		Format:  formatFor(p, content),
	}
	r.sections = append(r.sections, sec)
}

// uniqueID suffixes duplicate ids with an incrementing counter so no
// section is ever silently dropped.
func (r *reducer) uniqueID(id string) string {
	if id == "" {
		id = "section"
	}
	n := r.usedIDs[id]
	r.usedIDs[id] = n + 1
	if n == 0 {
		return id
	}
	return fmt.Sprintf("%s-%d", id, n+1)
}

// formatFor infers the section format. Marker sections honor a fenced
// code language hint and default to markdown; template sections
// additionally get a syntax sniff; heading fallback sections that carry
// no recognized kind are plaintext.
func formatFor(p *pending, content string) models.SectionFormat {
	if hint, ok := fenceHint(content); ok {
		return hint
	}
	if p.kind == models.SectionTemplate {
		return sniffTemplate(content)
	}
	if p.fromMarker {
		return models.FormatMarkdown
	}
	if p.kind == models.SectionFreeform {
		return models.FormatPlaintext
	}
	return models.FormatMarkdown
}

// fenceHint finds the first fenced code block language hint.
func fenceHint(content string) (models.SectionFormat, bool) {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		lang := strings.ToLower(strings.TrimPrefix(trimmed, "```"))
		switch lang {
		case "yaml", "yml":
			return models.FormatYAML, true
		case "json":
			return models.FormatJSON, true
		case "markdown", "md":
			return models.FormatMarkdown, true
		}
	}
	return "", false
}

// sniffTemplate guesses whether template text is JSON or YAML.
// Brace-heavy content reads as JSON; colon-indented as YAML.
func sniffTemplate(content string) models.SectionFormat {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return models.FormatJSON
	}

	braces := strings.Count(content, "{") + strings.Count(content, "}")
	colonLines := 0
	totalLines := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		totalLines++
		if strings.Contains(line, ":") {
			colonLines++
		}
	}

	if totalLines > 0 && colonLines*2 >= totalLines && braces < totalLines {
		return models.FormatYAML
	}
	if braces > 0 {
		return models.FormatJSON
	}
	return models.FormatMarkdown
}

// sectionKindFromLabel maps a marker kind label to a SectionKind.
// Unknown labels become freeform rather than being dropped.
func sectionKindFromLabel(label string) models.SectionKind {
	switch models.SectionKind(label) {
	case models.SectionArchitecture, models.SectionCost, models.SectionTemplate,
		models.SectionSummary, models.SectionProgress, models.SectionResources:
		return models.SectionKind(label)
	}
	return models.SectionFreeform
}

// kindFromTitle infers a section kind from heading text.
func kindFromTitle(title string) models.SectionKind {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "architecture"):
		return models.SectionArchitecture
	case strings.Contains(lower, "cost"), strings.Contains(lower, "pricing"):
		return models.SectionCost
	case strings.Contains(lower, "template"):
		return models.SectionTemplate
	case strings.Contains(lower, "summary"), strings.Contains(lower, "overview"):
		return models.SectionSummary
	case strings.Contains(lower, "progress"), strings.Contains(lower, "status"):
		return models.SectionProgress
	case strings.Contains(lower, "resource"):
		return models.SectionResources
	default:
		return models.SectionFreeform
	}
}

// defaultTitle picks a title for an untitled marker section. The agent
// kind's expected section set only influences titling, never whether a
// section is kept.
func defaultTitle(agent models.AgentKind, kind models.SectionKind, label string) string {
	switch kind {
	case models.SectionArchitecture:
		return "Architecture"
	case models.SectionCost:
		return "Cost Estimate"
	case models.SectionTemplate:
		if agent == models.AgentOnboarding {
			return "CloudFormation Template"
		}
		return "Template"
	case models.SectionSummary:
		return "Summary"
	case models.SectionProgress:
		if agent == models.AgentProvisioning {
			return "Deployment Progress"
		}
		return "Progress"
	case models.SectionResources:
		return "Resources"
	}
	if label != "" {
		return strings.ToUpper(label[:1]) + label[1:]
	}
	return "Details"
}

// slug makes a stable lowercase id from a title.
func slug(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "Details"
}
