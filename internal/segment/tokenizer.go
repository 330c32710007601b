package segment

import (
	"strings"
)

// tokenKind discriminates the tokens the line scanner produces.
type tokenKind int

const (
	tokText tokenKind = iota
	tokHeading
	tokMarkerStart
	tokMarkerEnd
)

// token is one lexed line of agent output. Marker tokens carry the kind
// label and optional title from the tag; heading tokens carry the
// heading text; text tokens carry the raw line.
type token struct {
	kind  tokenKind
	text  string // raw line for text, heading text for headings
	raw   string // original heading line, verbatim
	label string // marker kind label, e.g. "cost"
	title string // marker title attribute, may be empty
}

// tokenize lexes fullText line by line into a flat token stream. It
// never fails: anything that is not a recognized marker or heading is a
// text token.
//
// Marker syntax (paired, kind-labelled):
//
//	<tab:cost>            ... </tab>
//	<tab:template title="CloudFormation Template"> ... </tab:template>
func tokenize(fullText string) []token {
	var tokens []token
	for _, line := range strings.Split(fullText, "\n") {
		trimmed := strings.TrimSpace(line)

		if label, title, ok := parseMarkerStart(trimmed); ok {
			tokens = append(tokens, token{kind: tokMarkerStart, label: label, title: title})
			continue
		}
		if isMarkerEnd(trimmed) {
			tokens = append(tokens, token{kind: tokMarkerEnd})
			continue
		}
		if heading, ok := parseHeading(trimmed); ok {
			tokens = append(tokens, token{kind: tokHeading, text: heading, raw: line})
			continue
		}
		tokens = append(tokens, token{kind: tokText, text: line})
	}
	return tokens
}

// parseMarkerStart recognizes `<tab:KIND>` and `<tab:KIND title="...">`
// start tags occupying a whole line.
func parseMarkerStart(line string) (label, title string, ok bool) {
	if !strings.HasPrefix(line, "<tab:") || !strings.HasSuffix(line, ">") {
		return "", "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "<tab:"), ">")
	if inner == "" || strings.ContainsAny(inner, "<>") {
		return "", "", false
	}

	label = inner
	if i := strings.IndexAny(inner, " \t"); i >= 0 {
		label = inner[:i]
		rest := strings.TrimSpace(inner[i+1:])
		title = parseTitleAttr(rest)
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "", "", false
	}
	return label, title, true
}

// parseTitleAttr extracts the value of a title="..." attribute,
// honoring backslash escapes inside the quotes. A bare remainder
// without the attribute form is treated as the title itself.
func parseTitleAttr(rest string) string {
	rest = strings.TrimPrefix(rest, "title=")
	if len(rest) >= 2 && (rest[0] == '"' || rest[0] == '\'') {
		quote := rest[0]
		var b strings.Builder
		for i := 1; i < len(rest); i++ {
			c := rest[i]
			if c == '\\' && i+1 < len(rest) {
				i++
				b.WriteByte(rest[i])
				continue
			}
			if c == quote {
				break
			}
			b.WriteByte(c)
		}
		return b.String()
	}
	return strings.Trim(rest, `"'`)
}

// isMarkerEnd recognizes `</tab>` and `</tab:KIND>` end tags.
func isMarkerEnd(line string) bool {
	if line == "</tab>" {
		return true
	}
	return strings.HasPrefix(line, "</tab:") && strings.HasSuffix(line, ">")
}

// parseHeading recognizes markdown top-level headings (# and ##).
// Deeper headings stay inside their section as plain text.
func parseHeading(line string) (string, bool) {
	for _, prefix := range []string{"## ", "# "} {
		if strings.HasPrefix(line, prefix) {
			text := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			if text != "" {
				return text, true
			}
		}
	}
	return "", false
}
