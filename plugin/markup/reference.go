package markup

import (
	"fmt"
	"html"
	"strings"
)

// EntityCategory is the kind of entity a mention points at.
type EntityCategory string

const (
	CategoryChannel      EntityCategory = "channel"
	CategoryAgentSession EntityCategory = "agent_session"
	CategoryPerson       EntityCategory = "person"
	CategoryApp          EntityCategory = "app"
)

// EntityReference is a mention parsed out of message markup.
type EntityReference struct {
	Category EntityCategory
	TargetID int32
	Label    string
}

// Resolvable reports whether the reference can carry conversation history.
// App references never do.
func (r EntityReference) Resolvable() bool {
	return r.Category != CategoryApp && r.TargetID > 0
}

// Sigil returns the prefix used when the reference is shown as text.
func (r EntityReference) Sigil() string {
	if r.Category == CategoryChannel {
		return "#"
	}
	return "@"
}

// MentionHTML renders a mention node for the reference.
func MentionHTML(ref EntityReference) string {
	return fmt.Sprintf(`<span data-type="mention" data-category="%s" data-id="%d" data-label="%s">%s%s</span>`,
		html.EscapeString(string(ref.Category)), ref.TargetID, html.EscapeString(ref.Label),
		ref.Sigil(), html.EscapeString(ref.Label))
}

// CommandHTML renders a command chip carrying an instruction body.
func CommandHTML(label, body string) string {
	return fmt.Sprintf(`<span data-type="command" data-label="%s" data-body="%s">/%s</span>`,
		html.EscapeString(label), html.EscapeString(body), html.EscapeString(label))
}

// FromPlainText wraps plain text into paragraph markup, one paragraph per line.
func FromPlainText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return b.String()
}
