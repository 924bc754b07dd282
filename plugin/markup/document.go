package markup

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	attrType     = "data-type"
	attrCategory = "data-category"
	attrID       = "data-id"
	attrLabel    = "data-label"
	attrBody     = "data-body"

	typeMention = "mention"
	typeCommand = "command"
)

// Document is a parsed markup fragment.
type Document struct {
	root *html.Node
}

// MentionNode is an entity reference chip.
type MentionNode struct {
	node *html.Node
}

// CommandNode is a command/skill chip carrying an instruction body.
type CommandNode struct {
	node *html.Node
}

// Parse parses message markup into a document tree.
func Parse(raw string) (*Document, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), context)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse markup")
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return &Document{root: root}, nil
}

// Mentions returns the mention nodes in document order.
func (d *Document) Mentions() []*MentionNode {
	var mentions []*MentionNode
	walk(d.root, func(n *html.Node) bool {
		if chipType(n) == typeMention {
			mentions = append(mentions, &MentionNode{node: n})
			return false
		}
		return true
	})
	return mentions
}

// Commands returns the command nodes in document order.
func (d *Document) Commands() []*CommandNode {
	var commands []*CommandNode
	walk(d.root, func(n *html.Node) bool {
		if chipType(n) == typeCommand {
			commands = append(commands, &CommandNode{node: n})
			return false
		}
		return true
	})
	return commands
}

// References returns the entity references of all mentions, deduplicated by
// category and target.
func (d *Document) References() []EntityReference {
	seen := make(map[EntityReference]bool)
	var refs []EntityReference
	for _, m := range d.Mentions() {
		ref := m.Reference()
		key := EntityReference{Category: ref.Category, TargetID: ref.TargetID}
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, ref)
	}
	return refs
}

// RemoveCommands detaches every command node from the tree.
func (d *Document) RemoveCommands() {
	for _, c := range d.Commands() {
		detach(c.node)
	}
}

// RemoveMentions detaches every mention node from the tree.
func (d *Document) RemoveMentions() {
	d.RemoveMentionsMatching(func(EntityReference) bool { return true })
}

// RemoveMentionsMatching detaches the mention nodes whose reference satisfies match.
func (d *Document) RemoveMentionsMatching(match func(EntityReference) bool) {
	for _, m := range d.Mentions() {
		if match(m.Reference()) {
			detach(m.node)
		}
	}
}

// PlainText renders the visible text. Mentions render as their sigil and label,
// block elements become line breaks and comments are dropped.
func (d *Document) PlainText() string {
	var b strings.Builder
	writeText(&b, d.root)
	return normalizeLines(b.String())
}

// Render serializes the document back to markup.
func (d *Document) Render() string {
	var b strings.Builder
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

// Reference returns the entity reference carried by the mention.
// A missing or malformed id yields a zero TargetID.
func (m *MentionNode) Reference() EntityReference {
	id, _ := strconv.ParseInt(attr(m.node, attrID), 10, 32)
	return EntityReference{
		Category: EntityCategory(attr(m.node, attrCategory)),
		TargetID: int32(id),
		Label:    m.Label(),
	}
}

// Label returns the display label, falling back to the node text.
func (m *MentionNode) Label() string {
	if label := attr(m.node, attrLabel); label != "" {
		return label
	}
	return strings.TrimLeft(textContent(m.node), "@#")
}

// Label returns the command name without the leading slash.
func (c *CommandNode) Label() string {
	if label := attr(c.node, attrLabel); label != "" {
		return label
	}
	return strings.TrimPrefix(textContent(c.node), "/")
}

// Body returns the instruction text carried by the command.
func (c *CommandNode) Body() string {
	return attr(c.node, attrBody)
}

// PlainText strips metadata markers and tags from raw markup.
func PlainText(raw string) string {
	visible, _ := ExtractMetadata(raw)
	if !strings.ContainsAny(visible, "<&") {
		return strings.TrimSpace(visible)
	}
	doc, err := Parse(visible)
	if err != nil {
		return strings.TrimSpace(visible)
	}
	return doc.PlainText()
}

// HasAnnotations reports whether raw contains mention or command chips.
func HasAnnotations(raw string) bool {
	return strings.Contains(raw, `data-type="mention"`) || strings.Contains(raw, `data-type="command"`)
}

// walk visits n and its descendants depth first. Returning false from fn skips
// the children of the visited node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		walk(c, fn)
		c = next
	}
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func chipType(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	return attr(n, attrType)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Tr, atom.Table:
		return true
	}
	return false
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if chipType(n) == typeMention {
			ref := (&MentionNode{node: n}).Reference()
			b.WriteString(ref.Sigil())
			b.WriteString(ref.Label)
			return
		}
		if n.DataAtom == atom.Br {
			b.WriteString("\n")
			return
		}
		if isBlock(n.DataAtom) {
			b.WriteString("\n")
			defer b.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// normalizeLines trims each line and drops blank ones.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
