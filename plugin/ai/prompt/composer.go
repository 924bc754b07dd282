package prompt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hrygo/chorus/plugin/markup"
)

// Compose layers entity context, command instructions and the remaining user
// text, in that order. Input without mention or command chips is returned as is,
// which also makes composing an already composed prompt a no-op.
func Compose(raw string, contexts []*EntityContext) string {
	if !markup.HasAnnotations(raw) {
		return raw
	}
	doc, err := markup.Parse(raw)
	if err != nil {
		slog.Warn("failed to parse message markup, sending verbatim", "error", err)
		return raw
	}

	resolved := make(map[markup.EntityReference]bool, len(contexts))
	blocks := make([]string, 0, len(contexts)+2)
	for _, c := range contexts {
		if c == nil {
			continue
		}
		resolved[referenceKey(c.Reference)] = true
		blocks = append(blocks, contextBlock(c))
	}
	for _, command := range doc.Commands() {
		blocks = append(blocks, "[/"+command.Label()+" instructions]\n"+command.Body())
	}

	doc.RemoveCommands()
	doc.RemoveMentionsMatching(func(ref markup.EntityReference) bool {
		return resolved[referenceKey(ref)]
	})
	userText := doc.PlainText()

	if userText != "" {
		blocks = append(blocks, userText)
	}
	return strings.Join(blocks, "\n\n")
}

func contextBlock(c *EntityContext) string {
	label := sigil(c.Category) + c.Label
	var b strings.Builder
	b.WriteString("[Context from ")
	b.WriteString(label)
	b.WriteString("]\n")
	b.WriteString(c.Transcript)
	b.WriteString("\n[End of ")
	b.WriteString(label)
	b.WriteString(" context]")
	return b.String()
}

func sigil(category markup.EntityCategory) string {
	return markup.EntityReference{Category: category}.Sigil()
}

func referenceKey(ref markup.EntityReference) markup.EntityReference {
	return markup.EntityReference{Category: ref.Category, TargetID: ref.TargetID}
}

// Composer resolves the references of a message and composes its prompt.
type Composer struct {
	resolver *Resolver
}

// NewComposer creates a composer using the resolver.
func NewComposer(resolver *Resolver) *Composer {
	return &Composer{resolver: resolver}
}

// ComposeMessage builds the prompt for raw as written by userID.
// References that fail to resolve are skipped so the turn can proceed.
func (c *Composer) ComposeMessage(ctx context.Context, raw string, userID int32) string {
	if !markup.HasAnnotations(raw) {
		return raw
	}
	doc, err := markup.Parse(raw)
	if err != nil {
		return Compose(raw, nil)
	}

	var contexts []*EntityContext
	for _, ref := range doc.References() {
		if !ref.Resolvable() {
			continue
		}
		ec, err := c.resolver.Resolve(ctx, ref, userID)
		if err != nil {
			slog.Warn("failed to resolve entity reference",
				"category", ref.Category,
				"target_id", ref.TargetID,
				"error", err)
			continue
		}
		if ec != nil {
			contexts = append(contexts, ec)
		}
	}
	return Compose(raw, contexts)
}
