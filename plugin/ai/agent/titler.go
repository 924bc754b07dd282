package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/plugin/ai/timeout"
	"github.com/hrygo/chorus/store"
)

// maxTitleWords bounds generated session titles.
const maxTitleWords = 6

const titlePrompt = `Write a title of at most %d words for a conversation that starts with the message below.
Reply with the title only, without quotes or punctuation at the end.

Message:
%s`

// Titler names fresh agent sessions from their first message.
// Titler 根据首条消息为新会话生成标题。
type Titler struct {
	summarizer ai.Summarizer
	store      *store.Store
}

// NewTitler creates a titler.
func NewTitler(summarizer ai.Summarizer, s *store.Store) *Titler {
	return &Titler{summarizer: summarizer, store: s}
}

// Title generates a short title for text within the title timeout.
func (t *Titler) Title(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.TitleTimeout)
	defer cancel()

	text = truncate(strings.TrimSpace(text), 1000)
	if text == "" {
		return "", fmt.Errorf("failed to generate title: empty message")
	}
	raw, err := t.summarizer.Summarize(ctx, fmt.Sprintf(titlePrompt, maxTitleWords, text))
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	title := cleanTitle(raw)
	if title == "" {
		return "", fmt.Errorf("failed to generate title: empty completion")
	}
	return title, nil
}

// NameSession titles a conversation and stores the name. Errors are logged only.
func (t *Titler) NameSession(ctx context.Context, conversationID int32, text string) {
	title, err := t.Title(ctx, text)
	if err != nil {
		slog.Warn("failed to title session", "conversation_id", conversationID, "error", err)
		return
	}
	if _, err := t.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:   conversationID,
		Name: &title,
	}); err != nil {
		slog.Warn("failed to rename session", "conversation_id", conversationID, "error", err)
		return
	}
	slog.Debug("session titled", "conversation_id", conversationID, "title", title)
}

// cleanTitle keeps the first line, drops wrapping quotes and trailing
// punctuation, and caps the word count.
func cleanTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimPrefix(strings.TrimSpace(line), "Title:")
	line = strings.Trim(line, " \"'`*")
	words := strings.Fields(line)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := strings.Join(words, " ")
	return strings.TrimRightFunc(title, unicode.IsPunct)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
