package titling

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/store"
)

// Runner names agent sessions that are still untitled, e.g. because the title
// request of their first turn timed out.
type Runner struct {
	store     *store.Store
	titler    *agent.Titler
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

// NewRunner creates a session titling runner.
// Sessions younger than the grace period are left to the inline titler.
func NewRunner(store *store.Store, titler *agent.Titler) *Runner {
	return &Runner{
		store:     store,
		titler:    titler,
		interval:  5 * time.Minute,
		grace:     time.Minute,
		batchSize: 8,
		now:       time.Now,
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.processUntitled(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processUntitled(ctx)
		case <-ctx.Done():
			slog.Info("titling runner stopped")
			return
		}
	}
}

// RunOnce processes sessions once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	r.processUntitled(ctx)
}

func (r *Runner) processUntitled(ctx context.Context) {
	sessions, err := r.findUntitledSessions(ctx)
	if err != nil {
		slog.Error("failed to find untitled sessions", "error", err)
		return
	}
	if len(sessions) == 0 {
		return
	}

	slog.Info("titling sessions", "count", len(sessions))
	for i, session := range sessions {
		select {
		case <-ctx.Done():
			slog.Info("session titling cancelled", "processed", i, "total", len(sessions))
			return
		default:
		}

		text, err := r.firstUserText(ctx, session.ID)
		if err != nil {
			slog.Error("failed to load first message", "conversation_id", session.ID, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		r.titler.NameSession(ctx, session.ID, text)
	}
}

// findUntitledSessions returns at most batchSize unnamed sessions past the grace period.
func (r *Runner) findUntitledSessions(ctx context.Context) ([]*store.Conversation, error) {
	kind := store.ConversationKindAgentSession
	list, err := r.store.ListConversations(ctx, &store.FindConversation{Kind: &kind})
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.grace).Unix()
	untitled := []*store.Conversation{}
	for _, c := range list {
		if c.Name != nil || c.CreatedTs > cutoff {
			continue
		}
		untitled = append(untitled, c)
		if len(untitled) == r.batchSize {
			break
		}
	}
	return untitled, nil
}

// firstUserText returns the plain text of the first message sent by a person.
func (r *Runner) firstUserText(ctx context.Context, conversationID int32) (string, error) {
	messages, err := r.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID, Limit: 10})
	if err != nil {
		return "", err
	}
	for _, m := range messages {
		sender, err := r.store.GetUser(ctx, m.SenderID)
		if err != nil {
			return "", err
		}
		if sender == nil || sender.IsAutonomous {
			continue
		}
		if text := markup.PlainText(m.Content); text != "" {
			return text, nil
		}
	}
	return "", nil
}
