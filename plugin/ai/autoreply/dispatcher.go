package autoreply

import (
	"context"
	"log/slog"

	"github.com/hrygo/chorus/plugin/ai/agent"
)

// RunnerDispatcher runs auto-replies as agent turns. The persona acts as itself,
// and the turn sees the assembled context instead of its own replay.
type RunnerDispatcher struct {
	Runner *agent.Runner
}

func (d *RunnerDispatcher) Dispatch(ctx context.Context, trigger *Trigger) error {
	_, err := d.Runner.Run(ctx, &agent.TurnRequest{
		Persona:          trigger.Persona,
		ConversationID:   trigger.ConversationID,
		ActingUserID:     trigger.Persona.UserID,
		Input:            trigger.Prompt,
		TriggerMessageID: trigger.Message.ID,
		SkipHistory:      true,
		Logger: slog.Default().With(
			"trigger", "auto_reply",
			"message_id", trigger.Message.ID,
		),
	})
	return err
}
