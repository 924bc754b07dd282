package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/cobra"

	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/server"
	"github.com/hrygo/chorus/store"
)

var askCmd = &cobra.Command{
	Use:   "ask <agent> <message>",
	Short: "Run one agent session turn and stream the reply to the terminal",
	Example: `  chorus ask scribe "summarize #general" --user alice
  chorus ask scribe "and now in French" --user alice --session 12`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		if !p.IsAIEnabled() {
			return fmt.Errorf("AI is not enabled, set CHORUS_AI_ENABLED=true")
		}
		username, _ := cmd.Flags().GetString("user")
		sessionID, _ := cmd.Flags().GetInt32("session")

		logger := server.NewLogger(os.Stderr, p.IsDev())
		slog.SetDefault(logger)
		ctx := context.Background()
		s, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer s.Close()

		srv, err := server.NewServer(ctx, p, s, logger)
		if err != nil {
			return err
		}
		persona := findPersona(srv.Directory(), args[0])
		if persona == nil {
			return fmt.Errorf("agent %q is not configured", args[0])
		}
		user, err := findOrCreateUser(ctx, s, username, true)
		if err != nil {
			return err
		}
		conversationID := sessionID
		if conversationID == 0 {
			if conversationID, err = createSession(ctx, s, user.ID, persona.UserID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session %d\n", conversationID)
		}

		content := markup.FromPlainText(args[1])
		message, err := s.CreateMessage(ctx, &store.Message{
			UID:            shortuuid.New(),
			ConversationID: conversationID,
			SenderID:       user.ID,
			Content:        content,
			CreatedTs:      time.Now().Unix(),
		})
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		runner := srv.Runner()
		turn, err := runner.Start(ctx, &agent.TurnRequest{
			Persona:          persona,
			ConversationID:   conversationID,
			ActingUserID:     user.ID,
			Input:            content,
			TriggerMessageID: message.ID,
			Logger:           logger.With("agent", persona.Username),
		})
		if err != nil {
			return err
		}
		printTurn(cmd.OutOrStdout(), turn)
		runner.Wait()
		if err := turn.Err(); err != nil {
			return fmt.Errorf("turn %s: %w", turn.State(), err)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "cli", "username the message is sent as")
	askCmd.Flags().Int32("session", 0, "existing agent session id, a new one is created when 0")
}

func findPersona(directory *agent.Directory, username string) *agent.Persona {
	for _, p := range directory.List() {
		if strings.EqualFold(p.Username, username) {
			return p
		}
	}
	return nil
}

func createSession(ctx context.Context, s *store.Store, userID, agentID int32) (int32, error) {
	now := time.Now().Unix()
	conversation, err := s.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Kind:      store.ConversationKindAgentSession,
		CreatorID: userID,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	for _, memberID := range []int32{userID, agentID} {
		if _, err := s.CreateConversationMember(ctx, &store.ConversationMember{
			ConversationID: conversation.ID,
			UserID:         memberID,
			CreatedTs:      now,
		}); err != nil {
			return 0, fmt.Errorf("failed to add session member: %w", err)
		}
	}
	return conversation.ID, nil
}

// printTurn writes the plain text of the placeholder as it grows.
func printTurn(w io.Writer, turn *agent.Turn) {
	updates, stop := turn.Placeholder().Subscribe()
	defer stop()

	printed := ""
	for update := range updates {
		text := markup.PlainText(update.Content)
		if strings.HasPrefix(text, printed) {
			fmt.Fprint(w, text[len(printed):])
		} else {
			fmt.Fprint(w, "\n"+text)
		}
		printed = text
		if update.State == agent.PlaceholderRemoved {
			fmt.Fprint(w, "\n[reply removed]")
		}
		if update.State == agent.PlaceholderUnsaved {
			fmt.Fprint(w, "\n[reply not saved]")
		}
	}
	fmt.Fprintln(w)
}
