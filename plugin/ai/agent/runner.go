package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/plugin/ai/agent/tools"
	"github.com/hrygo/chorus/plugin/ai/metrics"
	"github.com/hrygo/chorus/plugin/ai/prompt"
	"github.com/hrygo/chorus/plugin/ai/timeout"
	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/store"
	"github.com/hrygo/chorus/store/cache"
)

const (
	// DefaultHistoryLimit is the number of stored messages replayed to the model.
	DefaultHistoryLimit = 20

	turnRetention = 10 * time.Minute
)

// TurnRequest asks a persona to reply in a conversation.
type TurnRequest struct {
	Persona        *Persona
	ConversationID int32
	// ActingUserID is the participant tools run on behalf of.
	ActingUserID int32
	// Input is the raw markup of the message to answer. It is composed before sending.
	Input string
	// TriggerMessageID is left out of the replayed history when set.
	TriggerMessageID int32
	// SkipHistory sends Input alone, without the stored conversation.
	SkipHistory bool
	// Logger carries request scoped fields. Nil uses slog.Default.
	Logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTitler names fresh agent sessions after their first turn.
func WithTitler(titler *Titler) RunnerOption {
	return func(r *Runner) { r.titler = titler }
}

// WithSignalSink sets the receiver of sidebar signals.
func WithSignalSink(sink SignalSink) RunnerOption {
	return func(r *Runner) { r.signals = sink }
}

// WithRecorder sets the turn metrics recorder.
func WithRecorder(recorder metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = recorder }
}

// WithPersistRetryDelay sets the pause before the persistence retry.
func WithPersistRetryDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.persistRetryDelay = d }
}

// WithRenderMarkdown converts the reply text from markdown before display.
func WithRenderMarkdown(enabled bool) RunnerOption {
	return func(r *Runner) { r.renderMarkdown = enabled }
}

// WithHistoryLimit sets how many stored messages are replayed.
func WithHistoryLimit(n int) RunnerOption {
	return func(r *Runner) { r.historyLimit = n }
}

// Runner executes agent turns.
// Runner 负责执行代理轮次：组装提示、消费流、调度工具并持久化回复。
type Runner struct {
	store      *store.Store
	generation ai.GenerationService
	composer   *prompt.Composer
	registry   *tools.Registry

	titler            *Titler
	signals           SignalSink
	recorder          metrics.Recorder
	persistRetryDelay time.Duration
	renderMarkdown    bool
	historyLimit      int

	turns *cache.Cache
	wg    sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(s *store.Store, generation ai.GenerationService, composer *prompt.Composer, registry *tools.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:             s,
		generation:        generation,
		composer:          composer,
		registry:          registry,
		signals:           discardSignals{},
		persistRetryDelay: timeout.PersistRetryDelay,
		historyLimit:      DefaultHistoryLimit,
		turns:             cache.New(cache.Config{DefaultTTL: turnRetention, MaxItems: 1024}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a turn in the background. The turn is detached from ctx
// cancellation so it completes even when the caller goes away.
func (r *Runner) Start(ctx context.Context, req *TurnRequest) (*Turn, error) {
	if req.Persona == nil {
		return nil, ErrUnknownPersona
	}
	turn := newTurn(uuid.NewString(), req.Persona, req.ConversationID)
	r.turns.Set(ctx, turn.ID, turn)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(context.WithoutCancel(ctx), turn, req)
	}()
	return turn, nil
}

// Run executes a turn and waits for it to finish.
func (r *Runner) Run(ctx context.Context, req *TurnRequest) (*Turn, error) {
	turn, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	<-turn.Done()
	return turn, turn.Err()
}

// Lookup returns a recent turn by id, or nil.
func (r *Runner) Lookup(id string) *Turn {
	v, ok := r.turns.Get(context.Background(), id)
	if !ok {
		return nil
	}
	return v.(*Turn)
}

// Wait blocks until all turns and background session titling finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, t *Turn, req *TurnRequest) {
	start := time.Now()
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"turn_id", t.ID,
		"agent", req.Persona.Username,
		"conversation_id", req.ConversationID,
	)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("agent turn panicked", "panic", p)
			r.fail(t, fmt.Errorf("%w: %v", ErrStreamInterrupted, p))
		}
		if r.recorder != nil {
			r.recorder.RecordTurn(req.Persona.Username, time.Since(start), t.State() == TurnDone)
		}
		close(t.done)
	}()

	// COMPOSING
	history, firstTurn := r.history(ctx, req, logger)
	text := r.composer.ComposeMessage(ctx, req.Input, req.ActingUserID)
	messages := appendTurn(history, "user", text)
	if firstTurn {
		r.maybeNameSession(ctx, req, logger)
	}

	// STREAMING
	r.mustTransition(t, TurnStreaming, logger)
	acc, err := r.stream(ctx, t, req, messages, logger)
	if err != nil {
		logger.Warn("agent turn failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		r.fail(t, err)
		return
	}

	// PERSISTING
	r.mustTransition(t, TurnPersisting, logger)
	message, err := r.persist(ctx, t, r.assemble(acc), logger)
	if err != nil {
		logger.Error("failed to persist agent reply", "error", err)
		t.placeholder.MarkUnsaved()
		r.setFailed(t, err)
		return
	}
	t.placeholder.MarkSaved(message)
	t.mu.Lock()
	t.message = message
	t.mu.Unlock()
	r.mustTransition(t, TurnDone, logger)
	logger.Info("agent turn completed",
		"message_id", message.ID,
		"duration_ms", time.Since(start).Milliseconds())
}

// stream consumes the generation stream into an accumulator.
func (r *Runner) stream(ctx context.Context, t *Turn, req *TurnRequest, messages []ai.Message, logger *slog.Logger) (*Accumulator, error) {
	stream, err := r.generation.Stream(ctx, &ai.GenerationRequest{
		Model:    req.Persona.Model,
		System:   req.Persona.SystemPrompt(),
		Messages: messages,
		Tools:    r.registry.Schemas(),
		Hints: map[string]string{
			"conversation_id": strconv.Itoa(int(req.ConversationID)),
			"agent":           req.Persona.Username,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	defer stream.Close()

	acc := NewAccumulator()
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}
		if !acc.Apply(ev) {
			continue
		}
		t.placeholder.Publish(r.assemble(acc))

		switch ev.Kind {
		case ai.EventToolCall:
			if err := r.dispatch(ctx, stream, ev.ToolCall, req, logger); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
			}
		case ai.EventToolResult:
			r.signal(ctx, acc.ToolName(ev.ToolResult.ID), ev.ToolResult, req.ActingUserID)
		}
	}
	if acc.Empty() {
		return nil, ErrEmptyReply
	}
	return acc, nil
}

// dispatch runs a tool call and hands its outcome back to the generator.
func (r *Runner) dispatch(ctx context.Context, stream ai.EventStream, call *ai.ToolCall, req *TurnRequest, logger *slog.Logger) error {
	outcome := r.registry.Dispatch(context.WithoutCancel(ctx), call.Name, call.Arguments, &tools.ExecContext{
		UserID: req.ActingUserID,
		Store:  r.store,
	})
	logger.Debug("tool call dispatched", "tool", call.Name, "call_id", call.ID, "success", outcome.Success)
	return stream.SubmitToolOutcome(ctx, &ai.ToolResult{
		ID:      call.ID,
		Success: outcome.Success,
		Result:  outcome.Result,
		Error:   outcome.Error,
	})
}

func (r *Runner) signal(ctx context.Context, name string, result *ai.ToolResult, userID int32) {
	if !result.Success {
		return
	}
	tool := r.registry.Get(name)
	if tool == nil || tool.SideEffect == tools.SideEffectNone {
		return
	}
	r.signals.Signal(ctx, Signal{Kind: tool.SideEffect, UserID: userID, Tool: name})
}

// persist stores the reply, retrying once after the retry delay. Both attempts
// share one UID, so a write that landed despite an error is found, not duplicated.
func (r *Runner) persist(ctx context.Context, t *Turn, content string, logger *slog.Logger) (*store.Message, error) {
	create := &store.Message{
		UID:            shortuuid.New(),
		ConversationID: t.ConversationID,
		SenderID:       t.Persona.UserID,
		Content:        content,
		CreatedTs:      time.Now().Unix(),
	}
	message, err := r.store.CreateMessage(ctx, create)
	if err == nil {
		return message, nil
	}
	logger.Warn("failed to persist agent reply, retrying", "error", err, "delay", r.persistRetryDelay)
	time.Sleep(r.persistRetryDelay)

	message, err = r.store.CreateMessage(ctx, create)
	if err == nil {
		return message, nil
	}
	if existing, findErr := r.store.ListMessages(ctx, &store.FindMessage{UID: &create.UID}); findErr == nil && len(existing) == 1 {
		return existing[0], nil
	}
	return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
}

// assemble renders the accumulator the same way for display and persistence.
func (r *Runner) assemble(acc *Accumulator) string {
	return acc.Assemble(r.formatText)
}

func (r *Runner) formatText(text string) string {
	if r.renderMarkdown {
		html, err := markup.RenderMarkdown(text)
		if err == nil {
			return html
		}
		slog.Debug("failed to render markdown, using plain text", "error", err)
	}
	return markup.FromPlainText(text)
}

// history replays stored messages as alternating user/assistant turns and
// reports whether the input is the first user message of the conversation.
func (r *Runner) history(ctx context.Context, req *TurnRequest, logger *slog.Logger) ([]ai.Message, bool) {
	if req.SkipHistory {
		return nil, false
	}
	list, err := r.store.ListRecentMessages(ctx, req.ConversationID, r.historyLimit)
	if err != nil {
		logger.Warn("failed to load history", "error", err)
		return nil, false
	}
	var messages []ai.Message
	firstTurn := true
	for _, m := range list {
		if req.TriggerMessageID != 0 && m.ID == req.TriggerMessageID {
			continue
		}
		role := "user"
		if m.SenderID == req.Persona.UserID {
			role = "assistant"
		} else {
			firstTurn = false
		}
		text := markup.PlainText(m.Content)
		if text == "" {
			continue
		}
		messages = appendTurn(messages, role, text)
	}
	return messages, firstTurn
}

// appendTurn appends a message, merging it into the previous one when the
// roles match so that roles alternate.
func appendTurn(messages []ai.Message, role, content string) []ai.Message {
	if n := len(messages); n > 0 && messages[n-1].Role == role {
		messages[n-1].Content += "\n\n" + content
		return messages
	}
	return append(messages, ai.Message{Role: role, Content: content})
}

func (r *Runner) maybeNameSession(ctx context.Context, req *TurnRequest, logger *slog.Logger) {
	if r.titler == nil {
		return
	}
	conversation, err := r.store.GetConversation(ctx, req.ConversationID)
	if err != nil || conversation == nil {
		logger.Debug("skip session titling", "error", err)
		return
	}
	if conversation.Kind != store.ConversationKindAgentSession {
		return
	}
	text := markup.PlainText(req.Input)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.titler.NameSession(ctx, req.ConversationID, text)
	}()
}

func (r *Runner) mustTransition(t *Turn, to TurnState, logger *slog.Logger) {
	if err := t.transition(to); err != nil {
		logger.Error("turn state machine violated", "error", err)
	}
}

// fail removes the placeholder and marks the turn FAILED.
func (r *Runner) fail(t *Turn, err error) {
	if t.State().IsTerminal() {
		return
	}
	t.placeholder.Remove()
	r.setFailed(t, err)
}

func (r *Runner) setFailed(t *Turn, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return
	}
	t.state = TurnFailed
	t.err = err
}
