// Package autoreply decides which autonomous participants answer a new message
// in a shared conversation and dispatches their turns.
package autoreply

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/store"
)

const (
	DefaultContextWindow = 10
	DefaultMaxConcurrent = 8
	DefaultRatePerMinute = 20
)

// Trigger is one auto-reply to run.
type Trigger struct {
	Persona        *agent.Persona
	ConversationID int32
	Message        *store.Message
	// Prompt holds the recent conversation lines ending with the triggering message.
	Prompt string
}

// Dispatcher runs the turn of a trigger.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger *Trigger) error
}

// Config tunes the engine.
type Config struct {
	Rules         []*AffinityRule
	ContextWindow int
	MaxConcurrent int
	RatePerMinute int
}

type pendingKey struct {
	conversationID int32
	participantID  int32
}

// Engine reacts to message inserts in shared conversations.
// At most one reply per (conversation, participant) is in flight at any time.
type Engine struct {
	store      *store.Store
	directory  *agent.Directory
	dispatcher Dispatcher
	rules      []*affinity

	contextWindow int
	turns         *semaphore.Weighted
	ratePerMinute int

	mu       sync.Mutex
	pending  map[pendingKey]struct{}
	limiters map[int32]*rate.Limiter

	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewEngine creates an engine. Rule conditions are compiled here so that a bad
// configuration fails at startup.
func NewEngine(s *store.Store, directory *agent.Directory, dispatcher Dispatcher, cfg Config) (*Engine, error) {
	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:         s,
		directory:     directory,
		dispatcher:    dispatcher,
		rules:         rules,
		contextWindow: cfg.ContextWindow,
		turns:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ratePerMinute: cfg.RatePerMinute,
		pending:       make(map[pendingKey]struct{}),
		limiters:      make(map[int32]*rate.Limiter),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start subscribes the engine to message inserts.
func (e *Engine) Start() {
	e.unsubscribe = e.store.Feed().Subscribe(store.TableMessage, func(event *store.Event) {
		if event.Action != store.ActionInsert {
			return
		}
		message, ok := event.Row.(*store.Message)
		if !ok {
			return
		}
		// The feed delivers synchronously inside the insert; hand off.
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.HandleMessage(e.ctx, message)
		}()
	})
}

// Stop unsubscribes and waits for the turns already triggered, at most until
// ctx is done. Replies still waiting for a turn slot are then abandoned.
func (e *Engine) Stop(ctx context.Context) error {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	defer e.cancel()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all handled messages and their turns finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// HandleMessage evaluates the rules for an inserted message and dispatches
// every eligible participant concurrently.
func (e *Engine) HandleMessage(ctx context.Context, message *store.Message) {
	conversation, err := e.store.GetConversation(ctx, message.ConversationID)
	if err != nil {
		slog.Warn("auto-reply: failed to load conversation", "conversation_id", message.ConversationID, "error", err)
		return
	}
	if conversation == nil || conversation.Kind == store.ConversationKindAgentSession {
		return
	}

	candidates, err := e.Candidates(ctx, conversation, message)
	if err != nil {
		slog.Warn("auto-reply: failed to evaluate rules", "message_id", message.ID, "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	prompt, err := e.buildPrompt(ctx, conversation, message)
	if err != nil {
		slog.Warn("auto-reply: failed to build context", "conversation_id", conversation.ID, "error", err)
		return
	}
	for _, persona := range candidates {
		e.dispatch(ctx, &Trigger{
			Persona:        persona,
			ConversationID: conversation.ID,
			Message:        message,
			Prompt:         prompt,
		})
	}
}

// Candidates returns the personas that must reply to message: those it mentions
// plus those affiliated with its channel, without duplicates and never the sender.
func (e *Engine) Candidates(ctx context.Context, conversation *store.Conversation, message *store.Message) ([]*agent.Persona, error) {
	selected := make(map[int32]*agent.Persona)
	add := func(id int32) {
		if id == message.SenderID {
			return
		}
		if persona := e.directory.Get(id); persona != nil {
			selected[id] = persona
		}
	}

	if markup.HasAnnotations(message.Content) {
		doc, err := markup.Parse(message.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		for _, mention := range doc.Mentions() {
			ref := mention.Reference()
			if ref.Category == markup.CategoryPerson && ref.TargetID > 0 {
				add(ref.TargetID)
			}
		}
	}

	if conversation.Kind == store.ConversationKindChannel && len(e.rules) > 0 {
		sender, err := e.store.GetUser(ctx, message.SenderID)
		if err != nil {
			return nil, fmt.Errorf("failed to get sender: %w", err)
		}
		// Replies of agents do not fire channel affinity; mentions still do.
		if sender != nil && !sender.IsAutonomous {
			text := markup.PlainText(message.Content)
			for _, rule := range e.rules {
				ok, err := rule.matches(conversation.DisplayName(), sender.Username, text)
				if err != nil {
					slog.Warn("auto-reply: condition failed", "participant_id", rule.participantID, "error", err)
					continue
				}
				if ok {
					add(rule.participantID)
				}
			}
		}
	}

	list := make([]*agent.Persona, 0, len(selected))
	for _, persona := range selected {
		list = append(list, persona)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list, nil
}

// dispatch claims the pending marker of the pair and runs the turn in its own
// goroutine. The marker is released when the turn ends, whatever the outcome.
func (e *Engine) dispatch(ctx context.Context, trigger *Trigger) {
	key := pendingKey{conversationID: trigger.ConversationID, participantID: trigger.Persona.UserID}
	if !e.claim(key) {
		slog.Debug("auto-reply: reply already pending",
			"conversation_id", key.conversationID,
			"participant_id", key.participantID)
		return
	}
	if !e.limiter(key.participantID).Allow() {
		e.release(key)
		slog.Warn("auto-reply: participant throttled",
			"conversation_id", key.conversationID,
			"participant_id", key.participantID)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(key)

		if err := e.turns.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.turns.Release(1)

		start := time.Now()
		err := e.dispatcher.Dispatch(ctx, trigger)
		if err != nil {
			slog.Warn("auto-reply: turn failed",
				"conversation_id", key.conversationID,
				"participant_id", key.participantID,
				"error", err)
			return
		}
		slog.Debug("auto-reply: turn finished",
			"conversation_id", key.conversationID,
			"participant_id", key.participantID,
			"duration_ms", time.Since(start).Milliseconds())
	}()
}

func (e *Engine) claim(key pendingKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[key]; ok {
		return false
	}
	e.pending[key] = struct{}{}
	return true
}

func (e *Engine) release(key pendingKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, key)
}

// Pending reports whether a reply of participantID in conversationID is in flight.
func (e *Engine) Pending(conversationID, participantID int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[pendingKey{conversationID: conversationID, participantID: participantID}]
	return ok
}

func (e *Engine) limiter(participantID int32) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.limiters[participantID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(e.ratePerMinute)), e.ratePerMinute)
	e.limiters[participantID] = l
	return l
}

// buildPrompt lists the recent messages as "sender: text" lines. The triggering
// message is appended unless its row is already in the window. Messages without
// an id are matched by sender and text against the newest line instead.
func (e *Engine) buildPrompt(ctx context.Context, conversation *store.Conversation, message *store.Message) (string, error) {
	recent, err := e.store.ListRecentMessages(ctx, conversation.ID, e.contextWindow)
	if err != nil {
		return "", err
	}

	var lines []string
	included := false
	for i, m := range recent {
		text := markup.PlainText(m.Content)
		if text == "" {
			continue
		}
		name, err := e.senderName(ctx, m.SenderID)
		if err != nil {
			return "", err
		}
		if message.ID != 0 {
			included = included || m.ID == message.ID
		} else if i == len(recent)-1 {
			included = m.SenderID == message.SenderID && text == markup.PlainText(message.Content)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, text))
	}
	if text := markup.PlainText(message.Content); text != "" && !included {
		name, err := e.senderName(ctx, message.SenderID)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, text))
	}

	header := "Recent messages in this conversation:"
	if conversation.Kind == store.ConversationKindChannel {
		header = fmt.Sprintf("Recent messages in #%s:", conversation.DisplayName())
	}
	return header + "\n" + strings.Join(lines, "\n") + "\n\nReply to the last message.", nil
}

func (e *Engine) senderName(ctx context.Context, userID int32) (string, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	if user == nil {
		return "unknown", nil
	}
	return user.Name(), nil
}
