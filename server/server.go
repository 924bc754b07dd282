package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/chorus/internal/profile"
	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/ai/agent/tools"
	"github.com/hrygo/chorus/plugin/ai/autoreply"
	"github.com/hrygo/chorus/plugin/ai/metrics"
	"github.com/hrygo/chorus/plugin/ai/prompt"
	"github.com/hrygo/chorus/server/internal/observability"
	apiv1 "github.com/hrygo/chorus/server/router/api/v1"
	"github.com/hrygo/chorus/server/runner/titling"
	"github.com/hrygo/chorus/store"
)

// Server hosts the chat API together with the agents taking part in it.
type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	logger     *slog.Logger

	directory   *agent.Directory
	runner      *agent.Runner
	titler      *agent.Titler
	engine      *autoreply.Engine
	turnMetrics *metrics.Aggregator

	runnerCancelFuncs []context.CancelFunc
}

// NewLogger returns the process logger: text at debug level in dev, JSON otherwise.
func NewLogger(w io.Writer, dev bool) *slog.Logger {
	return observability.NewLogger(w, dev)
}

// NewServer builds the server. Agent accounts named in the profile are created
// when missing. When AI is disabled, messages are stored but never answered.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Store:       store,
		Profile:     profile,
		logger:      logger,
		turnMetrics: metrics.NewAggregator(),
	}

	s.Secret = profile.Secret
	if s.Secret == "" {
		if !profile.IsDev() {
			return nil, errors.New("secret is required in prod mode")
		}
		// Tokens do not survive a restart.
		s.Secret = uuid.NewString()
		logger.Warn("no secret configured, using an ephemeral one")
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	directory, err := s.loadPersonas(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agents")
	}
	s.directory = directory

	apiV1Service := apiv1.NewAPIV1Service(s.Secret, profile, store, logger)
	apiV1Service.Directory = directory
	apiV1Service.TurnMetrics = s.turnMetrics

	if profile.IsAIEnabled() {
		if err := s.initAgents(apiV1Service); err != nil {
			return nil, errors.Wrap(err, "failed to initialize agents")
		}
	} else {
		logger.Info("AI is disabled, agents will not reply")
	}

	apiV1Service.RegisterRoutes(echoServer)
	return s, nil
}

// initAgents builds the turn runner and the auto-reply engine.
func (s *Server) initAgents(api *apiv1.APIV1Service) error {
	aiConfig := ai.NewConfigFromProfile(s.Profile)
	if err := aiConfig.Validate(); err != nil {
		return err
	}
	generation, summarizer, err := ai.NewGenerationService(&aiConfig.LLM)
	if err != nil {
		return err
	}

	registry := tools.NewBuiltinRegistry(tools.NewResilientToolExecutor(s.turnMetrics))
	composer := prompt.NewComposer(prompt.NewResolver(s.Store))
	s.titler = agent.NewTitler(summarizer, s.Store)
	s.runner = agent.NewRunner(s.Store, generation, composer, registry,
		agent.WithTitler(s.titler),
		agent.WithSignalSink(api.Signals),
		agent.WithRecorder(s.turnMetrics),
		agent.WithPersistRetryDelay(s.Profile.PersistRetryDelay),
		agent.WithRenderMarkdown(s.Profile.RenderMarkdown),
	)
	api.Runner = s.runner

	rules := make([]*autoreply.AffinityRule, 0, len(s.Profile.Agents))
	for _, p := range s.directory.List() {
		agentProfile := s.agentProfile(p.Username)
		if agentProfile == nil || len(agentProfile.Channels) == 0 {
			continue
		}
		rules = append(rules, &autoreply.AffinityRule{
			ParticipantID: p.UserID,
			Channels:      agentProfile.Channels,
			When:          agentProfile.When,
		})
	}
	engine, err := autoreply.NewEngine(s.Store, s.directory, &autoreply.RunnerDispatcher{Runner: s.runner}, autoreply.Config{
		Rules:         rules,
		ContextWindow: s.Profile.AutoReply.ContextWindow,
		MaxConcurrent: s.Profile.AutoReply.MaxConcurrent,
		RatePerMinute: s.Profile.AutoReply.RatePerMinute,
	})
	if err != nil {
		return err
	}
	s.engine = engine
	return nil
}

// loadPersonas makes sure every configured agent has an autonomous account.
func (s *Server) loadPersonas(ctx context.Context) (*agent.Directory, error) {
	directory := agent.NewDirectory()
	for _, p := range s.Profile.Agents {
		username := p.Username
		list, err := s.Store.ListUsers(ctx, &store.FindUser{Username: &username})
		if err != nil {
			return nil, err
		}
		var user *store.User
		if len(list) > 0 {
			user = list[0]
			if !user.IsAutonomous {
				return nil, errors.Errorf("agent username %q belongs to a person", username)
			}
		} else {
			user, err = s.Store.CreateUser(ctx, &store.User{
				Username:     username,
				DisplayName:  p.DisplayName,
				IsAutonomous: true,
				CreatedTs:    time.Now().Unix(),
			})
			if err != nil {
				return nil, err
			}
			s.logger.Info("agent account created", "agent", username, "user_id", user.ID)
		}
		displayName := p.DisplayName
		if displayName == "" {
			displayName = user.Name()
		}
		directory.Add(&agent.Persona{
			UserID:       user.ID,
			Username:     user.Username,
			DisplayName:  displayName,
			Instructions: p.SystemPrompt,
			Model:        p.Model,
		})
	}
	return directory, nil
}

func (s *Server) agentProfile(username string) *profile.AgentProfile {
	for _, p := range s.Profile.Agents {
		if p.Username == username {
			return p
		}
	}
	return nil
}

// Start serves HTTP and starts the background runners. It returns once the
// listener is open.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	s.StartBackgroundRunners(ctx)

	go func() {
		s.echoServer.Listener = listener
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

// StartBackgroundRunners starts auto-reply and session titling.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	if s.engine != nil {
		s.engine.Start()
	}
	if s.titler != nil {
		runnerCtx, cancel := context.WithCancel(ctx)
		s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)
		go titling.NewRunner(s.Store, s.titler).Run(runnerCtx)
	}
}

// Shutdown stops accepting requests, lets running agent turns finish and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.logger.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
	}
	for _, cancelFunc := range s.runnerCancelFuncs {
		cancelFunc()
	}
	if s.engine != nil {
		if err := s.engine.Stop(ctx); err != nil {
			s.logger.Warn("auto-replies still running at shutdown", "error", err)
		}
	}
	if s.runner != nil {
		done := make(chan struct{})
		go func() {
			s.runner.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("agent turns still running at shutdown")
		}
	}
	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
	}
	s.logger.Info("chorus stopped properly")
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Runner returns the agent turn runner, or nil when AI is disabled.
func (s *Server) Runner() *agent.Runner {
	return s.runner
}

// Directory returns the configured personas.
func (s *Server) Directory() *agent.Directory {
	return s.directory
}
