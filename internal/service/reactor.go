package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/reactor/internal/adapter/otel"
	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/agent"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/logger"
	"github.com/Strob0t/reactor/internal/port/platform"
	"github.com/Strob0t/reactor/internal/sandbox"
)

// ReactorService seeds the built-in agents and runs every enabled agent in
// its own sandbox, acting as the agent's principal.
type ReactorService struct {
	agents      *AgentService
	tokens      platform.TokenIssuer
	sessions    platform.SessionFactory
	service     *principal.Principal
	scripts     fs.FS
	maxParallel int
	launchWait  time.Duration
	log         *slog.Logger
	metrics     *otel.Metrics
}

// DefaultLaunchTimeout bounds how long Start waits for one agent's top-level run.
const DefaultLaunchTimeout = 10 * time.Second

// NewReactorService creates a ReactorService. scripts holds the built-in
// agent files; service may be nil, which makes Initialize and Start fail.
func NewReactorService(
	agents *AgentService,
	tokens platform.TokenIssuer,
	sessions platform.SessionFactory,
	service *principal.Principal,
	scripts fs.FS,
	maxParallel int,
) *ReactorService {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &ReactorService{
		agents:      agents,
		tokens:      tokens,
		sessions:    sessions,
		service:     service,
		scripts:     scripts,
		maxParallel: maxParallel,
		launchWait:  DefaultLaunchTimeout,
		log:         slog.Default(),
	}
}

// SetLaunchTimeout sets how long an agent's top-level run may take before
// the agent is stopped and counted as faulted. Non-positive values are ignored.
func (s *ReactorService) SetLaunchTimeout(d time.Duration) {
	if d > 0 {
		s.launchWait = d
	}
}

// SetLogger replaces the logger agents and reactor stages log to.
func (s *ReactorService) SetLogger(l *slog.Logger) { s.log = l }

// SetMetrics attaches metric instruments.
func (s *ReactorService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// preparedAgent is an agent plus its per-run state. script and session are
// nil for disabled agents.
type preparedAgent struct {
	agent   agent.Agent
	script  *sandbox.Script
	session platform.Session
}

func (p *preparedAgent) runnable() bool {
	return p != nil && p.agent.Enabled && p.script != nil && p.session != nil
}

// Initialize seeds one service-owned agent per built-in script file. Existing
// agents get their action refreshed to the current file contents.
func (s *ReactorService) Initialize(ctx context.Context) error {
	if s.service == nil {
		return domain.ErrServicePrincipalUnavailable
	}
	ctx, span := otel.StartReactorSpan(ctx, "initialize")
	defer span.End()

	entries, err := fs.ReadDir(s.scripts, ".")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDirectoryEnumeration, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	seeded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seeded++
		name := e.Name()
		g.Go(func() error {
			return s.seed(gctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("built-in agents seeded", "count", seeded)
	return nil
}

func (s *ReactorService) seed(ctx context.Context, name string) error {
	content, err := fs.ReadFile(s.scripts, name)
	if err != nil {
		return fmt.Errorf("read built-in agent %s: %w", name, err)
	}
	action := string(content)

	existing, err := s.agents.Find(ctx, s.service,
		agent.Filter{Name: name, ExecuteAs: s.service.ID}, agent.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}

	if len(existing) > 0 {
		if _, err := s.agents.Update(ctx, s.service, existing[0].ID, agent.UpdateRequest{Action: &action}); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		return nil
	}

	if _, err := s.agents.Create(ctx, s.service, agent.CreateRequest{
		Name:      name,
		Action:    action,
		Enabled:   true,
		ExecuteAs: s.service.ID,
	}); err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	return nil
}

// Start authenticates as the service principal, prepares every agent and
// launches the enabled ones. It returns once each launched agent's top-level
// run has finished. Per-agent faults are logged, never returned.
func (s *ReactorService) Start(ctx context.Context) ([]*sandbox.Task, error) {
	if s.service == nil {
		s.log.Error("reactor start failed", "error", domain.ErrServicePrincipalUnavailable)
		return nil, domain.ErrServicePrincipalUnavailable
	}
	begin := time.Now()
	spanCtx, span := otel.StartReactorSpan(ctx, "start")
	defer span.End()

	tok, err := s.tokens.FindOrCreateToken(spanCtx, *s.service)
	if err != nil {
		err = fmt.Errorf("service token: %w", err)
		s.log.Error("reactor start failed", "error", err)
		return nil, err
	}
	svc, err := s.sessions.NewSession(spanCtx, credential.Credential{Principal: *s.service, Token: *tok})
	if err != nil {
		err = fmt.Errorf("service session: %w", err)
		s.log.Error("reactor start failed", "error", err)
		return nil, err
	}

	agents, err := s.agents.Find(spanCtx, s.service, agent.Filter{}, agent.ListOptions{})
	if err != nil {
		err = fmt.Errorf("load agents: %w", err)
		s.log.Error("reactor start failed", "error", err)
		return nil, err
	}

	prepared := s.prepare(spanCtx, svc, agents)
	tasks, err := s.execute(ctx, prepared)
	if err != nil {
		s.log.Error("reactor start failed", "error", err)
		return tasks, err
	}

	if s.metrics != nil {
		s.metrics.StartDuration.Record(spanCtx, time.Since(begin).Seconds())
	}
	s.log.Info("reactor started", "agents", len(agents), "running", len(tasks))
	return tasks, nil
}

// prepare compiles and impersonates every enabled agent concurrently.
// Agents that fail either step are logged and left out of the result.
func (s *ReactorService) prepare(ctx context.Context, svc platform.Session, agents []agent.Agent) []*preparedAgent {
	results := make([]*preparedAgent, len(agents))

	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for i := range agents {
		g.Go(func() error {
			results[i] = s.prepareOne(ctx, svc, agents[i])
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*preparedAgent, 0, len(results))
	for _, p := range results {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *ReactorService) prepareOne(ctx context.Context, svc platform.Session, a agent.Agent) *preparedAgent {
	if !a.Enabled {
		return &preparedAgent{agent: a}
	}
	ctx, span := otel.StartPrepareSpan(ctx, a.ID, a.Name)
	defer span.End()
	log := logger.ForAgent(s.log, a.Name, a.ID)

	script, err := sandbox.Compile(a.Name, a.Action)
	if err != nil {
		log.Error("agent dropped", "stage", "compile", "error", err)
		s.countDropped(ctx)
		return nil
	}

	sess, err := svc.Impersonate(ctx, a.ExecuteAs)
	if err == nil && sess == nil {
		err = fmt.Errorf("%w: no session for %s", domain.ErrImpersonation, a.ExecuteAs)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrImpersonation) {
			err = fmt.Errorf("%w: %w", domain.ErrImpersonation, err)
		}
		log.Error("agent dropped", "stage", "impersonate", "execute_as", a.ExecuteAs, "error", err)
		s.countDropped(ctx)
		return nil
	}

	if s.metrics != nil {
		s.metrics.AgentsPrepared.Add(ctx, 1)
	}
	return &preparedAgent{agent: a, script: script, session: sess}
}

// execute launches every runnable agent and waits until each top-level run
// has returned. A fault in one agent never affects another.
func (s *ReactorService) execute(ctx context.Context, prepared []*preparedAgent) ([]*sandbox.Task, error) {
	tasks := make([]*sandbox.Task, 0, len(prepared))
	for _, p := range prepared {
		if !p.runnable() {
			continue
		}
		tasks = append(tasks, sandbox.Launch(ctx, p.script, sandbox.Capabilities{
			Logger:  logger.ForAgent(s.log, p.agent.Name, p.agent.ID),
			Session: p.session,
			Params:  p.agent.Params,
		}))
	}

	// One deadline covers every task; all of them were launched before the wait began.
	waitCtx, cancel := context.WithTimeout(ctx, s.launchWait)
	defer cancel()
	for _, t := range tasks {
		log := s.log.With("agent", t.Name())
		select {
		case <-t.Started():
			if t.Err() != nil {
				s.countFaulted(ctx)
				continue
			}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return tasks, fmt.Errorf("dispatch agents: %w", ctx.Err())
			}
			t.Stop()
			err := fmt.Errorf("run %s: %w: top-level run exceeded %s", t.Name(), domain.ErrScriptExecution, s.launchWait)
			log.Error("agent launch timed out", "error", err)
			s.countFaulted(ctx)
			continue
		}
		if s.metrics != nil {
			s.metrics.AgentsStarted.Add(ctx, 1)
		}
	}
	return tasks, nil
}

func (s *ReactorService) countFaulted(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.AgentsFaulted.Add(ctx, 1)
	}
}

func (s *ReactorService) countDropped(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.AgentsDropped.Add(ctx, 1)
	}
}
