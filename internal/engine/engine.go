// Package engine drives edit sessions over the environments registry: it
// fetches, validates, diffs and submits, and keeps the registry current.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"envline/internal/domain"
	"envline/internal/logging"
	"envline/internal/metrics"
	"envline/internal/reconcile"
	"envline/internal/validation"
	"envline/internal/wire"
	envlinesdk "envline/sdk/go"
)

// Transport is the part of the environments API the engine uses.
// *envlinesdk.Client implements it.
type Transport interface {
	Environments(ctx context.Context) (envlinesdk.EnvironmentsResponse, error)
	Environment(ctx context.Context, name string) (envlinesdk.Environment, string, error)
	CreateEnvironment(ctx context.Context, req envlinesdk.CreateEnvironmentRequest) (envlinesdk.Environment, string, error)
	PatchEnvironment(ctx context.Context, name, token string, req envlinesdk.PatchEnvironmentRequest) (envlinesdk.Environment, string, error)
	DeleteEnvironment(ctx context.Context, name string) error
}

type Engine struct {
	Client  Transport
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	mu       sync.Mutex
	registry *domain.Environments
	current  map[string]*Session
}

func New(client Transport, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		Client:  client,
		Logger:  logger,
		Metrics: m,
		Now:     time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

// Registry returns the registry of the last refresh, nil before the first one.
func (e *Engine) Registry() *domain.Environments {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry
}

func (e *Engine) setEntry(env *domain.Environment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registry != nil {
		e.registry = e.registry.With(env)
	}
}

// Refresh fetches every environment and replaces the registry wholesale.
func (e *Engine) Refresh(ctx context.Context) (*domain.Environments, error) {
	resp, err := e.Client.Environments(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch environments: %w", err)
	}
	reg, err := wire.Registry(resp)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.registry = reg
	e.mu.Unlock()
	if dups := reg.DuplicatePipelines(); len(dups) > 0 {
		e.log().Warn("pipelines in more than one environment", "pipelines", dups)
	}
	e.log().Debug("registry refreshed", "environments", reg.Len())
	return reg, nil
}

// Open fetches the freshest copy of name and starts an edit session on a clone
// of it. A session already open for name is superseded.
func (e *Engine) Open(ctx context.Context, name string) (*Session, error) {
	resp, token, err := e.Client.Environment(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetch environment %s: %w", name, err)
	}
	baseline, err := wire.Environment(resp)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:       uuid.NewString(),
		Name:     baseline.Name,
		OpenedAt: e.now().UTC(),
		baseline: baseline,
		edited:   baseline.Clone(),
		token:    token,
	}

	e.mu.Lock()
	if e.current == nil {
		e.current = map[string]*Session{}
	}
	if prev, ok := e.current[s.Name]; ok {
		prev.close()
		e.log().Debug("edit session superseded", "environment", s.Name, "session", prev.ID)
	}
	e.current[s.Name] = s
	if e.registry != nil {
		e.registry = e.registry.With(baseline)
	}
	e.mu.Unlock()

	e.log().Debug("edit session opened", "environment", s.Name, "session", s.ID)
	return s, nil
}

// Cancel discards the session. A save still in flight for it is ignored when
// it completes.
func (e *Engine) Cancel(s *Session) {
	s.close()
	e.mu.Lock()
	if e.current[s.Name] == s {
		delete(e.current, s.Name)
	}
	e.mu.Unlock()
	e.log().Debug("edit session cancelled", "environment", s.Name, "session", s.ID)
}

func (e *Engine) isCurrent(s *Session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current[s.Name] == s && !s.Closed()
}

// Validate runs the validation cascade on the session's clone, then checks that
// no pipeline it adds already sits in another environment of the registry.
func (e *Engine) Validate(s *Session) error {
	baseline, edited, _, err := s.snapshot()
	if err != nil {
		return err
	}
	return e.validate(baseline, edited)
}

func (e *Engine) validate(baseline, edited *domain.Environment) error {
	if !edited.IsValid() {
		e.Metrics.ValidationFailure()
		return &ValidationError{Environment: edited.Name, Errors: edited.AllErrors()}
	}
	reg := e.Registry()
	for _, p := range edited.Pipelines {
		if baseline != nil && baseline.ContainsPipeline(p.Name) {
			continue
		}
		if other := reg.OtherEnvironmentForPipeline(edited.Name, p.Name); other != nil {
			e.Metrics.Conflict()
			return &ConflictError{Environment: edited.Name, Pipeline: p.Name, Other: other.Name}
		}
	}
	return nil
}

// SaveResult describes a completed save.
type SaveResult struct {
	Environment *domain.Environment
	Patch       reconcile.Patch
	Token       string
	Noop        bool
}

// Save validates the session, submits the delta against its baseline and, on
// success, replaces the registry entry and rebases the session on the server
// copy. Nothing is sent when the delta is empty.
func (e *Engine) Save(ctx context.Context, s *Session) (SaveResult, error) {
	if !e.isCurrent(s) {
		return SaveResult{}, ErrStaleSession
	}
	baseline, edited, token, err := s.snapshot()
	if err != nil {
		return SaveResult{}, err
	}
	if err := e.validate(baseline, edited); err != nil {
		return SaveResult{}, err
	}
	patch := reconcile.Diff(baseline, edited)
	if patch.IsNoop() {
		e.Metrics.Noop()
		e.log().Info("nothing to save", "environment", s.Name, "session", s.ID)
		return SaveResult{Environment: baseline, Patch: patch, Token: token, Noop: true}, nil
	}

	resp, newToken, err := e.Client.PatchEnvironment(ctx, s.Name, token, wire.PatchRequest(patch))
	if err != nil {
		if errors.Is(err, envlinesdk.ErrTokenMismatch) {
			e.Metrics.Submission("patch", "token_mismatch")
			return SaveResult{}, fmt.Errorf("environment %s changed on the server, reopen it to edit the latest copy: %w", s.Name, err)
		}
		e.Metrics.Submission("patch", "error")
		return SaveResult{}, err
	}
	if !e.isCurrent(s) {
		e.Metrics.StaleDrop()
		e.log().Info("dropping save result of closed session", "environment", s.Name, "session", s.ID)
		return SaveResult{}, ErrStaleSession
	}
	saved, err := wire.Environment(resp)
	if err != nil {
		return SaveResult{}, err
	}
	s.rebase(saved, newToken)
	e.setEntry(saved)
	e.Metrics.Submission("patch", "ok")
	e.log().Info("environment saved", "environment", s.Name, "session", s.ID,
		"pipelines_added", len(patch.Pipelines.Add), "pipelines_removed", len(patch.Pipelines.Remove),
		"agents_added", len(patch.Agents.Add), "agents_removed", len(patch.Agents.Remove),
		"variables_added", len(patch.Variables.Add), "variables_removed", len(patch.Variables.Remove))
	return SaveResult{Environment: saved, Patch: patch, Token: newToken}, nil
}

// Create submits a new environment: its name and variables first, then its
// membership as a patch against the created copy.
func (e *Engine) Create(ctx context.Context, env *domain.Environment) (*domain.Environment, error) {
	if err := e.validate(nil, env); err != nil {
		return nil, err
	}
	if _, exists := e.Registry().Find(env.Name); exists {
		errs := validation.Errors{}
		errs.Add("name", "Name is a duplicate")
		e.Metrics.ValidationFailure()
		return nil, fmt.Errorf("%w: %w", domain.ErrDuplicateEnvironment, &ValidationError{Environment: env.Name, Errors: errs})
	}

	resp, token, err := e.Client.CreateEnvironment(ctx, wire.CreateRequest(env.SubmissionPayload()))
	if err != nil {
		e.Metrics.Submission("create", "error")
		return nil, fmt.Errorf("create environment %s: %w", env.Name, err)
	}
	created, err := wire.Environment(resp)
	if err != nil {
		return nil, err
	}
	membership := reconcile.Patch{
		Pipelines: reconcile.MembershipDelta{Add: env.PipelineNames()},
		Agents:    reconcile.MembershipDelta{Add: env.AgentUUIDs()},
	}
	if !membership.IsNoop() {
		resp, _, err = e.Client.PatchEnvironment(ctx, env.Name, token, wire.PatchRequest(membership))
		if err != nil {
			e.Metrics.Submission("create", "error")
			e.setEntry(created)
			return created, fmt.Errorf("environment %s was created but its membership was not saved: %w", env.Name, err)
		}
		if created, err = wire.Environment(resp); err != nil {
			return nil, err
		}
	}
	e.setEntry(created)
	e.Metrics.Submission("create", "ok")
	e.log().Info("environment created", "environment", created.Name,
		"pipelines", len(created.Pipelines), "agents", len(created.Agents), "variables", created.Variables.Len())
	return created, nil
}

// Delete removes an environment. Only environments declared solely in the
// server config can be deleted.
func (e *Engine) Delete(ctx context.Context, name string) error {
	if env, ok := e.Registry().Find(name); ok && !env.IsLocal() {
		return fmt.Errorf("environment %s is partly declared in a config repository: %w", name, ErrNotEditable)
	}
	if err := e.Client.DeleteEnvironment(ctx, name); err != nil {
		e.Metrics.Submission("delete", "error")
		return fmt.Errorf("delete environment %s: %w", name, err)
	}
	e.mu.Lock()
	if e.registry != nil {
		e.registry = e.registry.Without(name)
	}
	if s, ok := e.current[name]; ok {
		s.close()
		delete(e.current, name)
	}
	e.mu.Unlock()
	e.Metrics.Submission("delete", "ok")
	e.log().Info("environment deleted", "environment", name)
	return nil
}
