// Package sandbox is a small stand-in for the server side of the environments
// API. It stores environments in sqlite and enforces the rules the real server
// applies to membership changes.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"envline/internal/domain"
	"envline/internal/events"
	"envline/internal/reconcile"
	"envline/internal/repo"
	"envline/internal/validation"
)

// ErrTokenMismatch is returned when If-Match does not name the stored version.
var ErrTokenMismatch = errors.New("concurrency token mismatch")

// RuleError is a request the server understood but refuses to apply.
type RuleError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *RuleError) Error() string {
	return e.Message
}

type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Cipher Cipher
	Now    func() time.Time
}

func New(db *sql.DB, secret string) Service {
	return Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Cipher: NewCipher(secret),
		Now:    time.Now,
	}
}

func (s Service) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

// Token renders the concurrency token of an environment version.
func Token(name string, version int) string {
	return `"` + name + "-" + strconv.Itoa(version) + `"`
}

func tokenMatches(given, name string, version int) bool {
	given = strings.TrimSpace(given)
	return given == "*" || strings.TrimPrefix(given, "W/") == Token(name, version)
}

func (s Service) List(ctx context.Context) ([]repo.StoredEnvironment, error) {
	return s.Repo.ListEnvironments(ctx)
}

func (s Service) Get(ctx context.Context, name string) (repo.StoredEnvironment, error) {
	return s.Repo.GetEnvironment(ctx, name)
}

func (s Service) ListEvents(ctx context.Context, environment string, limit int) ([]events.Event, error) {
	return s.Events.List(ctx, environment, limit)
}

func (s Service) encrypt(v *domain.EnvironmentVariable) error {
	if !v.Secure || v.Value == "" {
		return nil
	}
	enc, err := s.Cipher.Encrypt(v.Value)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", v.Name, err)
	}
	v.EncryptedValue = enc
	v.Value = ""
	return nil
}

func invalid(env *domain.Environment) error {
	errs := env.AllErrors()
	return &RuleError{Code: "validation_failed", Message: fmt.Sprintf("environment %q is invalid: %s", env.Name, errs.First()), Details: details(errs)}
}

// Create stores a new interactive environment with its variables.
func (s Service) Create(ctx context.Context, name string, vars []domain.SubmissionVariable, requestID string) (repo.StoredEnvironment, error) {
	env := domain.NewEnvironment(strings.TrimSpace(name))
	for _, sv := range vars {
		if blank(sv.Name, sv.Value, sv.EncryptedValue) {
			continue
		}
		v := &domain.EnvironmentVariable{Name: sv.Name, Value: sv.Value, EncryptedValue: sv.EncryptedValue, Secure: sv.Secure}
		if err := s.encrypt(v); err != nil {
			return repo.StoredEnvironment{}, err
		}
		env.Variables.Add(v)
	}
	if !env.IsValid() {
		return repo.StoredEnvironment{}, invalid(env)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.StoredEnvironment{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertEnvironmentTx(ctx, tx, env, s.now()); err != nil {
		return repo.StoredEnvironment{}, err
	}
	if err := s.Events.Append(ctx, tx, "environment.created", env.Name, requestID, events.EventPayload{
		"variables": env.Variables.Names(),
	}); err != nil {
		return repo.StoredEnvironment{}, err
	}
	stored, err := s.Repo.GetEnvironmentTx(ctx, tx, env.Name)
	if err != nil {
		return repo.StoredEnvironment{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.StoredEnvironment{}, err
	}
	return stored, nil
}

// Seed stores environments as given, origins included, in one transaction.
func (s Service) Seed(ctx context.Context, envs []*domain.Environment) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, env := range envs {
		for _, v := range env.Variables.List() {
			if err := s.encrypt(v); err != nil {
				return err
			}
		}
		if !env.IsValid() {
			return invalid(env)
		}
		if err := s.Repo.InsertEnvironmentTx(ctx, tx, env, s.now()); err != nil {
			return fmt.Errorf("seed %s: %w", env.Name, err)
		}
		if err := s.Events.Append(ctx, tx, "environment.seeded", env.Name, "", events.EventPayload{
			"pipelines": env.PipelineNames(),
			"agents":    env.AgentUUIDs(),
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Patch applies p to the environment if token names its current version.
// Removals are applied before additions; the delta is applied whole or not at all.
func (s Service) Patch(ctx context.Context, name, token string, p reconcile.Patch, requestID string) (repo.StoredEnvironment, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.StoredEnvironment{}, err
	}
	defer tx.Rollback()

	stored, err := s.Repo.GetEnvironmentTx(ctx, tx, name)
	if err != nil {
		return repo.StoredEnvironment{}, err
	}
	if !tokenMatches(token, name, stored.Version) {
		return repo.StoredEnvironment{}, fmt.Errorf("environment %s is at %s, request was based on %q: %w", name, Token(name, stored.Version), token, ErrTokenMismatch)
	}
	env := stored.Environment

	if err := s.applyPipelines(ctx, tx, env, p.Pipelines); err != nil {
		return repo.StoredEnvironment{}, err
	}
	if err := applyAgents(env, p.Agents); err != nil {
		return repo.StoredEnvironment{}, err
	}
	if err := s.applyVariables(env, p.Variables); err != nil {
		return repo.StoredEnvironment{}, err
	}
	if !env.IsValid() {
		return repo.StoredEnvironment{}, invalid(env)
	}

	version := stored.Version + 1
	if err := s.Repo.ReplaceEnvironmentTx(ctx, tx, env, version, s.now()); err != nil {
		return repo.StoredEnvironment{}, err
	}
	if err := s.Events.Append(ctx, tx, "environment.patched", name, requestID, events.EventPayload{
		"version":           version,
		"pipelines_added":   p.Pipelines.Add,
		"pipelines_removed": p.Pipelines.Remove,
		"agents_added":      p.Agents.Add,
		"agents_removed":    p.Agents.Remove,
		"variables_added":   addedNames(p.Variables),
		"variables_removed": p.Variables.Remove,
	}); err != nil {
		return repo.StoredEnvironment{}, err
	}
	out, err := s.Repo.GetEnvironmentTx(ctx, tx, name)
	if err != nil {
		return repo.StoredEnvironment{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.StoredEnvironment{}, err
	}
	return out, nil
}

func notEditable(kind, id string, origin domain.Origin) error {
	return &RuleError{
		Code:    "not_editable",
		Message: fmt.Sprintf("%s %s is declared in %s and cannot be changed here", kind, id, origin),
		Details: map[string]any{kind: id, "origin": origin.String()},
	}
}

func (s Service) applyPipelines(ctx context.Context, tx *sql.Tx, env *domain.Environment, d reconcile.MembershipDelta) error {
	for _, name := range d.Remove {
		origin, ok := env.OriginForPipeline(name)
		if !ok {
			continue
		}
		if !origin.IsEditable() {
			return notEditable("pipeline", name, origin)
		}
		env.RemovePipelineIfPresent(name)
	}
	for _, name := range d.Add {
		if env.ContainsPipeline(name) {
			continue
		}
		owners, err := s.Repo.PipelineOwnersTx(ctx, tx, name)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if owner != env.Name {
				return &RuleError{
					Code:    "pipeline_conflict",
					Message: fmt.Sprintf("pipeline %s already belongs to environment %s", name, owner),
					Details: map[string]any{"pipeline": name, "environment": owner},
				}
			}
		}
		env.AddPipelineIfAbsent(domain.PipelineMembership{Name: name, Origin: domain.InteractiveOrigin()})
	}
	return nil
}

func applyAgents(env *domain.Environment, d reconcile.MembershipDelta) error {
	for _, uuid := range d.Remove {
		origin, ok := env.OriginForAgent(uuid)
		if !ok {
			continue
		}
		if !origin.IsEditable() {
			return notEditable("agent", uuid, origin)
		}
		env.RemoveAgentIfPresent(uuid)
	}
	for _, uuid := range d.Add {
		env.AddAgentIfAbsent(domain.AgentMembership{UUID: uuid, Origin: domain.InteractiveOrigin()})
	}
	return nil
}

func (s Service) applyVariables(env *domain.Environment, d reconcile.VariablesDelta) error {
	for _, name := range d.Remove {
		if env.Variables.RemoveEditable(name) > 0 {
			continue
		}
		if v, ok := env.Variables.Find(name); ok {
			return notEditable("variable", name, v.Origin)
		}
	}
	for _, in := range d.Add {
		if blank(in.Name, in.Value, in.EncryptedValue) {
			continue
		}
		v := &domain.EnvironmentVariable{Name: in.Name, Value: in.Value, EncryptedValue: in.EncryptedValue, Secure: in.Secure}
		if err := s.encrypt(v); err != nil {
			return err
		}
		env.Variables.Add(v)
	}
	return nil
}

// blank reports an empty variable row; such rows are dropped.
func blank(name, value, encrypted string) bool {
	return strings.TrimSpace(name) == "" && value == "" && encrypted == ""
}

func addedNames(d reconcile.VariablesDelta) []string {
	names := make([]string, 0, len(d.Add))
	for _, v := range d.Add {
		names = append(names, v.Name)
	}
	return names
}

// Delete removes an environment declared only in the server config.
func (s Service) Delete(ctx context.Context, name, requestID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stored, err := s.Repo.GetEnvironmentTx(ctx, tx, name)
	if err != nil {
		return err
	}
	if env := stored.Environment; !env.IsLocal() {
		var repos []string
		for _, o := range env.Origins {
			if !o.IsEditable() {
				repos = append(repos, o.ID)
			}
		}
		return &RuleError{
			Code:    "not_editable",
			Message: fmt.Sprintf("environment %s is declared in config repositories %s and cannot be deleted here", name, strings.Join(repos, ", ")),
			Details: map[string]any{"repos": repos},
		}
	}
	if err := s.Repo.DeleteEnvironmentTx(ctx, tx, name); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, "environment.deleted", name, requestID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func details(errs validation.Errors) map[string]any {
	out := make(map[string]any, len(errs))
	for _, attr := range errs.Attributes() {
		out[attr] = errs.On(attr)
	}
	return out
}
