package engine

import (
	"fmt"
	"sync"
	"time"

	"envline/internal/domain"
)

// Session is one edit of one environment. All changes go to a clone of the
// baseline fetched when the session was opened.
type Session struct {
	ID       string
	Name     string
	OpenedAt time.Time

	mu       sync.Mutex
	baseline *domain.Environment
	edited   *domain.Environment
	token    string
	closed   bool
}

// Baseline returns the server copy the session started from. Callers must not
// modify it.
func (s *Session) Baseline() *domain.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

// Edited returns the working clone.
func (s *Session) Edited() *domain.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edited
}

// Token returns the concurrency token of the baseline.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Closed reports whether the session was cancelled or superseded.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) edit(fn func(env *domain.Environment) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStaleSession
	}
	return fn(s.edited)
}

// AddPipeline adds an interactive pipeline membership. Adding a member twice is a no-op.
func (s *Session) AddPipeline(name string) error {
	return s.edit(func(env *domain.Environment) error {
		env.AddPipelineIfAbsent(domain.PipelineMembership{Name: name, Origin: domain.InteractiveOrigin()})
		return nil
	})
}

// RemovePipeline drops a pipeline. Memberships from a config repository are refused.
func (s *Session) RemovePipeline(name string) error {
	return s.edit(func(env *domain.Environment) error {
		if origin, ok := env.OriginForPipeline(name); ok && !origin.IsEditable() {
			return fmt.Errorf("pipeline %s is declared in %s: %w", name, origin, ErrNotEditable)
		}
		env.RemovePipelineIfPresent(name)
		return nil
	})
}

// AddAgent adds an interactive agent membership.
func (s *Session) AddAgent(uuid, hostname string) error {
	return s.edit(func(env *domain.Environment) error {
		env.AddAgentIfAbsent(domain.AgentMembership{UUID: uuid, Hostname: hostname, Origin: domain.InteractiveOrigin()})
		return nil
	})
}

// RemoveAgent drops an agent. Memberships from a config repository are refused.
func (s *Session) RemoveAgent(uuid string) error {
	return s.edit(func(env *domain.Environment) error {
		if origin, ok := env.OriginForAgent(uuid); ok && !origin.IsEditable() {
			return fmt.Errorf("agent %s is declared in %s: %w", uuid, origin, ErrNotEditable)
		}
		env.RemoveAgentIfPresent(uuid)
		return nil
	})
}

// SetVariable sets a plain variable, adding it when missing.
func (s *Session) SetVariable(name, value string) error {
	return s.setVariable(name, value, false)
}

// SetSecureVariable sets a secure variable from its clear text value.
func (s *Session) SetSecureVariable(name, value string) error {
	return s.setVariable(name, value, true)
}

func (s *Session) setVariable(name, value string, secure bool) error {
	return s.edit(func(env *domain.Environment) error {
		v, ok := env.Variables.FindEditable(name)
		if !ok {
			if other, found := env.Variables.Find(name); found {
				return fmt.Errorf("variable %s is declared in %s: %w", name, other.Origin, ErrNotEditable)
			}
			env.Variables.Add(&domain.EnvironmentVariable{Name: name, Value: value, Secure: secure})
			return nil
		}
		v.Value = value
		v.EncryptedValue = ""
		v.Secure = secure
		return nil
	})
}

// RemoveVariable drops every editable variable named name. It is refused when
// the only variables of that name come from a config repository.
func (s *Session) RemoveVariable(name string) error {
	return s.edit(func(env *domain.Environment) error {
		if env.Variables.RemoveEditable(name) > 0 {
			return nil
		}
		if v, ok := env.Variables.Find(name); ok {
			return fmt.Errorf("variable %s is declared in %s: %w", name, v.Origin, ErrNotEditable)
		}
		return nil
	})
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// snapshot returns the baseline, an independent copy of the working clone and
// the token, or ErrStaleSession.
func (s *Session) snapshot() (*domain.Environment, *domain.Environment, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, "", ErrStaleSession
	}
	return s.baseline, s.edited.Clone(), s.token, nil
}

// rebase points the session at a fresh server copy after a successful save.
func (s *Session) rebase(env *domain.Environment, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = env
	s.edited = env.Clone()
	s.token = token
}
