package domain

import (
	"strconv"

	"envline/internal/validation"
)

// Environment is the merged view of one named environment: the parts declared in
// the server config and in any number of config repositories.
type Environment struct {
	Name      string
	Origins   Origins
	Pipelines []PipelineMembership
	Agents    []AgentMembership
	Variables *EnvironmentVariables

	rules *validation.Set
}

// NewEnvironment returns an empty environment owned by the UI.
func NewEnvironment(name string) *Environment {
	return &Environment{
		Name:      name,
		Origins:   Origins{InteractiveOrigin()},
		Variables: NewEnvironmentVariables(),
	}
}

func (e *Environment) variables() *EnvironmentVariables {
	if e.Variables == nil {
		e.Variables = NewEnvironmentVariables()
	}
	return e.Variables
}

// ContainsPipeline reports whether name is a member. Case sensitive.
func (e *Environment) ContainsPipeline(name string) bool {
	_, ok := e.pipelineIndex(name)
	return ok
}

// ContainsAgent reports whether uuid is a member.
func (e *Environment) ContainsAgent(uuid string) bool {
	_, ok := e.agentIndex(uuid)
	return ok
}

// ContainsVariable reports whether a variable named name exists.
func (e *Environment) ContainsVariable(name string) bool {
	_, ok := e.variables().Find(name)
	return ok
}

func (e *Environment) pipelineIndex(name string) (int, bool) {
	for i, p := range e.Pipelines {
		if p.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (e *Environment) agentIndex(uuid string) (int, bool) {
	for i, a := range e.Agents {
		if a.UUID == uuid {
			return i, true
		}
	}
	return -1, false
}

// AddPipelineIfAbsent appends m unless a pipeline with the same name is present.
// The origin of an existing entry is left untouched.
func (e *Environment) AddPipelineIfAbsent(m PipelineMembership) bool {
	if e.ContainsPipeline(m.Name) {
		return false
	}
	e.Pipelines = append(e.Pipelines, m)
	e.Origins = e.Origins.Add(m.Origin)
	return true
}

// AddAgentIfAbsent appends m unless an agent with the same uuid is present.
func (e *Environment) AddAgentIfAbsent(m AgentMembership) bool {
	if e.ContainsAgent(m.UUID) {
		return false
	}
	e.Agents = append(e.Agents, m)
	e.Origins = e.Origins.Add(m.Origin)
	return true
}

// RemovePipelineIfPresent drops the first pipeline named name. Editability is
// the caller's concern.
func (e *Environment) RemovePipelineIfPresent(name string) bool {
	i, ok := e.pipelineIndex(name)
	if !ok {
		return false
	}
	e.Pipelines = append(e.Pipelines[:i:i], e.Pipelines[i+1:]...)
	return true
}

// RemoveAgentIfPresent drops the first agent with uuid.
func (e *Environment) RemoveAgentIfPresent(uuid string) bool {
	i, ok := e.agentIndex(uuid)
	if !ok {
		return false
	}
	e.Agents = append(e.Agents[:i:i], e.Agents[i+1:]...)
	return true
}

// Pipeline returns the membership for name.
func (e *Environment) Pipeline(name string) (PipelineMembership, bool) {
	i, ok := e.pipelineIndex(name)
	if !ok {
		return PipelineMembership{}, false
	}
	return e.Pipelines[i], true
}

// Agent returns the membership for uuid.
func (e *Environment) Agent(uuid string) (AgentMembership, bool) {
	i, ok := e.agentIndex(uuid)
	if !ok {
		return AgentMembership{}, false
	}
	return e.Agents[i], true
}

// OriginForPipeline returns where the pipeline membership was declared.
func (e *Environment) OriginForPipeline(name string) (Origin, bool) {
	p, ok := e.Pipeline(name)
	return p.Origin, ok
}

// OriginForAgent returns where the agent membership was declared.
func (e *Environment) OriginForAgent(uuid string) (Origin, bool) {
	a, ok := e.Agent(uuid)
	return a.Origin, ok
}

// PipelineNames returns the member pipeline names in order.
func (e *Environment) PipelineNames() []string {
	names := make([]string, 0, len(e.Pipelines))
	for _, p := range e.Pipelines {
		names = append(names, p.Name)
	}
	return names
}

// AgentUUIDs returns the member agent uuids in order.
func (e *Environment) AgentUUIDs() []string {
	uuids := make([]string, 0, len(e.Agents))
	for _, a := range e.Agents {
		uuids = append(uuids, a.UUID)
	}
	return uuids
}

// MemberOrigins is the union of the origins carried by members and variables.
func (e *Environment) MemberOrigins() Origins {
	var out Origins
	for _, p := range e.Pipelines {
		out = out.Add(p.Origin)
	}
	for _, a := range e.Agents {
		out = out.Add(a.Origin)
	}
	for _, v := range e.variables().items {
		out = out.Add(v.Origin)
	}
	return out
}

// IsLocal reports whether the environment is declared only in the server config.
func (e *Environment) IsLocal() bool {
	return e.Origins.IsLocal()
}

// Clone deep-copies the environment. Nothing is shared with e afterwards.
func (e *Environment) Clone() *Environment {
	return &Environment{
		Name:      e.Name,
		Origins:   e.Origins.Clone(),
		Pipelines: append([]PipelineMembership(nil), e.Pipelines...),
		Agents:    append([]AgentMembership(nil), e.Agents...),
		Variables: e.variables().Clone(),
	}
}

// SubmissionVariable is a variable as accepted on create.
type SubmissionVariable struct {
	Name           string
	Value          string
	EncryptedValue string
	Secure         bool
}

// SubmissionPayload is the part of an environment the server accepts as a whole.
type SubmissionPayload struct {
	Name      string
	Variables []SubmissionVariable
}

// SubmissionPayload returns the name and the interactively owned variables.
// Membership travels separately as a patch.
func (e *Environment) SubmissionPayload() SubmissionPayload {
	p := SubmissionPayload{Name: e.Name}
	for _, v := range e.variables().items {
		if !v.IsEditable() || v.Name == "" {
			continue
		}
		p.Variables = append(p.Variables, SubmissionVariable{
			Name:           v.Name,
			Value:          v.Value,
			EncryptedValue: v.EncryptedValue,
			Secure:         v.Secure,
		})
	}
	return p
}

func (e *Environment) validations() *validation.Set {
	if e.rules == nil {
		e.rules = validation.NewSet().
			PresenceOf("name", func() string { return e.Name }).
			Associated("environment_variables", func() []validation.Validatable {
				return []validation.Validatable{e.variables()}
			})
	}
	return e.rules
}

// Validate recomputes the environment's own errors for attrs, or all.
func (e *Environment) Validate(attrs ...string) validation.Errors {
	return e.validations().Validate(attrs...)
}

// IsValid validates the environment and cascades into its variables.
func (e *Environment) IsValid() bool {
	return e.validations().IsValid()
}

// Errors returns the environment's own errors from the last validation.
func (e *Environment) Errors() validation.Errors {
	return e.validations().Errors()
}

// AllErrors collects the environment errors and every variable's errors, keyed
// "environment_variables[<i>].<attr>" for the latter.
func (e *Environment) AllErrors() validation.Errors {
	out := e.Errors().Clone()
	for i, v := range e.variables().items {
		for _, attr := range v.Errors().Attributes() {
			key := "environment_variables[" + strconv.Itoa(i) + "]." + attr
			for _, msg := range v.Errors().On(attr) {
				out.Add(key, msg)
			}
		}
	}
	return out
}
