// Package wire maps between the transport types of envlinesdk and the domain
// model. The mapping is total on well formed input and invertible on its
// canonical forms.
package wire

import (
	"errors"
	"fmt"

	"envline/internal/domain"
	"envline/internal/reconcile"
	envlinesdk "envline/sdk/go"
)

var ErrUnknownOrigin = errors.New("unknown origin type")

// Origin converts a wire origin.
func Origin(o envlinesdk.Origin) (domain.Origin, error) {
	switch o.Type {
	case envlinesdk.OriginGoCD, "":
		return domain.InteractiveOrigin(), nil
	case envlinesdk.OriginConfigRepo:
		return domain.ConfigRepoOrigin(o.ID), nil
	default:
		return domain.Origin{}, fmt.Errorf("%w: %q", ErrUnknownOrigin, o.Type)
	}
}

// FromOrigin converts a domain origin.
func FromOrigin(o domain.Origin) envlinesdk.Origin {
	if o.Type == domain.ConfigRepository {
		return envlinesdk.Origin{Type: envlinesdk.OriginConfigRepo, ID: o.ID}
	}
	return envlinesdk.Origin{Type: envlinesdk.OriginGoCD}
}

// Environment converts one wire environment.
func Environment(in envlinesdk.Environment) (*domain.Environment, error) {
	env := &domain.Environment{Name: in.Name, Variables: domain.NewEnvironmentVariables()}
	for _, o := range in.Origins {
		origin, err := Origin(o)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", in.Name, err)
		}
		env.Origins = env.Origins.Add(origin)
	}
	for _, p := range in.Pipelines {
		origin, err := Origin(p.Origin)
		if err != nil {
			return nil, fmt.Errorf("environment %s pipeline %s: %w", in.Name, p.Name, err)
		}
		env.AddPipelineIfAbsent(domain.PipelineMembership{Name: p.Name, Origin: origin})
	}
	for _, a := range in.Agents {
		origin, err := Origin(a.Origin)
		if err != nil {
			return nil, fmt.Errorf("environment %s agent %s: %w", in.Name, a.UUID, err)
		}
		env.AddAgentIfAbsent(domain.AgentMembership{UUID: a.UUID, Hostname: a.Hostname, Origin: origin})
	}
	for _, v := range in.EnvironmentVariables {
		origin, err := Origin(v.Origin)
		if err != nil {
			return nil, fmt.Errorf("environment %s variable %s: %w", in.Name, v.Name, err)
		}
		env.Variables.Add(&domain.EnvironmentVariable{
			Name:           v.Name,
			Value:          v.Value,
			EncryptedValue: v.EncryptedValue,
			Secure:         v.Secure,
			Origin:         origin,
		})
	}
	return env, nil
}

// FromEnvironment converts a domain environment. Empty collections are emitted
// as empty arrays.
func FromEnvironment(env *domain.Environment) envlinesdk.Environment {
	out := envlinesdk.Environment{
		Name:                 env.Name,
		Origins:              make([]envlinesdk.Origin, 0, len(env.Origins)),
		Pipelines:            make([]envlinesdk.Pipeline, 0, len(env.Pipelines)),
		Agents:               make([]envlinesdk.Agent, 0, len(env.Agents)),
		EnvironmentVariables: []envlinesdk.EnvironmentVariable{},
	}
	for _, o := range env.Origins {
		out.Origins = append(out.Origins, FromOrigin(o))
	}
	for _, p := range env.Pipelines {
		out.Pipelines = append(out.Pipelines, envlinesdk.Pipeline{Name: p.Name, Origin: FromOrigin(p.Origin)})
	}
	for _, a := range env.Agents {
		out.Agents = append(out.Agents, envlinesdk.Agent{UUID: a.UUID, Hostname: a.Hostname, Origin: FromOrigin(a.Origin)})
	}
	if env.Variables != nil {
		for _, v := range env.Variables.List() {
			out.EnvironmentVariables = append(out.EnvironmentVariables, envlinesdk.EnvironmentVariable{
				Name:           v.Name,
				Value:          v.Value,
				EncryptedValue: v.EncryptedValue,
				Secure:         v.Secure,
				Origin:         FromOrigin(v.Origin),
			})
		}
	}
	return out
}

// Registry builds a registry from a fetch-all response.
func Registry(in envlinesdk.EnvironmentsResponse) (*domain.Environments, error) {
	envs := make([]*domain.Environment, 0, len(in.Environments))
	for _, e := range in.Environments {
		env, err := Environment(e)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return domain.NewEnvironments(envs...)
}

// FromRegistry converts a registry into a fetch-all response.
func FromRegistry(r *domain.Environments) envlinesdk.EnvironmentsResponse {
	out := envlinesdk.EnvironmentsResponse{Environments: make([]envlinesdk.Environment, 0, r.Len())}
	for _, e := range r.All() {
		out.Environments = append(out.Environments, FromEnvironment(e))
	}
	return out
}

// PatchRequest converts a patch. Sections with nothing to do are omitted.
func PatchRequest(p reconcile.Patch) envlinesdk.PatchEnvironmentRequest {
	var req envlinesdk.PatchEnvironmentRequest
	if !p.Pipelines.IsEmpty() {
		req.Pipelines = membership(p.Pipelines)
	}
	if !p.Agents.IsEmpty() {
		req.Agents = membership(p.Agents)
	}
	if !p.Variables.IsEmpty() {
		vp := &envlinesdk.VariablesPatch{Remove: copyStrings(p.Variables.Remove)}
		for _, v := range p.Variables.Add {
			vp.Add = append(vp.Add, envlinesdk.VariableInput{
				Name:           v.Name,
				Value:          v.Value,
				EncryptedValue: v.EncryptedValue,
				Secure:         v.Secure,
			})
		}
		req.EnvironmentVariables = vp
	}
	return req
}

// Patch converts a patch request back. Added variables are interactive.
func Patch(req envlinesdk.PatchEnvironmentRequest) reconcile.Patch {
	var p reconcile.Patch
	if req.Pipelines != nil {
		p.Pipelines = reconcile.MembershipDelta{Add: copyStrings(req.Pipelines.Add), Remove: copyStrings(req.Pipelines.Remove)}
	}
	if req.Agents != nil {
		p.Agents = reconcile.MembershipDelta{Add: copyStrings(req.Agents.Add), Remove: copyStrings(req.Agents.Remove)}
	}
	if req.EnvironmentVariables != nil {
		p.Variables.Remove = copyStrings(req.EnvironmentVariables.Remove)
		for _, v := range req.EnvironmentVariables.Add {
			p.Variables.Add = append(p.Variables.Add, domain.EnvironmentVariable{
				Name:           v.Name,
				Value:          v.Value,
				EncryptedValue: v.EncryptedValue,
				Secure:         v.Secure,
			})
		}
	}
	return p
}

// CreateRequest converts a submission payload.
func CreateRequest(p domain.SubmissionPayload) envlinesdk.CreateEnvironmentRequest {
	req := envlinesdk.CreateEnvironmentRequest{Name: p.Name}
	for _, v := range p.Variables {
		req.EnvironmentVariables = append(req.EnvironmentVariables, envlinesdk.VariableInput{
			Name:           v.Name,
			Value:          v.Value,
			EncryptedValue: v.EncryptedValue,
			Secure:         v.Secure,
		})
	}
	return req
}

func membership(d reconcile.MembershipDelta) *envlinesdk.MembershipPatch {
	return &envlinesdk.MembershipPatch{Add: copyStrings(d.Add), Remove: copyStrings(d.Remove)}
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
