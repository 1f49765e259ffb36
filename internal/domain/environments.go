package domain

import (
	"errors"
	"fmt"
	"sort"
)

var ErrDuplicateEnvironment = errors.New("duplicate environment")

// Environments is the registry built from one fetch. It is never mutated in
// place; With and Without return new registries.
type Environments struct {
	items []*Environment
}

// NewEnvironments builds a registry, rejecting duplicate names.
func NewEnvironments(envs ...*Environment) (*Environments, error) {
	seen := make(map[string]bool, len(envs))
	for _, e := range envs {
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEnvironment, e.Name)
		}
		seen[e.Name] = true
	}
	return &Environments{items: append([]*Environment(nil), envs...)}, nil
}

// Len returns the number of environments.
func (r *Environments) Len() int {
	if r == nil {
		return 0
	}
	return len(r.items)
}

// All returns the environments in order.
func (r *Environments) All() []*Environment {
	if r == nil {
		return nil
	}
	return append([]*Environment(nil), r.items...)
}

// Names returns the environment names in order.
func (r *Environments) Names() []string {
	names := make([]string, 0, r.Len())
	for _, e := range r.All() {
		names = append(names, e.Name)
	}
	return names
}

// Find returns the environment named name.
func (r *Environments) Find(name string) (*Environment, bool) {
	for _, e := range r.All() {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// FindEnvironmentForPipeline returns the first environment containing pipeline,
// nil when none does.
func (r *Environments) FindEnvironmentForPipeline(pipeline string) *Environment {
	for _, e := range r.All() {
		if e.ContainsPipeline(pipeline) {
			return e
		}
	}
	return nil
}

// IsPipelineDefinedInAnotherEnvironmentApartFrom reports whether an environment
// other than envName already holds pipeline.
func (r *Environments) IsPipelineDefinedInAnotherEnvironmentApartFrom(envName, pipeline string) bool {
	return r.OtherEnvironmentForPipeline(envName, pipeline) != nil
}

// OtherEnvironmentForPipeline returns the first environment other than envName
// holding pipeline.
func (r *Environments) OtherEnvironmentForPipeline(envName, pipeline string) *Environment {
	for _, e := range r.All() {
		if e.Name != envName && e.ContainsPipeline(pipeline) {
			return e
		}
	}
	return nil
}

// PipelineOwners maps each pipeline to the environments holding it.
func (r *Environments) PipelineOwners() map[string][]string {
	owners := map[string][]string{}
	for _, e := range r.All() {
		for _, p := range e.Pipelines {
			owners[p.Name] = append(owners[p.Name], e.Name)
		}
	}
	return owners
}

// DuplicatePipelines returns, sorted, the pipelines that already sit in more
// than one environment.
func (r *Environments) DuplicatePipelines() []string {
	var dups []string
	for p, envs := range r.PipelineOwners() {
		if len(envs) > 1 {
			dups = append(dups, p)
		}
	}
	sort.Strings(dups)
	return dups
}

// With returns a registry where env replaces the entry of the same name, or is
// appended when there is none.
func (r *Environments) With(env *Environment) *Environments {
	items := r.All()
	for i, e := range items {
		if e.Name == env.Name {
			items[i] = env
			return &Environments{items: items}
		}
	}
	return &Environments{items: append(items, env)}
}

// Without returns a registry lacking the environment named name.
func (r *Environments) Without(name string) *Environments {
	items := make([]*Environment, 0, r.Len())
	for _, e := range r.All() {
		if e.Name != name {
			items = append(items, e)
		}
	}
	return &Environments{items: items}
}
