// Package reconcile computes the minimal membership and variable delta between
// the server copy of an environment and an edited clone of it.
package reconcile

import (
	"envline/internal/domain"
)

// MembershipDelta lists identities to add and remove.
type MembershipDelta struct {
	Add    []string
	Remove []string
}

// IsEmpty reports whether the delta changes nothing.
func (d MembershipDelta) IsEmpty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// VariablesDelta lists variables to add and names to remove. The server applies
// removals before additions, so a changed variable shows up in both.
type VariablesDelta struct {
	Add    []domain.EnvironmentVariable
	Remove []string
}

// IsEmpty reports whether the delta changes nothing.
func (d VariablesDelta) IsEmpty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Patch is the full delta for one environment.
type Patch struct {
	Pipelines MembershipDelta
	Agents    MembershipDelta
	Variables VariablesDelta
}

// IsNoop reports whether submitting the patch would change nothing; callers skip
// the network call in that case.
func (p Patch) IsNoop() bool {
	return p.Pipelines.IsEmpty() && p.Agents.IsEmpty() && p.Variables.IsEmpty()
}

// Diff computes the patch moving baseline to edited. Members and variables that
// the baseline holds through a config repository are never removed, whatever
// the edited copy says.
func Diff(baseline, edited *domain.Environment) Patch {
	return Patch{
		Pipelines: diffPipelines(baseline, edited),
		Agents:    diffAgents(baseline, edited),
		Variables: diffVariables(baseline, edited),
	}
}

func diffPipelines(baseline, edited *domain.Environment) MembershipDelta {
	var d MembershipDelta
	for _, p := range edited.Pipelines {
		if !baseline.ContainsPipeline(p.Name) {
			d.Add = append(d.Add, p.Name)
		}
	}
	for _, p := range baseline.Pipelines {
		if p.IsEditable() && !edited.ContainsPipeline(p.Name) {
			d.Remove = append(d.Remove, p.Name)
		}
	}
	return d
}

func diffAgents(baseline, edited *domain.Environment) MembershipDelta {
	var d MembershipDelta
	for _, a := range edited.Agents {
		if !baseline.ContainsAgent(a.UUID) {
			d.Add = append(d.Add, a.UUID)
		}
	}
	for _, a := range baseline.Agents {
		if a.IsEditable() && !edited.ContainsAgent(a.UUID) {
			d.Remove = append(d.Remove, a.UUID)
		}
	}
	return d
}

// diffVariables compares the editable variables name by name. Names may repeat
// when the server already holds duplicates, so each name is compared as a
// multiset. A name whose editable entries differ is removed as a whole and its
// edited entries are re-added.
func diffVariables(baseline, edited *domain.Environment) VariablesDelta {
	var d VariablesDelta
	base := editableByName(variablesOf(baseline))
	next := editableByName(variablesOf(edited))

	removed := map[string]bool{}
	for _, v := range variablesOf(baseline).List() {
		if !v.IsEditable() || removed[v.Name] {
			continue
		}
		if !sameVariables(base[v.Name], next[v.Name]) {
			removed[v.Name] = true
			d.Remove = append(d.Remove, v.Name)
		}
	}
	for _, v := range variablesOf(edited).List() {
		if !v.IsEditable() || v.Name == "" {
			continue
		}
		if removed[v.Name] || len(base[v.Name]) == 0 {
			d.Add = append(d.Add, v.Copy())
		}
	}
	return d
}

func editableByName(c *domain.EnvironmentVariables) map[string][]*domain.EnvironmentVariable {
	out := map[string][]*domain.EnvironmentVariable{}
	for _, v := range c.List() {
		if v.IsEditable() {
			out[v.Name] = append(out[v.Name], v)
		}
	}
	return out
}

// sameVariables reports whether a and b hold the same contents, ignoring order.
func sameVariables(a, b []*domain.EnvironmentVariable) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
outer:
	for _, x := range a {
		for i, y := range b {
			if !used[i] && x.SameContent(y) {
				used[i] = true
				continue outer
			}
		}
		return false
	}
	return true
}

func variablesOf(e *domain.Environment) *domain.EnvironmentVariables {
	if e.Variables == nil {
		return domain.NewEnvironmentVariables()
	}
	return e.Variables
}
