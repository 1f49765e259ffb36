package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envline/internal/domain"
)

func baseline() *domain.Environment {
	env := &domain.Environment{
		Name:    "E1",
		Origins: domain.Origins{domain.InteractiveOrigin(), domain.ConfigRepoOrigin("repo-a")},
		Pipelines: []domain.PipelineMembership{
			{Name: "p1", Origin: domain.InteractiveOrigin()},
			{Name: "p2", Origin: domain.ConfigRepoOrigin("repo-a")},
			{Name: "p3", Origin: domain.InteractiveOrigin()},
		},
		Agents: []domain.AgentMembership{
			{UUID: "a1", Origin: domain.InteractiveOrigin()},
			{UUID: "a2", Origin: domain.ConfigRepoOrigin("repo-a")},
		},
	}
	a := domain.NewVariable("A", "1")
	b := domain.NewVariable("B", "2")
	b.Origin = domain.ConfigRepoOrigin("r1")
	env.Variables = domain.NewEnvironmentVariables(a, b)
	return env
}

func TestDiffOfUntouchedCloneIsNoop(t *testing.T) {
	b := baseline()
	p := Diff(b, b.Clone())
	assert.True(t, p.IsNoop())
	assert.Empty(t, p.Pipelines.Add)
	assert.Empty(t, p.Pipelines.Remove)
	assert.Empty(t, p.Agents.Add)
	assert.Empty(t, p.Agents.Remove)
	assert.Empty(t, p.Variables.Add)
	assert.Empty(t, p.Variables.Remove)
}

func TestDiffMembership(t *testing.T) {
	b := baseline()
	e := b.Clone()
	e.RemovePipelineIfPresent("p1")
	e.AddPipelineIfAbsent(domain.PipelineMembership{Name: "p9"})
	e.RemoveAgentIfPresent("a1")
	e.AddAgentIfAbsent(domain.AgentMembership{UUID: "a9"})

	p := Diff(b, e)
	assert.Equal(t, []string{"p9"}, p.Pipelines.Add)
	assert.Equal(t, []string{"p1"}, p.Pipelines.Remove)
	assert.Equal(t, []string{"a9"}, p.Agents.Add)
	assert.Equal(t, []string{"a1"}, p.Agents.Remove)
	assert.False(t, p.IsNoop())
}

func TestDiffNeverRemovesConfigRepoMembers(t *testing.T) {
	b := baseline()
	names := b.PipelineNames()
	uuids := b.AgentUUIDs()
	// every subset of pipelines and agents removed from the clone
	for mask := 0; mask < 1<<len(names); mask++ {
		for amask := 0; amask < 1<<len(uuids); amask++ {
			t.Run(fmt.Sprintf("%b-%b", mask, amask), func(t *testing.T) {
				e := b.Clone()
				for i, n := range names {
					if mask&(1<<i) != 0 {
						e.RemovePipelineIfPresent(n)
					}
				}
				for i, u := range uuids {
					if amask&(1<<i) != 0 {
						e.RemoveAgentIfPresent(u)
					}
				}
				p := Diff(b, e)
				for _, n := range p.Pipelines.Remove {
					origin, ok := b.OriginForPipeline(n)
					require.True(t, ok)
					assert.True(t, origin.IsEditable(), "removed %s", n)
				}
				for _, u := range p.Agents.Remove {
					origin, ok := b.OriginForAgent(u)
					require.True(t, ok)
					assert.True(t, origin.IsEditable(), "removed %s", u)
				}
				assert.NotContains(t, p.Pipelines.Remove, "p2")
				assert.NotContains(t, p.Agents.Remove, "a2")
			})
		}
	}
}

func TestDiffVariablesIgnoresConfigRepoRemoval(t *testing.T) {
	b := baseline()
	e := b.Clone()
	e.Variables.Remove("B")
	e.Variables.Add(domain.NewVariable("C", "3"))

	p := Diff(b, e)
	require.Len(t, p.Variables.Add, 1)
	assert.Equal(t, "C", p.Variables.Add[0].Name)
	assert.Equal(t, "3", p.Variables.Add[0].Value)
	assert.Empty(t, p.Variables.Remove)
	assert.True(t, p.Pipelines.IsEmpty())
	assert.True(t, p.Agents.IsEmpty())
}

func TestDiffVariablesChangeAndDelete(t *testing.T) {
	b := baseline()
	b.Variables.Add(domain.NewVariable("D", "4"))

	e := b.Clone()
	a, _ := e.Variables.Find("A")
	a.Value = "changed"
	e.Variables.Remove("D")

	p := Diff(b, e)
	assert.Equal(t, []string{"A", "D"}, p.Variables.Remove)
	require.Len(t, p.Variables.Add, 1)
	assert.Equal(t, "changed", p.Variables.Add[0].Value)
}

func TestDiffVariablesSecureToggle(t *testing.T) {
	b := baseline()
	e := b.Clone()
	a, _ := e.Variables.Find("A")
	a.Secure = true

	p := Diff(b, e)
	assert.Equal(t, []string{"A"}, p.Variables.Remove)
	require.Len(t, p.Variables.Add, 1)
	assert.True(t, p.Variables.Add[0].Secure)
}

func TestDiffSkipsBlankVariableRows(t *testing.T) {
	b := baseline()
	e := b.Clone()
	e.Variables.Add(domain.NewVariable("", ""))
	assert.True(t, Diff(b, e).IsNoop())
}

func TestDiffAddedVariablesAreDetached(t *testing.T) {
	b := baseline()
	e := b.Clone()
	c := domain.NewVariable("C", "3")
	e.Variables.Add(c)

	p := Diff(b, e)
	require.Len(t, p.Variables.Add, 1)
	c.Value = "mutated later"
	assert.Equal(t, "3", p.Variables.Add[0].Value)
	assert.Nil(t, p.Variables.Add[0].Parent())
}

func TestDiffHandlesNilVariables(t *testing.T) {
	b := &domain.Environment{Name: "x"}
	e := &domain.Environment{Name: "x"}
	assert.True(t, Diff(b, e).IsNoop())
}

func TestDiffOfCloneWithDuplicateNamesIsNoop(t *testing.T) {
	shadowed := baseline()
	shadowed.Variables.Add(domain.NewVariable("B", "1"))

	repeated := baseline()
	repeated.Variables.Add(domain.NewVariable("A", "2"))

	for name, b := range map[string]*domain.Environment{"config repo then interactive": shadowed, "interactive twice": repeated} {
		t.Run(name, func(t *testing.T) {
			p := Diff(b, b.Clone())
			assert.True(t, p.IsNoop(), "patch %+v", p.Variables)
		})
	}
}

func TestDiffDropsInteractiveDuplicateOfConfigRepoVariable(t *testing.T) {
	b := baseline()
	b.Variables.Add(domain.NewVariable("B", "1"))

	e := b.Clone()
	assert.Equal(t, 1, e.Variables.RemoveEditable("B"))

	p := Diff(b, e)
	assert.Equal(t, []string{"B"}, p.Variables.Remove)
	assert.Empty(t, p.Variables.Add)
}

func TestDiffCollapsesRepeatedVariable(t *testing.T) {
	b := baseline()
	b.Variables.Add(domain.NewVariable("A", "2"))

	e := b.Clone()
	e.Variables.RemoveEditable("A")
	e.Variables.Add(domain.NewVariable("A", "1"))

	p := Diff(b, e)
	assert.Equal(t, []string{"A"}, p.Variables.Remove)
	require.Len(t, p.Variables.Add, 1)
	assert.Equal(t, "A", p.Variables.Add[0].Name)
	assert.Equal(t, "1", p.Variables.Add[0].Value)
}

func TestDiffReordersOnlyIsNoop(t *testing.T) {
	b := baseline()
	b.Variables.Add(domain.NewVariable("A", "2"))

	e := b.Clone()
	e.Variables.RemoveEditable("A")
	e.Variables.Add(domain.NewVariable("A", "2"))
	e.Variables.Add(domain.NewVariable("A", "1"))

	assert.True(t, Diff(b, e).IsNoop())
}
