package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvironment() *Environment {
	env := &Environment{
		Name:    "UAT",
		Origins: Origins{InteractiveOrigin(), ConfigRepoOrigin("repo-a")},
		Pipelines: []PipelineMembership{
			{Name: "p1", Origin: InteractiveOrigin()},
			{Name: "p2", Origin: ConfigRepoOrigin("repo-a")},
		},
		Agents: []AgentMembership{
			{UUID: "agent-1", Hostname: "host-1", Origin: InteractiveOrigin()},
			{UUID: "agent-2", Hostname: "host-2", Origin: ConfigRepoOrigin("repo-a")},
		},
	}
	a := NewVariable("A", "1")
	b := NewVariable("B", "2")
	b.Origin = ConfigRepoOrigin("repo-a")
	s := NewSecureVariable("S", "")
	s.EncryptedValue = "AES:abc"
	env.Variables = NewEnvironmentVariables(a, b, s)
	return env
}

func TestOrigin(t *testing.T) {
	assert.True(t, InteractiveOrigin().IsEditable())
	assert.False(t, ConfigRepoOrigin("r").IsEditable())
	assert.True(t, Origin{}.IsEditable(), "zero value is interactive")

	assert.True(t, ConfigRepoOrigin("r").Equal(ConfigRepoOrigin("r")))
	assert.False(t, ConfigRepoOrigin("r").Equal(ConfigRepoOrigin("s")))
	assert.False(t, ConfigRepoOrigin("r").Equal(InteractiveOrigin()))
	assert.True(t, InteractiveOrigin().Equal(Origin{Type: Interactive, ID: "ignored"}))

	assert.Equal(t, "gocd", InteractiveOrigin().String())
	assert.Equal(t, "config_repo:r", ConfigRepoOrigin("r").String())
}

func TestOrigins(t *testing.T) {
	var os Origins
	os = os.Add(InteractiveOrigin()).Add(InteractiveOrigin())
	require.Len(t, os, 1)
	assert.True(t, os.IsLocal())

	os = os.Add(ConfigRepoOrigin("r"))
	assert.False(t, os.IsLocal())
	assert.True(t, os.HasEditable())
	assert.True(t, Origins(nil).IsLocal())
	assert.False(t, Origins{ConfigRepoOrigin("r")}.HasEditable())
}

func TestContainsIsCaseSensitive(t *testing.T) {
	env := sampleEnvironment()
	assert.True(t, env.ContainsPipeline("p1"))
	assert.False(t, env.ContainsPipeline("P1"))
	assert.True(t, env.ContainsAgent("agent-2"))
	assert.False(t, env.ContainsAgent("AGENT-2"))
	assert.True(t, env.ContainsVariable("S"))
}

func TestAddIfAbsentKeepsExistingOrigin(t *testing.T) {
	env := sampleEnvironment()
	added := env.AddPipelineIfAbsent(PipelineMembership{Name: "p2", Origin: InteractiveOrigin()})
	assert.False(t, added)
	origin, ok := env.OriginForPipeline("p2")
	require.True(t, ok)
	assert.Equal(t, ConfigRepoOrigin("repo-a"), origin)
	assert.Len(t, env.Pipelines, 2)

	assert.True(t, env.AddPipelineIfAbsent(PipelineMembership{Name: "p3"}))
	assert.Equal(t, []string{"p1", "p2", "p3"}, env.PipelineNames())

	assert.False(t, env.AddAgentIfAbsent(AgentMembership{UUID: "agent-1", Hostname: "other"}))
	a, _ := env.Agent("agent-1")
	assert.Equal(t, "host-1", a.Hostname)
	assert.True(t, env.AddAgentIfAbsent(AgentMembership{UUID: "agent-3"}))
	assert.Equal(t, []string{"agent-1", "agent-2", "agent-3"}, env.AgentUUIDs())
}

func TestAddRecordsOrigin(t *testing.T) {
	env := &Environment{Name: "remote-only", Origins: Origins{ConfigRepoOrigin("r")}}
	env.AddPipelineIfAbsent(PipelineMembership{Name: "p", Origin: InteractiveOrigin()})
	assert.True(t, env.Origins.Contains(InteractiveOrigin()))
	assert.Len(t, env.Origins, 2)
}

func TestRemoveIfPresent(t *testing.T) {
	env := sampleEnvironment()
	assert.False(t, env.RemovePipelineIfPresent("nope"))
	assert.True(t, env.RemovePipelineIfPresent("p1"))
	assert.Equal(t, []string{"p2"}, env.PipelineNames())
	assert.True(t, env.RemovePipelineIfPresent("p2"), "aggregate does not police editability")

	assert.True(t, env.RemoveAgentIfPresent("agent-2"))
	assert.False(t, env.RemoveAgentIfPresent("agent-2"))
	assert.Equal(t, []string{"agent-1"}, env.AgentUUIDs())
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleEnvironment()
	clone := orig.Clone()

	clone.Name = "changed"
	clone.Origins[0] = ConfigRepoOrigin("x")
	clone.Origins = clone.Origins.Add(ConfigRepoOrigin("y"))
	clone.Pipelines[0].Name = "renamed"
	clone.RemovePipelineIfPresent("p2")
	clone.AddPipelineIfAbsent(PipelineMembership{Name: "new"})
	clone.Agents[0].Hostname = "elsewhere"
	clone.RemoveAgentIfPresent("agent-2")
	v, _ := clone.Variables.Find("A")
	v.Value = "changed"
	clone.Variables.Remove("B")
	clone.Variables.Add(NewVariable("C", "3"))

	fresh := sampleEnvironment()
	assert.Equal(t, fresh.Name, orig.Name)
	assert.Equal(t, fresh.Origins, orig.Origins)
	assert.Equal(t, fresh.Pipelines, orig.Pipelines)
	assert.Equal(t, fresh.Agents, orig.Agents)
	assert.Equal(t, fresh.Variables.Names(), orig.Variables.Names())
	a, _ := orig.Variables.Find("A")
	assert.Equal(t, "1", a.Value)
	for _, cv := range clone.Variables.List() {
		assert.Same(t, clone.Variables, cv.Parent())
	}
	for _, ov := range orig.Variables.List() {
		assert.Same(t, orig.Variables, ov.Parent())
	}
}

func TestCloneMutatingOriginalLeavesClone(t *testing.T) {
	orig := sampleEnvironment()
	clone := orig.Clone()
	orig.Pipelines[0].Origin = ConfigRepoOrigin("z")
	orig.AddAgentIfAbsent(AgentMembership{UUID: "agent-9"})
	orig.Variables.Add(NewVariable("Z", "9"))

	assert.Equal(t, InteractiveOrigin(), clone.Pipelines[0].Origin)
	assert.False(t, clone.ContainsAgent("agent-9"))
	assert.False(t, clone.ContainsVariable("Z"))
}

func TestSubmissionPayload(t *testing.T) {
	env := sampleEnvironment()
	env.Variables.Add(NewVariable("", ""))
	p := env.SubmissionPayload()
	assert.Equal(t, "UAT", p.Name)
	require.Len(t, p.Variables, 2)
	assert.Equal(t, SubmissionVariable{Name: "A", Value: "1"}, p.Variables[0])
	assert.Equal(t, SubmissionVariable{Name: "S", EncryptedValue: "AES:abc", Secure: true}, p.Variables[1])
}

func TestMemberOriginsAndLocal(t *testing.T) {
	env := sampleEnvironment()
	assert.ElementsMatch(t, Origins{InteractiveOrigin(), ConfigRepoOrigin("repo-a")}, env.MemberOrigins())
	assert.False(t, env.IsLocal())
	assert.True(t, NewEnvironment("x").IsLocal())
}

func TestPlainAndSecure(t *testing.T) {
	env := sampleEnvironment()
	assert.Len(t, env.Variables.Plain(), 2)
	require.Len(t, env.Variables.Secure(), 1)
	assert.Equal(t, "S", env.Variables.Secure()[0].Name)
}

func TestEnvironmentNamePresence(t *testing.T) {
	env := NewEnvironment("  ")
	assert.False(t, env.IsValid())
	assert.Equal(t, []string{"Name must be present"}, env.Errors().On("name"))

	env.Name = "prod"
	assert.True(t, env.IsValid())
	assert.False(t, env.Errors().HasAny())
}

func TestDuplicateVariableInvalidatesEnvironment(t *testing.T) {
	env := NewEnvironment("prod")
	env.Variables.Add(NewVariable("A", "1"))
	require.True(t, env.IsValid())

	dup := NewVariable("A", "2")
	env.Variables.Add(dup)
	assert.False(t, env.IsValid())
	assert.NotEmpty(t, dup.Errors().On("name"))
	assert.False(t, env.Errors().HasAny(), "the environment itself is locally valid")
	all := env.AllErrors()
	assert.Equal(t, []string{"environment_variables[0].name", "environment_variables[1].name"}, all.Attributes())

	env.Variables.Remove("A")
	assert.True(t, env.IsValid())
	assert.Empty(t, dup.Errors().On("name"))
}

func TestRemoveEditableKeepsConfigRepoVariable(t *testing.T) {
	repoB := NewVariable("B", "2")
	repoB.Origin = ConfigRepoOrigin("r1")
	localB := NewVariable("B", "1")
	vars := NewEnvironmentVariables(repoB, localB)

	found, ok := vars.FindEditable("B")
	require.True(t, ok)
	assert.Same(t, localB, found)

	assert.Equal(t, 1, vars.RemoveEditable("B"))
	require.Equal(t, 1, vars.Len())
	left, ok := vars.Find("B")
	require.True(t, ok)
	assert.Same(t, repoB, left)
	assert.Nil(t, localB.Parent())

	_, ok = vars.FindEditable("B")
	assert.False(t, ok)
	assert.Zero(t, vars.RemoveEditable("B"))
}

func TestRemoveEditableDropsEveryMatch(t *testing.T) {
	vars := NewEnvironmentVariables(NewVariable("A", "1"), NewVariable("C", "3"), NewVariable("A", "2"))
	assert.Equal(t, 2, vars.RemoveEditable("A"))
	assert.Equal(t, []string{"C"}, vars.Names())
	assert.True(t, vars.IsValid())
}

func TestVariableNameRequiredWhenValued(t *testing.T) {
	env := NewEnvironment("prod")
	blank := NewVariable("", "")
	env.Variables.Add(blank)
	assert.True(t, env.IsValid())

	blank.Value = "x"
	assert.False(t, env.IsValid())
	assert.Equal(t, []string{"Name must be present"}, blank.Errors().On("name"))
}

func TestCloneValidatesIndependently(t *testing.T) {
	orig := NewEnvironment("prod")
	orig.Variables.Add(NewVariable("A", "1"))
	require.True(t, orig.IsValid())

	clone := orig.Clone()
	clone.Variables.Add(NewVariable("A", "2"))
	assert.False(t, clone.IsValid())
	assert.True(t, orig.IsValid(), "clone validators are bound to the clone")
}

func newRegistry(t *testing.T, envs ...*Environment) *Environments {
	t.Helper()
	r, err := NewEnvironments(envs...)
	require.NoError(t, err)
	return r
}

func TestNewEnvironmentsRejectsDuplicates(t *testing.T) {
	_, err := NewEnvironments(NewEnvironment("a"), NewEnvironment("a"))
	assert.ErrorIs(t, err, ErrDuplicateEnvironment)
}

func TestRegistryPipelineQueries(t *testing.T) {
	e1 := sampleEnvironment()
	e1.Name = "E1"
	e2 := NewEnvironment("E2")
	r := newRegistry(t, e1, e2)

	assert.Same(t, e1, r.FindEnvironmentForPipeline("p2"))
	assert.Nil(t, r.FindEnvironmentForPipeline("missing"))

	assert.True(t, r.IsPipelineDefinedInAnotherEnvironmentApartFrom("E2", "p2"))
	assert.False(t, r.IsPipelineDefinedInAnotherEnvironmentApartFrom("E1", "p2"))
	assert.False(t, r.IsPipelineDefinedInAnotherEnvironmentApartFrom("E2", "missing"))
	assert.Equal(t, []string{"E1", "E2"}, r.Names())
}

func TestRegistryDetectsExistingViolation(t *testing.T) {
	a := NewEnvironment("A")
	a.AddPipelineIfAbsent(PipelineMembership{Name: "shared"})
	b := NewEnvironment("B")
	b.AddPipelineIfAbsent(PipelineMembership{Name: "shared"})
	c := NewEnvironment("C")
	r := newRegistry(t, a, b, c)

	for _, env := range r.Names() {
		assert.True(t, r.IsPipelineDefinedInAnotherEnvironmentApartFrom(env, "shared"), env)
	}
	assert.Equal(t, []string{"shared"}, r.DuplicatePipelines())
	assert.Equal(t, []string{"A", "B"}, r.PipelineOwners()["shared"])
}

func TestRegistryWithAndWithout(t *testing.T) {
	a := NewEnvironment("A")
	b := NewEnvironment("B")
	r := newRegistry(t, a, b)

	replacement := NewEnvironment("A")
	replacement.AddPipelineIfAbsent(PipelineMembership{Name: "p"})
	r2 := r.With(replacement)
	got, ok := r2.Find("A")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	old, _ := r.Find("A")
	assert.Same(t, a, old, "original registry untouched")

	r3 := r2.With(NewEnvironment("C"))
	assert.Equal(t, []string{"A", "B", "C"}, r3.Names())
	assert.Equal(t, []string{"A", "C"}, r3.Without("B").Names())
	assert.Equal(t, 3, r3.Len())
}

func TestNilRegistry(t *testing.T) {
	var r *Environments
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.FindEnvironmentForPipeline("p"))
	assert.False(t, r.IsPipelineDefinedInAnotherEnvironmentApartFrom("a", "p"))
}
