package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envline/internal/domain"
	"envline/internal/reconcile"
	envlinesdk "envline/sdk/go"
)

const sample = `{
  "name": "E1",
  "origins": [{"type":"gocd"},{"type":"config_repo","id":"repo-a"}],
  "pipelines": [
    {"name":"p1","origin":{"type":"gocd"}},
    {"name":"p2","origin":{"type":"config_repo","id":"repo-a"}}
  ],
  "agents": [{"uuid":"a1","hostname":"host-1","origin":{"type":"gocd"}}],
  "environment_variables": [
    {"name":"A","value":"1","secure":false,"origin":{"type":"gocd"}},
    {"name":"S","encrypted_value":"xyz","secure":true,"origin":{"type":"config_repo","id":"repo-a"}}
  ]
}`

func decodeSample(t *testing.T) envlinesdk.Environment {
	t.Helper()
	var in envlinesdk.Environment
	require.NoError(t, json.Unmarshal([]byte(sample), &in))
	return in
}

func TestEnvironmentDecode(t *testing.T) {
	env, err := Environment(decodeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "E1", env.Name)
	assert.Equal(t, []string{"p1", "p2"}, env.PipelineNames())
	origin, ok := env.OriginForPipeline("p2")
	require.True(t, ok)
	assert.True(t, origin.Equal(domain.ConfigRepoOrigin("repo-a")))
	assert.False(t, env.IsLocal())

	s, ok := env.Variables.Find("S")
	require.True(t, ok)
	assert.True(t, s.Secure)
	assert.Equal(t, "xyz", s.EncryptedValue)
	assert.False(t, s.IsEditable())
	assert.Same(t, env.Variables, s.Parent())
}

func TestEnvironmentRoundTrip(t *testing.T) {
	in := decodeSample(t)
	env, err := Environment(in)
	require.NoError(t, err)
	assert.Equal(t, in, FromEnvironment(env))
}

func TestFromEnvironmentEmitsEmptyArrays(t *testing.T) {
	raw, err := json.Marshal(FromEnvironment(&domain.Environment{Name: "bare"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"bare","origins":[],"pipelines":[],"agents":[],"environment_variables":[]}`, string(raw))
}

func TestUnknownOriginRejected(t *testing.T) {
	in := decodeSample(t)
	in.Agents[0].Origin.Type = "plugin"
	_, err := Environment(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOrigin))
	assert.Contains(t, err.Error(), "agent a1")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	in := decodeSample(t)
	_, err := Registry(envlinesdk.EnvironmentsResponse{Environments: []envlinesdk.Environment{in, in}})
	assert.True(t, errors.Is(err, domain.ErrDuplicateEnvironment))
}

func TestRegistryRoundTrip(t *testing.T) {
	in := envlinesdk.EnvironmentsResponse{Environments: []envlinesdk.Environment{decodeSample(t)}}
	reg, err := Registry(in)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, in, FromRegistry(reg))
}

func TestPatchRequestOmitsEmptySections(t *testing.T) {
	req := PatchRequest(reconcile.Patch{
		Pipelines: reconcile.MembershipDelta{Remove: []string{"p1"}},
	})
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pipelines":{"remove":["p1"]}}`, string(raw))
}

func TestPatchRoundTrip(t *testing.T) {
	p := reconcile.Patch{
		Pipelines: reconcile.MembershipDelta{Add: []string{"p9"}, Remove: []string{"p1"}},
		Agents:    reconcile.MembershipDelta{Add: []string{"a9"}},
		Variables: reconcile.VariablesDelta{
			Add:    []domain.EnvironmentVariable{{Name: "C", Value: "3"}, {Name: "K", Value: "s", Secure: true}},
			Remove: []string{"A"},
		},
	}
	assert.Equal(t, p, Patch(PatchRequest(p)))
	assert.True(t, Patch(PatchRequest(reconcile.Patch{})).IsNoop())
}

func TestCreateRequestFromSubmission(t *testing.T) {
	env := domain.NewEnvironment("fresh")
	env.Variables.Add(domain.NewVariable("A", "1"))
	env.Variables.Add(domain.NewSecureVariable("S", "shh"))
	env.AddPipelineIfAbsent(domain.PipelineMembership{Name: "p1"})

	raw, err := json.Marshal(CreateRequest(env.SubmissionPayload()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fresh","environment_variables":[{"name":"A","value":"1"},{"name":"S","value":"shh","secure":true}]}`, string(raw))
}

func TestOriginMapping(t *testing.T) {
	for _, o := range []domain.Origin{domain.InteractiveOrigin(), domain.ConfigRepoOrigin("r")} {
		back, err := Origin(FromOrigin(o))
		require.NoError(t, err)
		assert.True(t, o.Equal(back), o.String())
	}
}
