package envlinesdk

// Origin types on the wire.
const (
	OriginGoCD       = "gocd"
	OriginConfigRepo = "config_repo"
)

// Origin tells where a piece of configuration was declared.
type Origin struct {
	Type string `json:"type" enum:"gocd,config_repo"`
	ID   string `json:"id,omitempty"`
}

// Pipeline is a pipeline membership.
type Pipeline struct {
	Name   string `json:"name"`
	Origin Origin `json:"origin"`
}

// Agent is an agent membership.
type Agent struct {
	UUID     string `json:"uuid"`
	Hostname string `json:"hostname,omitempty"`
	Origin   Origin `json:"origin"`
}

// EnvironmentVariable is a variable as returned by the server.
type EnvironmentVariable struct {
	Name           string `json:"name"`
	Value          string `json:"value,omitempty"`
	EncryptedValue string `json:"encrypted_value,omitempty"`
	Secure         bool   `json:"secure"`
	Origin         Origin `json:"origin"`
}

// Environment is the merged representation of one environment.
type Environment struct {
	Name                 string                `json:"name"`
	Origins              []Origin              `json:"origins"`
	Pipelines            []Pipeline            `json:"pipelines"`
	Agents               []Agent               `json:"agents"`
	EnvironmentVariables []EnvironmentVariable `json:"environment_variables"`
}

// EnvironmentsResponse wraps the merged environments listing.
type EnvironmentsResponse struct {
	Environments []Environment `json:"environments"`
}

// VariableInput is a variable as sent by the client.
type VariableInput struct {
	Name           string `json:"name"`
	Value          string `json:"value,omitempty"`
	EncryptedValue string `json:"encrypted_value,omitempty"`
	Secure         bool   `json:"secure,omitempty"`
}

// CreateEnvironmentRequest creates an environment. Membership is attached with a
// follow-up patch.
type CreateEnvironmentRequest struct {
	Name                 string          `json:"name"`
	EnvironmentVariables []VariableInput `json:"environment_variables,omitempty"`
}

// MembershipPatch adds and removes pipelines or agents by identity.
type MembershipPatch struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// VariablesPatch adds variables and removes them by name.
type VariablesPatch struct {
	Add    []VariableInput `json:"add,omitempty"`
	Remove []string        `json:"remove,omitempty"`
}

// PatchEnvironmentRequest is the delta applied by PATCH. Absent sections are
// left alone.
type PatchEnvironmentRequest struct {
	Pipelines            *MembershipPatch `json:"pipelines,omitempty"`
	Agents               *MembershipPatch `json:"agents,omitempty"`
	EnvironmentVariables *VariablesPatch  `json:"environment_variables,omitempty"`
}

// Event is one entry of the server's change log.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	Environment string         `json:"environment"`
	RequestID   string         `json:"request_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}
