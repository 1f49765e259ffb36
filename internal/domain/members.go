package domain

// PipelineMembership places a pipeline in an environment. Identity is Name.
type PipelineMembership struct {
	Name   string
	Origin Origin
}

// IsEditable reports whether the membership may be removed through the UI.
func (p PipelineMembership) IsEditable() bool {
	return p.Origin.IsEditable()
}

// AgentMembership places an agent in an environment. Identity is UUID.
type AgentMembership struct {
	UUID     string
	Hostname string
	Origin   Origin
}

// IsEditable reports whether the membership may be removed through the UI.
func (a AgentMembership) IsEditable() bool {
	return a.Origin.IsEditable()
}
