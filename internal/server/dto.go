package server

import (
	"envline/internal/domain"
	"envline/internal/events"
	"envline/internal/repo"
	"envline/internal/sandbox"
	"envline/internal/wire"
	envlinesdk "envline/sdk/go"
)

// Request and response bodies are the SDK wire types.

type environmentPath struct {
	Name string `path:"name" doc:"Environment name"`
}

type environmentOutput struct {
	ETag string `header:"ETag"`
	Body envlinesdk.Environment
}

type environmentsOutput struct {
	Body envlinesdk.EnvironmentsResponse
}

type eventsOutput struct {
	Body struct {
		Items []envlinesdk.Event `json:"items"`
	}
}

func etag(s repo.StoredEnvironment) string {
	return sandbox.Token(s.Environment.Name, s.Version)
}

func environmentResponse(s repo.StoredEnvironment) *environmentOutput {
	return &environmentOutput{
		ETag: etag(s),
		Body: wire.FromEnvironment(s.Environment),
	}
}

func environmentsResponse(list []repo.StoredEnvironment) *environmentsOutput {
	out := &environmentsOutput{Body: envlinesdk.EnvironmentsResponse{Environments: make([]envlinesdk.Environment, 0, len(list))}}
	for _, s := range list {
		out.Body.Environments = append(out.Body.Environments, wire.FromEnvironment(s.Environment))
	}
	return out
}

func submissionVariables(in []envlinesdk.VariableInput) []domain.SubmissionVariable {
	out := make([]domain.SubmissionVariable, 0, len(in))
	for _, v := range in {
		out = append(out, domain.SubmissionVariable{
			Name:           v.Name,
			Value:          v.Value,
			EncryptedValue: v.EncryptedValue,
			Secure:         v.Secure,
		})
	}
	return out
}

func eventResponse(e events.Event) envlinesdk.Event {
	return envlinesdk.Event{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		Environment: e.Environment,
		RequestID:   e.RequestID,
		Payload:     e.Payload,
	}
}
