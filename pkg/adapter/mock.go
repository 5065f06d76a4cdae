package adapter

import (
	"context"
	"fmt"

	"github.com/zen-systems/taskflow/pkg/artifact"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	name            string
	models          []string
	responses       map[string]string
	defaultResponse string
	Err             error
	Usage           *Usage
	Calls           int
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            "mock",
		models:          []string{"mock-1"},
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockAdapter{
		name:            "mock",
		models:          []string{"mock-1"},
		responses:       responses,
		defaultResponse: defaultResponse,
	}
}

// WithName overrides the adapter identifier.
func (a *MockAdapter) WithName(name string) *MockAdapter {
	a.name = name
	return a
}

// WithModels overrides the supported model list.
func (a *MockAdapter) WithModels(models ...string) *MockAdapter {
	a.models = models
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return a.models
}

// Generate returns a deterministic response for the prompt.
func (a *MockAdapter) Generate(_ context.Context, model string, prompt string) (*Response, error) {
	a.Calls++
	if a.Err != nil {
		return nil, a.Err
	}
	if model == "" && len(a.models) > 0 {
		model = a.models[0]
	}
	content, ok := a.responses[prompt]
	if !ok {
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	}
	art := artifact.New(content, a.Name(), model, prompt)
	return &Response{Artifact: art, Usage: a.Usage}, nil
}
