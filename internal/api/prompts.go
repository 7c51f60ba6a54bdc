package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/flowchat-ai/flowd/internal/contracts"
	"github.com/flowchat-ai/flowd/internal/domain"
)

// PromptArgument describes a single argument accepted by a prompt template.
type PromptArgument struct {
	// Name of the argument.
	Name string `doc:"Name of the argument" json:"name"`

	// Description of the argument.
	Description string `doc:"Description of the argument" json:"description,omitempty"`

	// Required indicates whether the argument must be provided.
	Required bool `doc:"Whether the argument must be provided" json:"required,omitempty"`
}

// Prompt represents a prompt template aggregated across all connected servers.
type Prompt struct {
	// Server is the name of the server providing the prompt.
	Server string `doc:"Name of the providing server" example:"time" json:"server"`

	// Name is the prompt's name on its server.
	Name string `doc:"Prompt name on its server" example:"summarize" json:"name"`

	// Description is a human-readable description of the prompt.
	Description string `doc:"Description of the prompt" json:"description,omitempty"`

	// Arguments the prompt template accepts.
	Arguments []PromptArgument `doc:"Arguments the prompt accepts" json:"arguments,omitempty"`
}

// DomainPrompt wraps domain.Prompt for conversion to Prompt via ToAPIType.
type DomainPrompt domain.Prompt

// ToAPIType converts a wrapped domain type to Prompt.
func (d DomainPrompt) ToAPIType() (Prompt, error) {
	p := Prompt{
		Server:      d.ServerName,
		Name:        d.Info.Name,
		Description: d.Info.Description,
	}

	for _, arg := range d.Info.Arguments {
		p.Arguments = append(p.Arguments, PromptArgument{
			Name:        arg.Name,
			Description: arg.Description,
			Required:    arg.Required,
		})
	}

	return p, nil
}

// PromptsResponse represents the wrapped API response for the aggregated prompt list.
type PromptsResponse struct {
	Body struct {
		Prompts []Prompt `doc:"Prompt templates across all connected servers" json:"prompts"`
	}
}

// PromptExecuteRequest represents the incoming API request to render a prompt.
type PromptExecuteRequest struct {
	Server string            `doc:"Name of the server"   example:"time"      path:"server"`
	Prompt string            `doc:"Name of the prompt"   example:"summarize" path:"prompt"`
	Body   map[string]string `doc:"Arguments for the prompt"`
}

// PromptExecuteResponse represents the wrapped API response for rendering a prompt.
type PromptExecuteResponse struct {
	Body struct {
		Result string `doc:"Rendered prompt text" json:"result"`
	}
}

// RegisterPromptRoutes sets up prompt-related API endpoint routes.
func RegisterPromptRoutes(routerAPI huma.API, sessions contracts.SessionAccessor, apiPathPrefix string) {
	promptsAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Prompts"}

	huma.Register(
		promptsAPI,
		huma.Operation{
			OperationID: "listPrompts",
			Method:      http.MethodGet,
			Summary:     "List prompt templates",
			Description: "Aggregates the prompt templates of every connected server.",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*PromptsResponse, error) {
			return handlePrompts(sessions)
		},
	)

	huma.Register(
		promptsAPI,
		huma.Operation{
			OperationID: "executePrompt",
			Method:      http.MethodPost,
			Path:        "/{server}/{prompt}",
			Summary:     "Render a prompt template",
			Tags:        tags,
		},
		func(ctx context.Context, input *PromptExecuteRequest) (*PromptExecuteResponse, error) {
			return handlePromptExecute(ctx, sessions, input.Server, input.Prompt, input.Body)
		},
	)
}

// handlePrompts returns the aggregated prompt list, sorted by server then name.
func handlePrompts(sessions contracts.SessionAccessor) (*PromptsResponse, error) {
	aggregated := sessions.Prompts()

	prompts := make([]Prompt, 0, len(aggregated))
	for _, prompt := range aggregated {
		data, err := DomainPrompt(prompt).ToAPIType()
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, data)
	}
	slices.SortFunc(prompts, func(a, b Prompt) int {
		if c := strings.Compare(a.Server, b.Server); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})

	resp := &PromptsResponse{}
	resp.Body.Prompts = prompts

	return resp, nil
}

// handlePromptExecute renders the named prompt on the named server.
func handlePromptExecute(
	ctx context.Context,
	sessions contracts.SessionAccessor,
	server string,
	prompt string,
	args map[string]string,
) (*PromptExecuteResponse, error) {
	result, err := sessions.ExecutePrompt(ctx, server, prompt, args)
	if err != nil {
		return nil, err
	}

	resp := &PromptExecuteResponse{}
	resp.Body.Result = result

	return resp, nil
}
