package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/flowchat-ai/flowd/internal/contracts"
	"github.com/flowchat-ai/flowd/internal/domain"
	"github.com/flowchat-ai/flowd/internal/errors"
)

// Tool represents a callable tool aggregated across all connected servers.
type Tool struct {
	// ID is the namespaced identifier the tool is called by.
	ID string `doc:"Namespaced tool identifier" example:"time_get_current_time" json:"id"`

	// Server is the name of the server providing the tool.
	Server string `doc:"Name of the providing server" example:"time" json:"server"`

	// Name is the tool's name on its server.
	Name string `doc:"Tool name on its server" example:"get_current_time" json:"name"`

	// Description is a human-readable description of the tool.
	// It can be thought of like a "hint" to the model.
	Description string `doc:"Description of what the tool does" json:"description,omitempty"`

	// InputSchema is JSONSchema defining the expected parameters for the tool.
	InputSchema json.RawMessage `doc:"Input parameters schema" json:"inputSchema,omitempty"`
}

// DomainTool wraps domain.Tool for conversion to Tool via ToAPIType.
type DomainTool struct {
	ID   string
	Tool domain.Tool
}

// ToAPIType converts a wrapped domain type to Tool.
func (d DomainTool) ToAPIType() (Tool, error) {
	return Tool{
		ID:          d.ID,
		Server:      d.Tool.ServerName,
		Name:        d.Tool.Info.Name,
		Description: d.Tool.Info.Description,
		InputSchema: d.Tool.Info.InputSchema,
	}, nil
}

// ToolsResponse represents the wrapped API response for the aggregated tool list.
type ToolsResponse struct {
	Body struct {
		Tools []Tool `doc:"Callable tools across all connected servers" json:"tools"`
	}
}

// ToolCallRequest represents the incoming API request to call a tool by its
// namespaced identifier.
type ToolCallRequest struct {
	ID   string         `doc:"Namespaced tool identifier" example:"time_get_current_time" path:"id"`
	Body map[string]any `doc:"Arguments for the tool call"`
}

// ToolCallResponse represents the wrapped API response for calling a tool.
type ToolCallResponse struct {
	Body struct {
		Result string `doc:"Text result of the tool call" json:"result"`
	}
}

// RegisterToolRoutes sets up tool-related API endpoint routes.
func RegisterToolRoutes(routerAPI huma.API, sessions contracts.SessionAccessor, apiPathPrefix string) {
	toolsAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Tools"}

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "listTools",
			Method:      http.MethodGet,
			Summary:     "List callable tools",
			Description: "Aggregates the tools of every connected server under namespaced identifiers.",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ToolsResponse, error) {
			return handleTools(sessions)
		},
	)

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "callTool",
			Method:      http.MethodPost,
			Path:        "/{id}",
			Summary:     "Call a tool",
			Tags:        tags,
		},
		func(ctx context.Context, input *ToolCallRequest) (*ToolCallResponse, error) {
			return handleToolCall(ctx, sessions, input.ID, input.Body)
		},
	)
}

// handleTools returns the aggregated tool list, sorted by identifier.
func handleTools(sessions contracts.SessionAccessor) (*ToolsResponse, error) {
	aggregated := sessions.Tools()

	tools := make([]Tool, 0, len(aggregated))
	for id, tool := range aggregated {
		data, err := DomainTool{ID: id, Tool: tool}.ToAPIType()
		if err != nil {
			return nil, err
		}
		tools = append(tools, data)
	}
	slices.SortFunc(tools, func(a, b Tool) int {
		return strings.Compare(a.ID, b.ID)
	})

	resp := &ToolsResponse{}
	resp.Body.Tools = tools

	return resp, nil
}

// handleToolCall proxies a call to the tool behind the namespaced identifier.
func handleToolCall(
	ctx context.Context,
	sessions contracts.SessionAccessor,
	id string,
	args map[string]any,
) (*ToolCallResponse, error) {
	tool, ok := sessions.Tools()[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrToolNotFound, id)
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}

	resp := &ToolCallResponse{}
	resp.Body.Result = result

	return resp, nil
}
