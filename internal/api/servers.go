package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/contracts"
	"github.com/flowchat-ai/flowd/internal/domain"
	internalerrors "github.com/flowchat-ai/flowd/internal/errors"
)

// Server describes a configured MCP server and its current connection state.
// Environment variable and header values never appear in responses, only
// their keys; both commonly carry credentials.
type Server struct {
	// Name is the unique name of the server.
	Name string `doc:"Unique name of the server" example:"time" json:"name"`

	// Type is the transport used to reach the server.
	Type string `doc:"Transport type" enum:"stdio,sse" json:"type"`

	// Command is the executable run for stdio servers.
	Command string `doc:"Command for stdio servers" json:"command,omitempty"`

	// Args are passed to the command for stdio servers.
	Args []string `doc:"Command arguments for stdio servers" json:"args,omitempty"`

	// EnvKeys lists the names of configured environment overrides.
	EnvKeys []string `doc:"Names of configured environment variables (values redacted)" json:"envKeys,omitempty"`

	// URL is the endpoint for sse servers.
	URL string `doc:"Endpoint URL for sse servers" json:"url,omitempty"`

	// HeaderKeys lists the names of configured request headers.
	HeaderKeys []string `doc:"Names of configured request headers (values redacted)" json:"headerKeys,omitempty"`

	// Status is the current connection status.
	Status string `doc:"Connection status" enum:"disconnected,connecting,connected" json:"status"`

	// Error is the most recent connection error, if any.
	Error string `doc:"Most recent connection error" json:"error,omitempty"`

	// Tools lists the names of tools discovered on the server.
	Tools []string `doc:"Discovered tool names" json:"tools,omitempty"`

	// Prompts lists the names of prompts discovered on the server.
	Prompts []string `doc:"Discovered prompt names" json:"prompts,omitempty"`
}

// DomainServerInfo is a wrapper that allows receivers to be declared in the
// API package that deal with domain types.
type DomainServerInfo domain.ServerInfo

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServerInfo) ToAPIType() (Server, error) {
	s := Server{
		Name:    d.Name,
		Type:    string(d.Config.Type),
		Command: d.Config.Command,
		Args:    d.Config.Args,
		URL:     d.Config.URL,
		Status:  string(d.Status),
	}

	if d.Err != nil {
		s.Error = d.Err.Error()
	}

	for key := range d.Config.Env {
		s.EnvKeys = append(s.EnvKeys, key)
	}
	slices.Sort(s.EnvKeys)

	for key := range d.Config.Headers {
		s.HeaderKeys = append(s.HeaderKeys, key)
	}
	slices.Sort(s.HeaderKeys)

	for _, tool := range d.Tools {
		s.Tools = append(s.Tools, tool.Name)
	}
	for _, prompt := range d.Prompts {
		s.Prompts = append(s.Prompts, prompt.Name)
	}

	return s, nil
}

// ServersResponse represents the wrapped API response for a list of servers.
type ServersResponse struct {
	Body struct {
		Servers []Server `doc:"Configured MCP servers" json:"servers"`
	}
}

// ServerRequest represents an incoming API request addressing a single server.
type ServerRequest struct {
	Name string `doc:"Name of the server" example:"time" path:"name"`
}

// ServerResponse represents the wrapped API response for a single server.
type ServerResponse struct {
	Body Server
}

// ServerAddRequest represents the incoming API request to add a server.
type ServerAddRequest struct {
	Body struct {
		Name    string            `doc:"Unique name for the server"            example:"time"  json:"name"    required:"true"`
		Type    string            `doc:"Transport type"                        enum:"stdio,sse" json:"type"   required:"true"`
		Command string            `doc:"Command for stdio servers"             json:"command,omitempty"`
		Args    []string          `doc:"Command arguments for stdio servers"   json:"args,omitempty"`
		Env     map[string]string `doc:"Environment overrides for stdio servers" json:"env,omitempty"`
		URL     string            `doc:"Endpoint URL for sse servers"          json:"url,omitempty"`
		Headers map[string]string `doc:"Request headers for sse servers"       json:"headers,omitempty"`
	}
}

// RegisterServerRoutes sets up server management API endpoint routes.
func RegisterServerRoutes(
	routerAPI huma.API,
	sessions contracts.SessionAccessor,
	store contracts.ConfigStore,
	apiPathPrefix string,
) {
	serversAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	// Add route at the root of the group (no path specified).
	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Summary:     "List all servers",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ServersResponse, error) {
			return handleServers(sessions)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getServer",
			Method:      http.MethodGet,
			Path:        "/{name}",
			Summary:     "Get a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServer(sessions, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID:   "addServer",
			Method:        http.MethodPost,
			Summary:       "Add or replace a server",
			DefaultStatus: http.StatusCreated,
			Tags:          tags,
		},
		func(ctx context.Context, input *ServerAddRequest) (*ServerResponse, error) {
			return handleServerAdd(ctx, sessions, store, input)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "removeServer",
			Method:      http.MethodDelete,
			Path:        "/{name}",
			Summary:     "Remove a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*struct{}, error) {
			return handleServerRemove(ctx, sessions, store, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "refreshServer",
			Method:      http.MethodPost,
			Path:        "/{name}/refresh",
			Summary:     "Disconnect and reconnect a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServerRefresh(ctx, sessions, input.Name)
		},
	)
}

// handleServers returns every configured MCP server and its connection state.
func handleServers(sessions contracts.SessionAccessor) (*ServersResponse, error) {
	infos := sessions.Infos()

	servers := make([]Server, 0, len(infos))
	for _, info := range infos {
		data, err := DomainServerInfo(info).ToAPIType()
		if err != nil {
			return nil, err
		}
		servers = append(servers, data)
	}

	resp := &ServersResponse{}
	resp.Body.Servers = servers

	return resp, nil
}

// handleServer returns a single server's configuration and connection state.
func handleServer(sessions contracts.SessionAccessor, name string) (*ServerResponse, error) {
	info, err := sessions.Info(name)
	if err != nil {
		return nil, err
	}

	data, err := DomainServerInfo(info).ToAPIType()
	if err != nil {
		return nil, err
	}

	resp := &ServerResponse{}
	resp.Body = data

	return resp, nil
}

// handleServerAdd persists the server and connects a session for it. When the
// connect fails the session is deregistered again and the error surfaces, but
// the config stays persisted so the next reconcile retries it.
func handleServerAdd(
	ctx context.Context,
	sessions contracts.SessionAccessor,
	store contracts.ConfigStore,
	input *ServerAddRequest,
) (*ServerResponse, error) {
	cfg := config.ServerConfig{
		Type:    config.Transport(input.Body.Type),
		Command: input.Body.Command,
		Args:    input.Body.Args,
		Env:     input.Body.Env,
		URL:     input.Body.URL,
		Headers: input.Body.Headers,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrBadRequest, err)
	}

	// Persist first so the server survives a crash between registration and
	// the next config reconcile. An identical persisted row is left alone; a
	// no-op add must not rewrite the store.
	persisted, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	if existing, ok := persisted[input.Body.Name]; !ok || !existing.Equal(cfg) {
		if err := store.Save(input.Body.Name, cfg); err != nil {
			return nil, err
		}
	}

	info, err := sessions.AddClient(ctx, input.Body.Name, cfg)
	if err != nil && info.Name == "" {
		return nil, err
	}

	data, err := DomainServerInfo(info).ToAPIType()
	if err != nil {
		return nil, err
	}

	resp := &ServerResponse{}
	resp.Body = data

	return resp, nil
}

// handleServerRemove deletes the server's persisted configuration and
// disconnects its session. The config is deleted first so a reconcile cannot
// resurrect the server; a session the stale sweep already removed is not an
// error, the config is gone either way.
func handleServerRemove(
	ctx context.Context,
	sessions contracts.SessionAccessor,
	store contracts.ConfigStore,
	name string,
) (*struct{}, error) {
	if err := store.Delete(name); err != nil {
		return nil, err
	}

	if err := sessions.RemoveClient(ctx, name); err != nil && !errors.Is(err, internalerrors.ErrServerNotFound) {
		return nil, err
	}

	return &struct{}{}, nil
}

// handleServerRefresh tears down and re-establishes the server's connection.
func handleServerRefresh(ctx context.Context, sessions contracts.SessionAccessor, name string) (*ServerResponse, error) {
	info, err := sessions.RefreshClient(ctx, name, nil)
	if err != nil && info.Name == "" {
		return nil, err
	}

	data, err := DomainServerInfo(info).ToAPIType()
	if err != nil {
		return nil, err
	}

	resp := &ServerResponse{}
	resp.Body = data

	return resp, nil
}
