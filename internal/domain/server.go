// Package domain holds the value types shared between the session layer,
// the daemon and the HTTP API.
package domain

import (
	"context"
	"encoding/json"

	"github.com/flowchat-ai/flowd/internal/config"
)

const (
	// ConnectionStatusDisconnected indicates no live connection to the MCP server.
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"

	// ConnectionStatusConnecting indicates a connect or disconnect is in flight.
	ConnectionStatusConnecting ConnectionStatus = "connecting"

	// ConnectionStatusConnected indicates a live, initialized connection.
	ConnectionStatusConnected ConnectionStatus = "connected"
)

// ConnectionStatus represents the lifecycle state of a server session.
type ConnectionStatus string

// ToolInfo describes a tool discovered on an MCP server.
type ToolInfo struct {
	Name        string
	Description string

	// InputSchema is the tool's declared JSON schema for call arguments.
	InputSchema json.RawMessage
}

// PromptArgument describes a single argument accepted by a prompt template.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// PromptInfo describes a prompt template discovered on an MCP server.
type PromptInfo struct {
	Name        string
	Description string
	Arguments   []PromptArgument
}

// ServerInfo is a point-in-time snapshot of a server session.
// Status is computed when the snapshot is taken, never cached.
type ServerInfo struct {
	Name    string
	Config  config.ServerConfig
	Status  ConnectionStatus
	Err     error
	Tools   []ToolInfo
	Prompts []PromptInfo
}

// Tool is a callable tool bound to the session that discovered it.
type Tool struct {
	ServerName string
	Info       ToolInfo

	// Execute proxies the call through the owning session, connecting it first
	// if required.
	Execute func(ctx context.Context, args map[string]any) (string, error)
}

// Prompt is a callable prompt template bound to the session that discovered it.
type Prompt struct {
	ServerName string
	Info       PromptInfo

	// Execute renders the prompt on the owning session. It fails if the
	// session is not currently connected.
	Execute func(ctx context.Context, args map[string]string) (string, error)
}
