// Package contracts declares the interfaces that connect the session layer,
// the persisted configuration store and the daemon's HTTP API.
package contracts

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/domain"
)

// MCPConn is the subset of an MCP client connection used by a session.
// *client.Client from mark3labs/mcp-go satisfies it; tests substitute mocks.
type MCPConn interface {
	// Initialize performs the MCP handshake with the remote server.
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)

	// Ping checks that the remote server is responsive.
	Ping(ctx context.Context) error

	// ListTools returns the tools exposed by the remote server.
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)

	// ListPrompts returns the prompt templates exposed by the remote server.
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)

	// CallTool invokes a tool on the remote server.
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

	// GetPrompt renders a prompt template on the remote server.
	GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

	// Close tears down the underlying transport.
	Close() error
}

// ConfigStore is the persisted server-configuration store consumed by the
// registry and the config watcher. Implementations may be mutated from
// outside the process; every operation reflects current persisted state.
type ConfigStore interface {
	// LoadAll returns the enabled server configurations keyed by name.
	LoadAll() (map[string]config.ServerConfig, error)

	// Save upserts the configuration for the named server.
	Save(name string, cfg config.ServerConfig) error

	// Delete removes the persisted entry for the named server.
	Delete(name string) error

	// Has reports whether an entry exists for the named server.
	Has(name string) (bool, error)
}

// SessionAccessor is the registry surface consumed by the HTTP API.
type SessionAccessor interface {
	// Infos returns a snapshot of every registered session.
	Infos() []domain.ServerInfo

	// Info returns a snapshot of the named session.
	Info(name string) (domain.ServerInfo, error)

	// AddClient registers and connects a new session, replacing any session
	// previously registered under the same name. Re-adding a connected
	// session with an identical config is a no-op; a failed connect leaves
	// nothing registered.
	AddClient(ctx context.Context, name string, cfg config.ServerConfig) (domain.ServerInfo, error)

	// RemoveClient disconnects and deregisters the named session.
	RemoveClient(ctx context.Context, name string) error

	// RefreshClient reconnects the named session, optionally with a new
	// config. Refreshing a connected session whose config is unchanged is a
	// no-op.
	RefreshClient(ctx context.Context, name string, cfg *config.ServerConfig) (domain.ServerInfo, error)

	// Tools aggregates the callable tools of all connected sessions,
	// keyed by namespaced tool ID.
	Tools() map[string]domain.Tool

	// Prompts aggregates the callable prompts of all connected sessions,
	// keyed as "server/prompt".
	Prompts() map[string]domain.Prompt

	// ExecutePrompt renders the named prompt on the named server.
	ExecutePrompt(ctx context.Context, serverName, promptName string, args map[string]string) (string, error)
}

// HealthMonitor provides a way to interact with the health status of MCP servers.
type HealthMonitor interface {
	// Status returns the health status for a single tracked server.
	Status(name string) (domain.ServerHealth, error)

	// List returns a copy of all known server health records.
	List() []domain.ServerHealth

	// Update records a health check for a tracked server.
	Update(name string, status domain.HealthStatus, latency *time.Duration) error
}
