package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/contracts"
)

// Conn couples an MCP client connection with the OS process behind it, when
// the transport runs the server as a child process.
type Conn struct {
	contracts.MCPConn

	proc *os.Process
}

// Proc returns the child process handle, or nil for network transports.
func (c *Conn) Proc() *os.Process {
	return c.proc
}

// Dialer opens a transport for a server config. The returned connection is
// started but not yet initialized; the session performs the MCP handshake.
// Construction errors are returned synchronously and recorded by the caller.
type Dialer func(ctx context.Context, cfg config.ServerConfig) (*Conn, error)

// NewDialer returns the production Dialer, which builds stdio or SSE
// transports from mark3labs/mcp-go.
func NewDialer(logger hclog.Logger) Dialer {
	logger = logger.Named("transport")

	return func(ctx context.Context, cfg config.ServerConfig) (*Conn, error) {
		switch cfg.Type {
		case config.TransportStdio:
			return dialStdio(logger, cfg)
		case config.TransportSSE:
			return dialSSE(ctx, cfg)
		default:
			return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
		}
	}
}

// dialStdio spawns the configured command as a child process speaking MCP
// over stdio. The child inherits the daemon's environment merged with the
// config overrides, and runs in the daemon's working directory.
func dialStdio(logger hclog.Logger, cfg config.ServerConfig) (*Conn, error) {
	var cmd *exec.Cmd

	c, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		mergedEnv(cfg.Env),
		cfg.Args,
		transport.WithCommandFunc(func(_ context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
			// Deliberately not CommandContext: the connect timeout must not
			// kill a process that finished connecting in time.
			cmd = exec.Command(command, args...)
			cmd.Env = env

			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("could not determine working directory: %w", err)
			}
			cmd.Dir = wd

			return cmd, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MCP server process: %w", err)
	}

	if stderr, ok := client.GetStderr(c); ok {
		go pipeStderr(logger, cfg.Command, stderr)
	}

	conn := &Conn{MCPConn: c}
	if cmd != nil && cmd.Process != nil {
		conn.proc = cmd.Process
	}

	return conn, nil
}

// dialSSE opens an HTTP event stream to the configured URL with the
// configured request headers.
func dialSSE(ctx context.Context, cfg config.ServerConfig) (*Conn, error) {
	var opts []transport.ClientOption
	if len(cfg.Headers) > 0 {
		opts = append(opts, transport.WithHeaders(cfg.Headers))
	}

	c, err := client.NewSSEMCPClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE MCP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open SSE stream: %w", err)
	}

	return &Conn{MCPConn: c}, nil
}

// mergedEnv combines the daemon's environment with the config overrides.
// Overrides win on conflict.
func mergedEnv(overrides map[string]string) []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[k] = v
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}

	return out
}

// pipeStderr forwards the child's stderr to the logger until EOF.
func pipeStderr(logger hclog.Logger, command string, stderr io.Reader) {
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\n"); line != "" {
			logger.Debug("stderr", "command", command, "line", line)
		}
		if err != nil {
			if err != io.EOF {
				logger.Error("Error reading stderr", "command", command, "error", err)
			}
			return
		}
	}
}
