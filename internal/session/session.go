// Package session implements the MCP client connection manager: per-server
// sessions with supervised connect/disconnect lifecycles, a registry that
// reconciles the live session set against a persisted configuration store,
// and the namespaced tool/prompt aggregation consumed by the chat UI.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/domain"
	"github.com/flowchat-ai/flowd/internal/errors"
)

// termGracePeriod is how long a child process gets to exit after SIGTERM
// before it is killed.
const termGracePeriod = 500 * time.Millisecond

// clientInfo identifies flowd to MCP servers during the handshake.
var clientInfo = mcp.Implementation{
	Name:    "flowd",
	Version: "0.1.0",
}

// Session owns the full lifecycle of one MCP server connection: connecting
// with cooldown and an attempt cap, tool/prompt discovery, call proxying,
// idle auto-disconnect and bounded teardown.
//
// A single token (tok) serializes connect and disconnect. A caller that finds
// the token held waits for the in-flight operation and adopts its outcome
// instead of starting a competing one.
// It is safe for concurrent use by multiple goroutines.
type Session struct {
	name   string
	cfg    config.ServerConfig
	logger hclog.Logger
	dial   Dialer
	clock  Clock
	opts   Options

	// tok is a single-slot token channel: holding it means a connect or
	// disconnect is in flight.
	tok chan struct{}

	mu          sync.RWMutex // guards the fields below
	connected   bool
	conn        *Conn
	lastErr     error
	tools       []domain.ToolInfo
	prompts     []domain.PromptInfo
	attempts    int
	lastAttempt time.Time
	idleTimer   Timer
}

func newSession(name string, cfg config.ServerConfig, logger hclog.Logger, dial Dialer, opts Options) *Session {
	return &Session{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("session").With("server", name),
		dial:   dial,
		clock:  opts.Clock,
		opts:   opts,
		tok:    make(chan struct{}, 1),
	}
}

// Name returns the registry key for this session.
func (s *Session) Name() string {
	return s.name
}

// Config returns the immutable config this session was created with.
func (s *Session) Config() config.ServerConfig {
	return s.cfg
}

// Info returns a point-in-time snapshot of the session. The status is
// computed when the snapshot is taken: "connecting" whenever an operation is
// in flight, otherwise connected/disconnected from current state.
func (s *Session) Info() domain.ServerInfo {
	inFlight := len(s.tok) > 0

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := domain.ConnectionStatusDisconnected
	switch {
	case inFlight:
		status = domain.ConnectionStatusConnecting
	case s.connected:
		status = domain.ConnectionStatusConnected
	}

	info := domain.ServerInfo{
		Name:   s.name,
		Config: s.cfg,
		Status: status,
		Err:    s.lastErr,
	}
	info.Tools = append(info.Tools, s.tools...)
	info.Prompts = append(info.Prompts, s.prompts...)

	return info
}

// Connect establishes the connection, or returns the existing one.
//
// If another connect or disconnect is already in flight, Connect waits for it
// and returns the state it left behind without making an attempt of its own.
// Otherwise it enforces the cooldown since the last attempt, resets the
// failure counter once the attempt window has passed, refuses outright once
// the consecutive-failure cap is reached, and then races a transport open,
// handshake and discovery against the connect timeout.
//
// Failures are recorded on the session as well as returned, so pollers can
// read them from Info without wrapping every call site.
func (s *Session) Connect(ctx context.Context) (*Conn, error) {
	if conn := s.currentConn(); conn != nil {
		return conn, nil
	}

	if !s.tryAcquire() {
		// Wait out the in-flight operation, then adopt its outcome.
		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		s.release()
		return s.outcome()
	}
	defer s.release()

	if conn := s.currentConn(); conn != nil {
		return conn, nil
	}

	return s.connect(ctx)
}

// connect performs one attempt. The token must be held.
func (s *Session) connect(ctx context.Context) (*Conn, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) > s.opts.AttemptWindow {
		s.attempts = 0
	}
	if s.attempts >= s.opts.MaxConnectAttempts {
		attempts := s.attempts
		lastErr := s.lastErr
		s.mu.Unlock()

		err := fmt.Errorf("%w: %s: %d consecutive failures", errors.ErrConnectAttemptsExhausted, s.name, attempts)
		if lastErr != nil {
			err = fmt.Errorf("%w (last error: %w)", err, lastErr)
		}
		return nil, err
	}

	var wait time.Duration
	if !s.lastAttempt.IsZero() {
		if elapsed := now.Sub(s.lastAttempt); elapsed < s.opts.ConnectCooldown {
			wait = s.opts.ConnectCooldown - elapsed
		}
	}
	s.mu.Unlock()

	if wait > 0 {
		s.logger.Debug("Connect attempted during cooldown, waiting", "wait", wait)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.attempts++
	s.lastAttempt = s.clock.Now()
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, s.cfg)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to open transport: %w", err))
	}

	if _, err := conn.Initialize(dialCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      clientInfo,
		},
	}); err != nil {
		_ = conn.Close()
		return nil, s.fail(fmt.Errorf("failed to initialize MCP session: %w", err))
	}

	tools, err := discoverTools(dialCtx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, s.fail(fmt.Errorf("%w: %w", errors.ErrToolListFailed, err))
	}

	// Prompt support is optional on MCP servers; a failed listing is logged,
	// not fatal.
	prompts, err := discoverPrompts(dialCtx, conn)
	if err != nil {
		s.logger.Warn("Failed to list prompts", "error", err)
		prompts = nil
	}

	s.mu.Lock()
	s.connected = true
	s.conn = conn
	s.lastErr = nil
	s.attempts = 0
	s.tools = tools
	s.prompts = prompts
	s.mu.Unlock()

	s.armIdleTimer()
	s.logger.Info("Connected to MCP server", "tools", len(tools), "prompts", len(prompts))

	return conn, nil
}

// Disconnect tears the connection down. Connection state is cleared before
// the transport close so a concurrent reconnect can never observe a
// half-closed handle. Close errors and timeouts are logged, never returned;
// from the caller's perspective disconnect always succeeds. The only error
// Disconnect can return is ctx expiring while waiting for an in-flight
// operation.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	conn := s.conn
	s.connected = false
	s.conn = nil
	s.tools = nil
	s.prompts = nil
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	if proc := conn.Proc(); proc != nil {
		s.terminate(proc)
	}

	s.closeWithTimeout(conn)
	s.logger.Info("Disconnected from MCP server")

	return nil
}

// CallTool proxies a tool invocation, connecting the session first if
// required. Completion, successful or not, counts as activity and re-arms
// the idle timer.
func (s *Session) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	conn, err := s.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %w", errors.ErrToolCallFailed, s.name, toolName, err)
	}
	defer s.armIdleTimer()

	info, ok := s.toolInfo(toolName)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", errors.ErrToolNotFound, s.name, toolName)
	}

	if err := s.validateToolArgs(info, args); err != nil {
		return "", err
	}

	result, err := conn.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %w", errors.ErrToolCallFailed, s.name, toolName, err)
	}
	if result == nil {
		return "", fmt.Errorf("%w: %s/%s: result was nil", errors.ErrToolCallFailedUnknown, s.name, toolName)
	}
	if result.IsError {
		return "", fmt.Errorf("%w: %s/%s: %s", errors.ErrToolCallFailed, s.name, toolName, extractMessage(result.Content))
	}

	return extractMessage(result.Content), nil
}

// GetPrompt renders a prompt template. Unlike CallTool it never connects
// implicitly: a disconnected session fails immediately.
func (s *Session) GetPrompt(ctx context.Context, promptName string, args map[string]string) (string, error) {
	s.mu.RLock()
	connected := s.connected
	conn := s.conn
	known := false
	for _, p := range s.prompts {
		if p.Name == promptName {
			known = true
			break
		}
	}
	s.mu.RUnlock()

	if !connected || conn == nil {
		return "", fmt.Errorf("%w: %s", errors.ErrNotConnected, s.name)
	}
	if !known {
		return "", fmt.Errorf("%w: %s/%s", errors.ErrPromptNotFound, s.name, promptName)
	}

	result, err := conn.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{
			Name:      promptName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %w", errors.ErrPromptGenerationFailed, s.name, promptName, err)
	}
	if result == nil {
		return "", fmt.Errorf("%w: %s/%s: result was nil", errors.ErrPromptGenerationFailed, s.name, promptName)
	}

	return promptText(result), nil
}

// Ping checks the remote server is responsive. Health checks are not
// activity: the idle timer is deliberately not re-armed.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.RLock()
	connected := s.connected
	conn := s.conn
	s.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("%w: %s", errors.ErrNotConnected, s.name)
	}

	return conn.Ping(ctx)
}

func (s *Session) tryAcquire() bool {
	select {
	case s.tok <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.tok <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.tok
}

func (s *Session) currentConn() *Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.connected && s.conn != nil {
		return s.conn
	}

	return nil
}

// outcome reports the state left behind by the operation the caller waited on.
func (s *Session) outcome() (*Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.connected && s.conn != nil {
		return s.conn, nil
	}
	if s.lastErr != nil {
		return nil, s.lastErr
	}

	return nil, fmt.Errorf("%w: %s", errors.ErrNotConnected, s.name)
}

// fail records a connect failure as session state and returns the error.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.connected = false
	s.conn = nil
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error("Failed to connect to MCP server", "error", err)

	return err
}

func (s *Session) toolInfo(toolName string) (domain.ToolInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tools {
		if t.Name == toolName {
			return t, true
		}
	}

	return domain.ToolInfo{}, false
}

// validateToolArgs checks args against the tool's declared input schema.
// Tools without a schema, and schemas the validator cannot load, let the
// call through; the remote server stays the authority on its own inputs.
func (s *Session) validateToolArgs(info domain.ToolInfo, args map[string]any) error {
	if len(info.InputSchema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(info.InputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		s.logger.Warn("Could not validate tool arguments against schema", "tool", info.Name, "error", err)
		return nil
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("%w: %s/%s: %s", errors.ErrToolInvalidArgs, s.name, info.Name, strings.Join(details, "; "))
	}

	return nil
}

// armIdleTimer (re)schedules the idle auto-disconnect countdown.
func (s *Session) armIdleTimer() {
	if s.opts.IdleTimeout <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = s.clock.AfterFunc(s.opts.IdleTimeout, s.idleDisconnect)
}

func (s *Session) idleDisconnect() {
	s.logger.Info("Disconnecting idle MCP session", "idle", s.opts.IdleTimeout)
	_ = s.Disconnect(context.Background())
}

// terminate asks the child process to exit, then kills it if it is still
// alive after the grace period. Signal(0) probes liveness.
func (s *Session) terminate(proc *os.Process) {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}

	_ = s.clock.Sleep(context.Background(), termGracePeriod)

	if err := proc.Signal(syscall.Signal(0)); err == nil {
		s.logger.Warn("MCP server process ignored SIGTERM, killing")
		_ = proc.Kill()
	}
}

// closeWithTimeout races the transport close against the disconnect timeout.
// A close that overruns may still complete later; session state is already
// cleared, so a late completion cannot corrupt it.
func (s *Session) closeWithTimeout(conn *Conn) {
	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("Error closing MCP connection", "error", err)
		}
	case <-s.clock.After(s.opts.DisconnectTimeout):
		s.logger.Warn("Timed out closing MCP connection", "timeout", s.opts.DisconnectTimeout)
	}
}

func discoverTools(ctx context.Context, conn *Conn) ([]domain.ToolInfo, error) {
	result, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("tool list result was nil")
	}

	tools := make([]domain.ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		info := domain.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
		}
		if schema, err := json.Marshal(t.InputSchema); err == nil {
			info.InputSchema = schema
		}
		tools = append(tools, info)
	}

	return tools, nil
}

func discoverPrompts(ctx context.Context, conn *Conn) ([]domain.PromptInfo, error) {
	result, err := conn.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("prompt list result was nil")
	}

	prompts := make([]domain.PromptInfo, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		info := domain.PromptInfo{
			Name:        p.Name,
			Description: p.Description,
		}
		for _, arg := range p.Arguments {
			info.Arguments = append(info.Arguments, domain.PromptArgument{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		prompts = append(prompts, info)
	}

	return prompts, nil
}

// extractMessage attempts to extract a single message from content that is returned from a tool call.
func extractMessage(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			// The mcp-go library returns a slice of content items. For most
			// tools this is a single text item.
			return tc.Text
		}
	}

	return ""
}

// promptText flattens the rendered prompt messages into a single string.
func promptText(result *mcp.GetPromptResult) string {
	parts := make([]string, 0, len(result.Messages))
	for _, msg := range result.Messages {
		if tc, ok := msg.Content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	return strings.Join(parts, "\n")
}
