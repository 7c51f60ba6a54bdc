package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/domain"
	"github.com/flowchat-ai/flowd/internal/errors"
)

// mockConn is a test implementation of contracts.MCPConn.
type mockConn struct {
	mu             sync.Mutex
	initErr        error
	pingErr        error
	tools          []mcp.Tool
	listToolsErr   error
	prompts        []mcp.Prompt
	listPromptsErr error
	callResult     *mcp.CallToolResult
	callErr        error
	promptResult   *mcp.GetPromptResult
	promptErr      error
	lastCall       mcp.CallToolRequest
	closeBlock     chan struct{} // when set, Close blocks until it is closed
	closed         int
}

func (m *mockConn) Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.initErr != nil {
		return nil, m.initErr
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockConn) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockConn) ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.listToolsErr != nil {
		return nil, m.listToolsErr
	}
	return &mcp.ListToolsResult{Tools: m.tools}, nil
}

func (m *mockConn) ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	if m.listPromptsErr != nil {
		return nil, m.listPromptsErr
	}
	return &mcp.ListPromptsResult{Prompts: m.prompts}, nil
}

func (m *mockConn) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	m.lastCall = request
	m.mu.Unlock()

	if m.callErr != nil {
		return nil, m.callErr
	}
	if m.callResult != nil {
		return m.callResult, nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (m *mockConn) GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if m.promptErr != nil {
		return nil, m.promptErr
	}
	if m.promptResult != nil {
		return m.promptResult, nil
	}
	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: "rendered"}},
		},
	}, nil
}

func (m *mockConn) Close() error {
	if m.closeBlock != nil {
		<-m.closeBlock
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed++
	return nil
}

func (m *mockConn) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// fakeDialer serves a queue of dial outcomes; once the queue is exhausted the
// last outcome repeats.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	calls    int
	cfgs     []config.ServerConfig
}

type dialOutcome struct {
	conn *mockConn
	err  error
}

func (d *fakeDialer) push(conn *mockConn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.outcomes = append(d.outcomes, dialOutcome{conn: conn, err: err})
}

func (d *fakeDialer) dial(ctx context.Context, cfg config.ServerConfig) (*Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.cfgs = append(d.cfgs, cfg)

	if len(d.outcomes) == 0 {
		return nil, fmt.Errorf("no dial outcome configured")
	}

	outcome := d.outcomes[0]
	if len(d.outcomes) > 1 {
		d.outcomes = d.outcomes[1:]
	}
	if outcome.err != nil {
		return nil, outcome.err
	}

	return &Conn{MCPConn: outcome.conn}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

func testStdioConfig() config.ServerConfig {
	return config.ServerConfig{
		Type:    config.TransportStdio,
		Command: "fake-mcp-server",
	}
}

func forecastTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_forecast",
		Description: "Returns the forecast for a location",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"location": map[string]any{"type": "string"},
			},
			Required: []string{"location"},
		},
	}
}

func newTestSession(t *testing.T, dial Dialer, opt ...Option) (*Session, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	opts, err := NewOptions(append([]Option{WithClock(clock), WithDialer(dial)}, opt...)...)
	require.NoError(t, err)

	return newSession("weather-server", testStdioConfig(), hclog.NewNullLogger(), dial, opts), clock
}

func TestSession_ConnectDiscoversToolsAndPrompts(t *testing.T) {
	t.Parallel()

	conn := &mockConn{
		tools:   []mcp.Tool{forecastTool()},
		prompts: []mcp.Prompt{{Name: "summarize", Description: "Summarize a report"}},
	}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	info := s.Info()
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.NoError(t, info.Err)
	require.Len(t, info.Tools, 1)
	require.Equal(t, "get_forecast", info.Tools[0].Name)
	require.NotEmpty(t, info.Tools[0].InputSchema)
	require.Len(t, info.Prompts, 1)
	require.Equal(t, "summarize", info.Prompts[0].Name)
}

func TestSession_ConnectIsIdempotentWhileConnected(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	s, _ := newTestSession(t, dialer.dial)

	first, err := s.Connect(context.Background())
	require.NoError(t, err)

	second, err := s.Connect(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, dialer.dialCount())
}

func TestSession_ConnectFailureIsRecorded(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(nil, fmt.Errorf("connection refused"))

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.Error(t, err)

	info := s.Info()
	require.Equal(t, domain.ConnectionStatusDisconnected, info.Status)
	require.ErrorContains(t, info.Err, "connection refused")
}

func TestSession_ConnectWaitsOutCooldown(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(nil, fmt.Errorf("connection refused"))
	dialer.push(&mockConn{}, nil)

	s, clock := newTestSession(t, dialer.dial, WithConnectCooldown(10*time.Second))

	_, err := s.Connect(context.Background())
	require.Error(t, err)

	// Immediate retry: the full cooldown must be slept out first.
	_, err = s.Connect(context.Background())
	require.NoError(t, err)
	require.Contains(t, clock.Sleeps(), 10*time.Second)
	require.Equal(t, 2, dialer.dialCount())
}

func TestSession_ConnectRefusesAfterAttemptCap(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(nil, fmt.Errorf("connection refused"))

	s, _ := newTestSession(t, dialer.dial,
		WithConnectCooldown(0),
		WithMaxConnectAttempts(2),
	)

	ctx := context.Background()
	_, err := s.Connect(ctx)
	require.ErrorContains(t, err, "connection refused")
	_, err = s.Connect(ctx)
	require.ErrorContains(t, err, "connection refused")

	// Cap reached: fails before dialing.
	_, err = s.Connect(ctx)
	require.ErrorIs(t, err, errors.ErrConnectAttemptsExhausted)
	require.Equal(t, 2, dialer.dialCount())
}

func TestSession_AttemptWindowResetsFailureCount(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(nil, fmt.Errorf("connection refused"))
	dialer.push(nil, fmt.Errorf("connection refused"))
	dialer.push(&mockConn{}, nil)

	s, clock := newTestSession(t, dialer.dial,
		WithConnectCooldown(0),
		WithMaxConnectAttempts(2),
		WithAttemptWindow(time.Minute),
	)

	ctx := context.Background()
	_, err := s.Connect(ctx)
	require.Error(t, err)
	_, err = s.Connect(ctx)
	require.Error(t, err)
	_, err = s.Connect(ctx)
	require.ErrorIs(t, err, errors.ErrConnectAttemptsExhausted)

	clock.Advance(2 * time.Minute)

	_, err = s.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, dialer.dialCount())
}

func TestSession_InitializeFailureClosesTransport(t *testing.T) {
	t.Parallel()

	conn := &mockConn{initErr: fmt.Errorf("handshake rejected")}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.ErrorContains(t, err, "handshake rejected")
	require.Equal(t, 1, conn.closeCount())
}

func TestSession_ToolListFailureIsFatal(t *testing.T) {
	t.Parallel()

	conn := &mockConn{listToolsErr: fmt.Errorf("not supported")}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.ErrorIs(t, err, errors.ErrToolListFailed)
	require.Equal(t, 1, conn.closeCount())
	require.Equal(t, domain.ConnectionStatusDisconnected, s.Info().Status)
}

func TestSession_PromptListFailureIsTolerated(t *testing.T) {
	t.Parallel()

	conn := &mockConn{
		tools:          []mcp.Tool{forecastTool()},
		listPromptsErr: fmt.Errorf("prompts not supported"),
	}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	info := s.Info()
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.Len(t, info.Tools, 1)
	require.Empty(t, info.Prompts)
}

func TestSession_DisconnectClearsState(t *testing.T) {
	t.Parallel()

	conn := &mockConn{tools: []mcp.Tool{forecastTool()}}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(context.Background()))
	require.Equal(t, 1, conn.closeCount())

	info := s.Info()
	require.Equal(t, domain.ConnectionStatusDisconnected, info.Status)
	require.Empty(t, info.Tools)
	require.Empty(t, info.Prompts)

	// Disconnecting again is a no-op.
	require.NoError(t, s.Disconnect(context.Background()))
	require.Equal(t, 1, conn.closeCount())
}

func TestSession_IdleTimeoutDisconnects(t *testing.T) {
	t.Parallel()

	conn := &mockConn{}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, clock := newTestSession(t, dialer.dial, WithIdleTimeout(time.Hour))

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	require.Equal(t, domain.ConnectionStatusConnected, s.Info().Status)

	clock.Advance(time.Minute)
	require.Equal(t, domain.ConnectionStatusDisconnected, s.Info().Status)
	require.Equal(t, 1, conn.closeCount())
}

func TestSession_CallToolReArmsIdleTimer(t *testing.T) {
	t.Parallel()

	conn := &mockConn{tools: []mcp.Tool{forecastTool()}}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, clock := newTestSession(t, dialer.dial, WithIdleTimeout(time.Hour))

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)

	_, err = s.CallTool(context.Background(), "get_forecast", map[string]any{"location": "Berlin"})
	require.NoError(t, err)

	// The call reset the countdown; the original deadline passes harmlessly.
	clock.Advance(2 * time.Minute)
	require.Equal(t, domain.ConnectionStatusConnected, s.Info().Status)

	clock.Advance(time.Hour)
	require.Equal(t, domain.ConnectionStatusDisconnected, s.Info().Status)
}

func TestSession_CallToolConnectsImplicitly(t *testing.T) {
	t.Parallel()

	conn := &mockConn{tools: []mcp.Tool{forecastTool()}}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	result, err := s.CallTool(context.Background(), "get_forecast", map[string]any{"location": "Berlin"})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 1, dialer.dialCount())
}

func TestSession_CallToolUnknownTool(t *testing.T) {
	t.Parallel()

	conn := &mockConn{tools: []mcp.Tool{forecastTool()}}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.CallTool(context.Background(), "no_such_tool", nil)
	require.ErrorIs(t, err, errors.ErrToolNotFound)
}

func TestSession_CallToolValidatesArguments(t *testing.T) {
	t.Parallel()

	conn := &mockConn{tools: []mcp.Tool{forecastTool()}}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.CallTool(context.Background(), "get_forecast", map[string]any{})
	require.ErrorIs(t, err, errors.ErrToolInvalidArgs)
	require.ErrorContains(t, err, "location")

	result, err := s.CallTool(context.Background(), "get_forecast", map[string]any{"location": "Berlin"})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestSession_CallToolSurfacesToolError(t *testing.T) {
	t.Parallel()

	conn := &mockConn{
		tools:      []mcp.Tool{forecastTool()},
		callResult: mcp.NewToolResultError("upstream API unavailable"),
	}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.CallTool(context.Background(), "get_forecast", map[string]any{"location": "Berlin"})
	require.ErrorIs(t, err, errors.ErrToolCallFailed)
	require.ErrorContains(t, err, "upstream API unavailable")
}

func TestSession_GetPromptRequiresConnection(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.GetPrompt(context.Background(), "summarize", nil)
	require.ErrorIs(t, err, errors.ErrNotConnected)
	require.Zero(t, dialer.dialCount())
}

func TestSession_GetPromptRendersMessages(t *testing.T) {
	t.Parallel()

	conn := &mockConn{
		prompts: []mcp.Prompt{{Name: "summarize"}},
	}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	s, _ := newTestSession(t, dialer.dial)

	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	text, err := s.GetPrompt(context.Background(), "summarize", map[string]string{"topic": "weather"})
	require.NoError(t, err)
	require.Equal(t, "rendered", text)

	_, err = s.GetPrompt(context.Background(), "no_such_prompt", nil)
	require.ErrorIs(t, err, errors.ErrPromptNotFound)
}

func TestSession_PingRequiresConnection(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	s, _ := newTestSession(t, dialer.dial)

	require.ErrorIs(t, s.Ping(context.Background()), errors.ErrNotConnected)

	_, err := s.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
}

func TestSession_InfoReportsConnectingWhileBusy(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	s, _ := newTestSession(t, dialer.dial)

	require.True(t, s.tryAcquire())
	require.Equal(t, domain.ConnectionStatusConnecting, s.Info().Status)
	s.release()

	require.Equal(t, domain.ConnectionStatusDisconnected, s.Info().Status)
}

func TestSession_ConcurrentConnectsDialOnce(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	s, _ := newTestSession(t, dialer.dial)

	errs := make(chan error, 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Connect(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 1, dialer.dialCount())
	require.Equal(t, domain.ConnectionStatusConnected, s.Info().Status)
}
