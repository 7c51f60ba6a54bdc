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

// memStore is an in-memory contracts.ConfigStore.
type memStore struct {
	mu      sync.Mutex
	configs map[string]config.ServerConfig
	loadErr error
}

func newMemStore(configs map[string]config.ServerConfig) *memStore {
	if configs == nil {
		configs = make(map[string]config.ServerConfig)
	}
	return &memStore{configs: configs}
}

func (s *memStore) LoadAll() (map[string]config.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	out := make(map[string]config.ServerConfig, len(s.configs))
	for name, cfg := range s.configs {
		out[name] = cfg
	}
	return out, nil
}

func (s *memStore) Save(name string, cfg config.ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[name] = cfg
	return nil
}

func (s *memStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.configs, name)
	return nil
}

func (s *memStore) Has(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.configs[name]
	return ok, nil
}

func sseConfig(url string) config.ServerConfig {
	return config.ServerConfig{Type: config.TransportSSE, URL: url}
}

func newTestRegistry(t *testing.T, store *memStore, dial Dialer, opt ...Option) (*Registry, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	opts := append([]Option{
		WithClock(clock),
		WithDialer(dial),
		WithConnectCooldown(0),
		WithStartupStagger(0),
		WithRefreshReconnectDelay(0),
	}, opt...)

	r, err := NewRegistry(hclog.NewNullLogger(), store, opts...)
	require.NoError(t, err)

	return r, clock
}

func TestRegistry_InitConnectsAllStoredServers(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	store := newMemStore(map[string]config.ServerConfig{
		"alpha": testStdioConfig(),
		"beta":  sseConfig("http://localhost:9000/sse"),
	})

	r, _ := newTestRegistry(t, store, dialer.dial)
	require.NoError(t, r.Init(context.Background()))

	infos := r.Infos()
	require.Len(t, infos, 2)
	require.Equal(t, "alpha", infos[0].Name)
	require.Equal(t, "beta", infos[1].Name)
	for _, info := range infos {
		require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	}
	require.Equal(t, 2, dialer.dialCount())

	// Init is idempotent.
	require.NoError(t, r.Init(context.Background()))
	require.Equal(t, 2, dialer.dialCount())
}

func TestRegistry_InitSurvivesConnectFailures(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(nil, fmt.Errorf("connection refused"))
	dialer.push(&mockConn{}, nil)

	store := newMemStore(map[string]config.ServerConfig{
		"alpha": testStdioConfig(),
	})

	r, _ := newTestRegistry(t, store, dialer.dial)
	require.NoError(t, r.Init(context.Background()))

	// The failed server is not left registered.
	_, err := r.Info("alpha")
	require.ErrorIs(t, err, errors.ErrServerNotFound)

	// Its fingerprint was not seeded either, so the next reconcile retries it.
	require.NoError(t, r.Reconcile(context.Background()))

	info, err := r.Info("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
}

func TestRegistry_AddClientIdenticalConfigIsNoOp(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)
	first, err := r.session("alpha")
	require.NoError(t, err)

	info, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)

	// Same session instance, no second transport open.
	second, err := r.session("alpha")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, dialer.dialCount())
}

func TestRegistry_AddClientConnectFailureUnregisters(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(nil, fmt.Errorf("connection refused"))
	dialer.push(&mockConn{}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.ErrorContains(t, err, "connection refused")
	require.Empty(t, r.Infos())

	// The name is free again; a retry dials from scratch.
	info, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.Equal(t, 2, dialer.dialCount())
}

func TestRegistry_AddClientReplacesExisting(t *testing.T) {
	t.Parallel()

	oldConn := &mockConn{}
	newConn := &mockConn{tools: []mcp.Tool{forecastTool()}}
	dialer := &fakeDialer{}
	dialer.push(oldConn, nil)
	dialer.push(newConn, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	info, err := r.AddClient(context.Background(), "alpha", sseConfig("http://localhost:9000/sse"))
	require.NoError(t, err)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.Len(t, info.Tools, 1)

	// The replaced session's transport was closed, and only one session remains.
	require.Equal(t, 1, oldConn.closeCount())
	require.Len(t, r.Infos(), 1)
}

func TestRegistry_AddClientRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", config.ServerConfig{Type: config.TransportStdio})
	require.ErrorIs(t, err, errors.ErrBadRequest)

	_, err = r.AddClient(context.Background(), "", testStdioConfig())
	require.ErrorIs(t, err, errors.ErrBadRequest)

	require.Empty(t, r.Infos())
	require.Zero(t, dialer.dialCount())
}

func TestRegistry_RemoveClient(t *testing.T) {
	t.Parallel()

	conn := &mockConn{}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	require.NoError(t, r.RemoveClient(context.Background(), "alpha"))
	require.Equal(t, 1, conn.closeCount())
	require.Empty(t, r.Infos())

	require.ErrorIs(t, r.RemoveClient(context.Background(), "alpha"), errors.ErrServerNotFound)
}

func TestRegistry_RefreshClientUnchangedConnectedIsNoOp(t *testing.T) {
	t.Parallel()

	conn := &mockConn{}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	// A healthy session with a current config is left alone: no teardown, no
	// second dial.
	info, err := r.RefreshClient(context.Background(), "alpha", nil)
	require.NoError(t, err)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.Zero(t, conn.closeCount())
	require.Equal(t, 1, dialer.dialCount())
}

func TestRegistry_RefreshClientRecreatesDisconnected(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)
	dialer.push(&mockConn{tools: []mcp.Tool{forecastTool()}}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	s, err := r.session("alpha")
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(context.Background()))

	info, err := r.RefreshClient(context.Background(), "alpha", nil)
	require.NoError(t, err)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.Len(t, info.Tools, 1)
	require.Equal(t, 2, dialer.dialCount())

	// Config unchanged when none was supplied.
	require.Equal(t, testStdioConfig(), dialer.cfgs[1])
}

func TestRegistry_RefreshClientAppliesNewConfig(t *testing.T) {
	t.Parallel()

	oldConn := &mockConn{}
	dialer := &fakeDialer{}
	dialer.push(oldConn, nil)
	dialer.push(&mockConn{}, nil)

	store := newMemStore(nil)
	r, _ := newTestRegistry(t, store, dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	updated := sseConfig("http://localhost:9000/sse")
	info, err := r.RefreshClient(context.Background(), "alpha", &updated)
	require.NoError(t, err)
	require.Equal(t, updated, info.Config)
	require.Equal(t, updated, dialer.cfgs[1])
	require.Equal(t, 1, oldConn.closeCount())

	// A changed config is persisted as part of the refresh.
	require.Equal(t, updated, store.configs["alpha"])
}

func TestRegistry_RefreshClientBusyReturnsExisting(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	// With a refresh already in flight, another refresh is rejected and the
	// session stays untouched, new config included.
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	updated := sseConfig("http://localhost:9000/sse")
	info, err := r.RefreshClient(context.Background(), "alpha", &updated)
	require.NoError(t, err)
	require.Equal(t, testStdioConfig(), info.Config)
	require.Equal(t, domain.ConnectionStatusConnected, info.Status)
	require.Equal(t, 1, dialer.dialCount())
}

func TestRegistry_RefreshClientUnknownServer(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, newMemStore(nil), (&fakeDialer{}).dial)

	_, err := r.RefreshClient(context.Background(), "missing", nil)
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestRegistry_ToolsAggregatesOnlyConnected(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{tools: []mcp.Tool{forecastTool()}}, nil)
	dialer.push(nil, fmt.Errorf("connection refused"))

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "weather-server", testStdioConfig())
	require.NoError(t, err)
	_, err = r.AddClient(context.Background(), "broken", sseConfig("http://localhost:9001/sse"))
	require.Error(t, err)

	tools := r.Tools()
	require.Len(t, tools, 1)

	tool, ok := tools["weather-server_get_forecast"]
	require.True(t, ok)
	require.Equal(t, "weather-server", tool.ServerName)

	result, err := tool.Execute(context.Background(), map[string]any{"location": "Berlin"})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestRegistry_PromptsAggregatesOnlyConnected(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{prompts: []mcp.Prompt{{Name: "summarize"}}}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	prompts := r.Prompts()
	require.Len(t, prompts, 1)

	prompt, ok := prompts["alpha/summarize"]
	require.True(t, ok)

	text, err := prompt.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "rendered", text)
}

func TestRegistry_ExecutePrompt(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{prompts: []mcp.Prompt{{Name: "summarize"}}}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)

	text, err := r.ExecutePrompt(context.Background(), "alpha", "summarize", map[string]string{"topic": "weather"})
	require.NoError(t, err)
	require.Equal(t, "rendered", text)

	_, err = r.ExecutePrompt(context.Background(), "missing", "summarize", nil)
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestRegistry_CleanupDisconnectsEverything(t *testing.T) {
	t.Parallel()

	connA := &mockConn{}
	connB := &mockConn{}
	dialer := &fakeDialer{}
	dialer.push(connA, nil)
	dialer.push(connB, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alpha", testStdioConfig())
	require.NoError(t, err)
	_, err = r.AddClient(context.Background(), "beta", sseConfig("http://localhost:9000/sse"))
	require.NoError(t, err)

	r.Cleanup(context.Background())

	require.Empty(t, r.Infos())
	require.Equal(t, 1, connA.closeCount())
	require.Equal(t, 1, connB.closeCount())
}

func TestRegistry_CleanupClearsMapWhileDisconnectHangs(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)

	conn := &mockConn{closeBlock: block}
	dialer := &fakeDialer{}
	dialer.push(conn, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial,
		WithShutdownTimeout(50*time.Millisecond),
	)

	_, err := r.AddClient(context.Background(), "stuck", testStdioConfig())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.Cleanup(context.Background())
		close(done)
	}()

	// The map is cleared before the hung disconnect resolves; no caller can
	// observe a half-cleaned registry.
	require.Eventually(t, func() bool {
		return len(r.Infos()) == 0
	}, time.Second, 5*time.Millisecond)

	// Cleanup itself returns at the shutdown timeout despite the hang.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not return at the shutdown timeout")
	}
	require.Zero(t, conn.closeCount())
}

func TestRegistry_SweepRemovesDisconnectedSessions(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "alive", testStdioConfig())
	require.NoError(t, err)
	_, err = r.AddClient(context.Background(), "dead", sseConfig("http://localhost:9001/sse"))
	require.NoError(t, err)

	s, err := r.session("dead")
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(context.Background()))
	require.Len(t, r.Infos(), 2)

	r.sweepStale()

	infos := r.Infos()
	require.Len(t, infos, 1)
	require.Equal(t, "alive", infos[0].Name)
}

func TestRegistry_SweepSkipsDuringRefresh(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	r, _ := newTestRegistry(t, newMemStore(nil), dialer.dial)

	_, err := r.AddClient(context.Background(), "dead", testStdioConfig())
	require.NoError(t, err)

	s, err := r.session("dead")
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(context.Background()))

	r.refreshing.Store(true)
	r.sweepStale()
	require.Len(t, r.Infos(), 1)

	r.refreshing.Store(false)
	r.sweepStale()
	require.Empty(t, r.Infos())
}

func TestRegistry_InitStaggersStartup(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	dialer.push(&mockConn{}, nil)

	store := newMemStore(map[string]config.ServerConfig{
		"alpha": testStdioConfig(),
		"beta":  sseConfig("http://localhost:9000/sse"),
		"gamma": sseConfig("http://localhost:9001/sse"),
	})

	clock := newFakeClock()
	r, err := NewRegistry(hclog.NewNullLogger(), store,
		WithClock(clock),
		WithDialer(dialer.dial),
		WithStartupStagger(250*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, r.Init(context.Background()))

	// Two pauses for three servers.
	var staggers int
	for _, d := range clock.Sleeps() {
		if d == 250*time.Millisecond {
			staggers++
		}
	}
	require.Equal(t, 2, staggers)
}
