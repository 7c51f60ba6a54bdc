package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/contracts"
	"github.com/flowchat-ai/flowd/internal/domain"
	"github.com/flowchat-ai/flowd/internal/errors"
)

// Registry owns the set of live MCP sessions and keeps it reconciled against
// the persisted configuration store. At most one session exists per server
// name. NewRegistry should be used to create instances of Registry.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	logger hclog.Logger
	store  contracts.ConfigStore
	opts   Options
	dial   Dialer
	clock  Clock

	mu       sync.RWMutex // guards sessions
	sessions map[string]*Session

	initOnce   sync.Once
	refreshMu  sync.Mutex // serializes refreshes across all sessions
	refreshing atomic.Bool
	watcher    *Watcher
}

// NewRegistry creates a registry over the given persisted store. Init must be
// called before the registry serves traffic.
func NewRegistry(logger hclog.Logger, store contracts.ConfigStore, opt ...Option) (*Registry, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if store == nil {
		return nil, fmt.Errorf("config store cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	dial := opts.Dialer
	if dial == nil {
		dial = NewDialer(logger)
	}

	r := &Registry{
		logger:   logger.Named("registry"),
		store:    store,
		opts:     opts,
		dial:     dial,
		clock:    opts.Clock,
		sessions: make(map[string]*Session),
	}
	r.watcher = newWatcher(logger, store, r, opts)

	return r, nil
}

// Init connects every enabled server from the persisted store, staggered so
// that a large config does not open every connection at once, then starts the
// config watcher and the stale-session sweeper. Individual connect failures
// are recorded on their sessions, not returned; the daemon starts regardless.
// Init is idempotent; only the first call does work. The background loops
// stop when ctx is canceled.
func (r *Registry) Init(ctx context.Context) error {
	var initErr error

	r.initOnce.Do(func() {
		cfgs, err := r.store.LoadAll()
		if err != nil {
			initErr = fmt.Errorf("%w: %w", errors.ErrConfigLoadFailed, err)
			return
		}

		// Deterministic startup order.
		names := make([]string, 0, len(cfgs))
		for name := range cfgs {
			names = append(names, name)
		}
		sort.Strings(names)

		applied := make(map[string]config.ServerConfig, len(cfgs))
		for i, name := range names {
			if i > 0 && r.opts.StartupStagger > 0 {
				if err := r.clock.Sleep(ctx, r.opts.StartupStagger); err != nil {
					initErr = err
					return
				}
			}
			if _, err := r.addClient(ctx, name, cfgs[name]); err != nil {
				r.logger.Warn("Initial connect failed", "server", name, "error", err)
				continue
			}
			applied[name] = cfgs[name]
		}

		// Seed the watcher's fingerprints with the servers that connected, so
		// its first pass retries only the failures instead of reconnecting
		// everything a second time.
		r.watcher.seed(applied)
		r.watcher.start(ctx)

		go r.sweepLoop(ctx)

		r.logger.Info("Registry initialized", "servers", len(cfgs))
	})

	return initErr
}

// Infos returns a snapshot of every registered session, sorted by name.
func (r *Registry) Infos() []domain.ServerInfo {
	sessions := r.snapshot()

	infos := make([]domain.ServerInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos
}

// Info returns a snapshot of the named session.
func (r *Registry) Info(name string) (domain.ServerInfo, error) {
	s, err := r.session(name)
	if err != nil {
		return domain.ServerInfo{}, err
	}

	return s.Info(), nil
}

// AddClient registers and connects a session for the named server, replacing
// and disconnecting any session previously registered under that name. Adding
// a server that is already connected with an identical config is a no-op. If
// the connect fails, the session is deregistered again and the error
// propagates; a session that never connected does not linger in the map.
func (r *Registry) AddClient(ctx context.Context, name string, cfg config.ServerConfig) (domain.ServerInfo, error) {
	s, err := r.addClient(ctx, name, cfg)
	if s == nil {
		return domain.ServerInfo{}, err
	}

	// Record the config as applied so the next reconcile does not tear the
	// session down just to recreate it.
	r.watcher.markApplied(name, cfg)

	return s.Info(), err
}

func (r *Registry) addClient(ctx context.Context, name string, cfg config.ServerConfig) (*Session, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: server name cannot be empty", errors.ErrBadRequest)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrBadRequest, err)
	}

	r.mu.Lock()
	old := r.sessions[name]
	if old != nil && old.Config().Equal(cfg) && old.Info().Status == domain.ConnectionStatusConnected {
		r.mu.Unlock()
		// Identical config on a live connection: nothing to do.
		return old, nil
	}
	s := newSession(name, cfg, r.logger, r.dial, r.opts)
	r.sessions[name] = s
	r.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			r.logger.Warn("Failed to disconnect replaced session", "server", name, "error", err)
		}
	}

	if _, err := s.Connect(ctx); err != nil {
		// Deregister, unless another operation already replaced the entry.
		r.mu.Lock()
		if r.sessions[name] == s {
			delete(r.sessions, name)
		}
		r.mu.Unlock()

		return nil, err
	}

	return s, nil
}

// RemoveClient disconnects and deregisters the named session. Removing an
// unknown server is an error so callers can distinguish typos from no-ops.
func (r *Registry) RemoveClient(ctx context.Context, name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	delete(r.sessions, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
	}

	r.watcher.forget(name)

	return s.Disconnect(ctx)
}

// RefreshClient reconnects the named session, applying cfg when non-nil. A
// refresh of a connected session whose effective config is unchanged is a
// no-op. Refreshes are globally serialized: a refresh arriving while another
// is in flight is rejected and returns the existing session untouched rather
// than queuing up a reconnection storm.
func (r *Registry) RefreshClient(ctx context.Context, name string, cfg *config.ServerConfig) (domain.ServerInfo, error) {
	s, err := r.refreshClient(ctx, name, cfg)
	if s == nil {
		return domain.ServerInfo{}, err
	}

	if cfg != nil && s.Config().Equal(*cfg) {
		r.watcher.markApplied(name, *cfg)
	}

	return s.Info(), err
}

func (r *Registry) refreshClient(ctx context.Context, name string, cfg *config.ServerConfig) (*Session, error) {
	if !r.refreshMu.TryLock() {
		// Another refresh is in flight; leave the session as it is.
		return r.session(name)
	}
	defer r.refreshMu.Unlock()

	r.refreshing.Store(true)
	defer r.refreshing.Store(false)

	s, err := r.session(name)
	if err != nil {
		return nil, err
	}

	newCfg := s.Config()
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrBadRequest, err)
		}
		newCfg = *cfg
	}

	changed := !newCfg.Equal(s.Config())
	connected := s.Info().Status == domain.ConnectionStatusConnected

	// Nothing to refresh: the session is live and its config is current.
	if !changed && connected {
		return s, nil
	}

	if changed {
		if err := r.store.Save(name, newCfg); err != nil {
			return s, err
		}
	}

	// A live session is torn down first, with a pause before the reconnect;
	// an already-disconnected one is recreated directly.
	if connected || changed {
		if err := s.Disconnect(ctx); err != nil {
			return s, err
		}
		if err := r.clock.Sleep(ctx, r.opts.RefreshReconnectDelay); err != nil {
			return s, err
		}
	}

	// A fresh session clears the old one's failure counter along with its
	// connection state. The name stays registered even when the reconnect
	// fails; the fresh session records the error.
	fresh := newSession(name, newCfg, r.logger, r.dial, r.opts)

	r.mu.Lock()
	r.sessions[name] = fresh
	r.mu.Unlock()

	_, err = fresh.Connect(ctx)

	return fresh, err
}

// Tools aggregates the tools of every connected session under namespaced IDs.
// Sessions that are connecting, disconnected or failed contribute nothing.
func (r *Registry) Tools() map[string]domain.Tool {
	tools := make(map[string]domain.Tool)

	for _, s := range r.snapshot() {
		info := s.Info()
		if info.Status != domain.ConnectionStatusConnected {
			continue
		}

		for _, t := range info.Tools {
			s := s
			toolName := t.Name
			tools[CreateToolID(info.Name, t.Name)] = domain.Tool{
				ServerName: info.Name,
				Info:       t,
				Execute: func(ctx context.Context, args map[string]any) (string, error) {
					return s.CallTool(ctx, toolName, args)
				},
			}
		}
	}

	return tools
}

// Prompts aggregates the prompts of every connected session, keyed as
// "server/prompt".
func (r *Registry) Prompts() map[string]domain.Prompt {
	prompts := make(map[string]domain.Prompt)

	for _, s := range r.snapshot() {
		info := s.Info()
		if info.Status != domain.ConnectionStatusConnected {
			continue
		}

		for _, p := range info.Prompts {
			s := s
			promptName := p.Name
			prompts[info.Name+"/"+p.Name] = domain.Prompt{
				ServerName: info.Name,
				Info:       p,
				Execute: func(ctx context.Context, args map[string]string) (string, error) {
					return s.GetPrompt(ctx, promptName, args)
				},
			}
		}
	}

	return prompts
}

// ExecutePrompt renders the named prompt on the named server.
func (r *Registry) ExecutePrompt(ctx context.Context, serverName, promptName string, args map[string]string) (string, error) {
	s, err := r.session(serverName)
	if err != nil {
		return "", err
	}

	return s.GetPrompt(ctx, promptName, args)
}

// Ping checks the named session's remote server is responsive.
func (r *Registry) Ping(ctx context.Context, name string) error {
	s, err := r.session(name)
	if err != nil {
		return err
	}

	return s.Ping(ctx)
}

// Cleanup disconnects every session concurrently and empties the registry.
// The map is cleared before the disconnects run, so no caller can reach a
// session mid-teardown. Cleanup returns once all disconnects finish or the
// shutdown timeout elapses, whichever comes first.
func (r *Registry) Cleanup(ctx context.Context) {
	r.watcher.stop()

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.opts.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for name, s := range sessions {
		wg.Add(1)
		go func(name string, s *Session) {
			defer wg.Done()
			if err := s.Disconnect(ctx); err != nil {
				r.logger.Warn("Failed to disconnect during cleanup", "server", name, "error", err)
			}
		}(name, s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Registry cleanup complete", "servers", len(sessions))
	case <-ctx.Done():
		r.logger.Warn("Registry cleanup timed out", "timeout", r.opts.ShutdownTimeout)
	}
}

// Reconcile runs one reconciliation pass against the persisted store.
func (r *Registry) Reconcile(ctx context.Context) error {
	return r.watcher.Reconcile(ctx)
}

// Store returns the persisted store wrapped by the config watcher: mutations
// through it schedule a debounced reconcile. API handlers and CLI commands
// that change server configuration should go through this store.
func (r *Registry) Store() contracts.ConfigStore {
	return r.watcher
}

func (r *Registry) session(name string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
	}

	return s, nil
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}

// sweepLoop periodically removes sessions that have gone disconnected, so
// failed or idle-closed sessions do not accumulate between reconciles.
func (r *Registry) sweepLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.opts.SweepInterval):
			r.sweepStale()
		}
	}
}

// sweepStale removes disconnected sessions from the registry and drops their
// watcher fingerprints so the next reconcile can recreate them on demand. The
// sweep skips entirely while a refresh or reconcile is in flight; those
// operations disconnect sessions transiently and must not have them swept out
// from underneath.
func (r *Registry) sweepStale() {
	if r.refreshing.Load() || r.watcher.reconciling() {
		return
	}

	var removed []string

	r.mu.Lock()
	for name, s := range r.sessions {
		if s.Info().Status == domain.ConnectionStatusDisconnected {
			delete(r.sessions, name)
			removed = append(removed, name)
		}
	}
	r.mu.Unlock()

	for _, name := range removed {
		r.watcher.forget(name)
	}

	if len(removed) > 0 {
		r.logger.Debug("Swept stale sessions", "servers", removed)
	}
}
