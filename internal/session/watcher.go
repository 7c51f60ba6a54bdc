package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/contracts"
	internalerrors "github.com/flowchat-ai/flowd/internal/errors"
)

// Watcher keeps the registry's live sessions reconciled against the persisted
// store. It wraps the store so in-process mutations trigger a debounced
// reconcile, and polls the store so out-of-process edits are picked up within
// the poll interval. Changes are detected by diffing config fingerprints
// against the last applied set.
// It is safe for concurrent use by multiple goroutines.
type Watcher struct {
	logger   hclog.Logger
	store    contracts.ConfigStore
	registry *Registry
	opts     Options
	clock    Clock

	mu      sync.Mutex        // guards applied
	applied map[string]string // config fingerprint by server name, as last applied

	inFlight  atomic.Bool
	stopped   atomic.Bool
	debouncer *Debouncer
}

var _ contracts.ConfigStore = (*Watcher)(nil)

func newWatcher(logger hclog.Logger, store contracts.ConfigStore, registry *Registry, opts Options) *Watcher {
	w := &Watcher{
		logger:   logger.Named("watcher"),
		store:    store,
		registry: registry,
		opts:     opts,
		clock:    opts.Clock,
		applied:  make(map[string]string),
	}
	w.debouncer = NewDebouncer(opts.Clock, opts.DebounceDelay, func() {
		if err := w.Reconcile(context.Background()); err != nil {
			w.logger.Error("Reconcile failed", "error", err)
		}
	})

	return w
}

// LoadAll returns the enabled server configurations from the wrapped store.
func (w *Watcher) LoadAll() (map[string]config.ServerConfig, error) {
	return w.store.LoadAll()
}

// Save upserts the named server in the wrapped store and schedules a
// debounced reconcile.
func (w *Watcher) Save(name string, cfg config.ServerConfig) error {
	if err := w.store.Save(name, cfg); err != nil {
		return err
	}

	w.debouncer.Trigger()

	return nil
}

// Delete removes the named server from the wrapped store and schedules a
// debounced reconcile.
func (w *Watcher) Delete(name string) error {
	if err := w.store.Delete(name); err != nil {
		return err
	}

	w.debouncer.Trigger()

	return nil
}

// Has reports whether the wrapped store holds an entry for the named server.
func (w *Watcher) Has(name string) (bool, error) {
	return w.store.Has(name)
}

// Reconcile diffs the persisted store against the last applied set and
// converges the registry: new entries get sessions, changed entries are
// refreshed with their new config, removed entries are disconnected and
// deregistered. Unchanged entries are left untouched, live connections
// included. At most one reconcile runs at a time; overlapping calls return
// immediately.
func (w *Watcher) Reconcile(ctx context.Context) error {
	if w.stopped.Load() {
		return nil
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer w.inFlight.Store(false)

	cfgs, err := w.store.LoadAll()
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrConfigLoadFailed, err)
	}

	w.mu.Lock()
	applied := make(map[string]string, len(w.applied))
	for name, fp := range w.applied {
		applied[name] = fp
	}
	w.mu.Unlock()

	var added, changed, removed []string

	for name, cfg := range cfgs {
		fp, ok := applied[name]
		switch {
		case !ok:
			added = append(added, name)
		case fp != cfg.Fingerprint():
			changed = append(changed, name)
		}
	}
	for name := range applied {
		if _, ok := cfgs[name]; !ok {
			removed = append(removed, name)
		}
	}

	if len(added)+len(changed)+len(removed) == 0 {
		return nil
	}

	w.logger.Info("Reconciling servers", "added", added, "changed", changed, "removed", removed)

	for _, name := range removed {
		err := w.registry.RemoveClient(ctx, name)
		if err != nil && !errors.Is(err, internalerrors.ErrServerNotFound) {
			w.logger.Warn("Failed to remove server during reconcile", "server", name, "error", err)
			continue
		}
		w.markRemoved(name)
	}

	for _, name := range added {
		cfg := cfgs[name]
		if _, err := w.registry.addClient(ctx, name, cfg); err != nil {
			// A failed add leaves nothing registered and the fingerprint
			// unapplied, so the next pass retries it.
			w.logger.Warn("Failed to connect added server during reconcile", "server", name, "error", err)
			continue
		}
		w.markApplied(name, cfg)
	}

	for _, name := range changed {
		cfg := cfgs[name]
		s, err := w.registry.refreshClient(ctx, name, &cfg)
		if err != nil && s == nil && errors.Is(err, internalerrors.ErrServerNotFound) {
			// Swept out since the last pass; recreate instead.
			s, err = w.registry.addClient(ctx, name, cfg)
		}
		if err != nil {
			w.logger.Warn("Failed to refresh changed server during reconcile", "server", name, "error", err)
		}
		// Mark applied only when the registered session actually carries the
		// new config; a busy-rejected refresh keeps the old one.
		if s != nil && s.Config().Equal(cfg) {
			w.markApplied(name, cfg)
		}
	}

	return nil
}

// seed records cfgs as the applied set without touching the registry. Used
// after initial startup, when the sessions already mirror the store.
func (w *Watcher) seed(cfgs map[string]config.ServerConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for name, cfg := range cfgs {
		w.applied[name] = cfg.Fingerprint()
	}
}

// forget drops the applied fingerprint for a server, so the next reconcile
// treats a matching store entry as new.
func (w *Watcher) forget(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.applied, name)
}

func (w *Watcher) markApplied(name string, cfg config.ServerConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.applied[name] = cfg.Fingerprint()
}

func (w *Watcher) markRemoved(name string) {
	w.forget(name)
}

// start launches the poll loop. It stops when ctx is canceled.
func (w *Watcher) start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.clock.After(w.opts.PollInterval):
				if err := w.Reconcile(ctx); err != nil {
					w.logger.Error("Reconcile failed", "error", err)
				}
			}
		}
	}()
}

// stop cancels any pending debounced reconcile and makes further reconciles
// no-ops.
func (w *Watcher) stop() {
	w.stopped.Store(true)
	w.debouncer.Stop()
}

// reconciling reports whether a reconcile pass is currently in flight.
func (w *Watcher) reconciling() bool {
	return w.inFlight.Load()
}
