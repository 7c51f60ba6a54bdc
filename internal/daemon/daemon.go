// Package daemon wires the session registry, the health tracker and the HTTP
// API into the long-running flowd process.
package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/flowchat-ai/flowd/internal/domain"
	"github.com/flowchat-ai/flowd/internal/session"
)

// Daemon supervises the MCP session registry and serves the HTTP API.
// NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	logger        hclog.Logger
	registry      *session.Registry
	apiServer     *APIServer
	healthTracker *HealthTracker
	opts          Options
}

// NewDaemon creates a daemon from the given dependencies and options.
func NewDaemon(deps Dependencies, opt ...Option) (*Daemon, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for daemon: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon options: %w", err)
	}

	healthTracker := NewHealthTracker(nil)

	apiDeps, err := NewAPIDependencies(
		deps.Logger,
		deps.Registry,
		healthTracker,
		deps.Registry.Store(),
		deps.APIAddr,
	)
	if err != nil {
		return nil, err
	}

	apiServer, err := NewAPIServer(apiDeps, opts.APIOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return &Daemon{
		logger:        deps.Logger.Named("daemon"),
		registry:      deps.Registry,
		apiServer:     apiServer,
		healthTracker: healthTracker,
		opts:          opts,
	}, nil
}

// StartAndManage connects the configured MCP servers, starts the API server
// and the health check loop, and blocks until ctx is canceled or a component
// fails. All sessions are disconnected before it returns.
func (d *Daemon) StartAndManage(ctx context.Context) error {
	if err := d.registry.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize session registry: %w", err)
	}

	defer func() {
		// ctx is already done by the time we get here; cleanup bounds itself
		// with the registry's shutdown timeout.
		d.registry.Cleanup(context.Background())
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.apiServer.Start(ctx)
	})

	g.Go(func() error {
		d.healthCheckLoop(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && !stdErrors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// healthCheckLoop pings every connected server on a fixed interval and
// records the results on the health tracker.
func (d *Daemon) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.HealthCheckInterval)
	defer ticker.Stop()

	d.pingAllServers(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping MCP server health checks")
			return
		case <-ticker.C:
			d.pingAllServers(ctx)
		}
	}
}

// pingAllServers checks each registered session once. Sessions that are not
// currently connected stay at their last recorded status; health checks never
// trigger a reconnect.
func (d *Daemon) pingAllServers(ctx context.Context) {
	infos := d.registry.Infos()

	current := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		current[info.Name] = struct{}{}
		d.healthTracker.Track(info.Name)

		if info.Status != domain.ConnectionStatusConnected {
			continue
		}

		go func(name string) {
			pingCtx, cancel := context.WithTimeout(ctx, d.opts.HealthCheckTimeout)
			defer cancel()

			start := time.Now()
			err := d.registry.Ping(pingCtx, name)
			latency := time.Since(start)

			var status domain.HealthStatus
			switch {
			case err == nil:
				status = domain.HealthStatusOK
			case stdErrors.Is(err, context.DeadlineExceeded):
				status = domain.HealthStatusTimeout
			default:
				status = domain.HealthStatusUnreachable
			}

			var recorded *time.Duration
			if err == nil {
				recorded = &latency
			} else {
				d.logger.Warn("Health check failed", "server", name, "status", status, "error", err)
			}

			if err := d.healthTracker.Update(name, status, recorded); err != nil {
				d.logger.Debug("Could not record health check", "server", name, "error", err)
			}
		}(info.Name)
	}

	// Drop records for servers removed from the registry.
	for _, record := range d.healthTracker.List() {
		if _, ok := current[record.Name]; !ok {
			d.healthTracker.Untrack(record.Name)
		}
	}
}
