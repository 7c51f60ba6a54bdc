package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/flowchat-ai/flowd/internal/contracts"
)

// APIDependencies contains the required external dependencies for the API server.
// NewAPIDependencies should be used to create instances of APIDependencies.
type APIDependencies struct {
	// Addr specifies the network address to bind (e.g. "0.0.0.0:8090").
	Addr string

	// Sessions exposes the registry of live MCP sessions.
	Sessions contracts.SessionAccessor

	// Health monitors server health status.
	Health contracts.HealthMonitor

	// Store persists server configurations; API mutations go through it so
	// changes survive restarts and trigger reconciliation.
	Store contracts.ConfigStore

	// Logger for API server operations.
	Logger hclog.Logger
}

// NewAPIDependencies creates and validates APIDependencies.
func NewAPIDependencies(
	logger hclog.Logger,
	sessions contracts.SessionAccessor,
	health contracts.HealthMonitor,
	store contracts.ConfigStore,
	addr string,
) (APIDependencies, error) {
	deps := APIDependencies{
		Addr:     addr,
		Sessions: sessions,
		Health:   health,
		Store:    store,
		Logger:   logger,
	}

	if err := deps.Validate(); err != nil {
		return APIDependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d APIDependencies) Validate() error {
	if err := validateAddr(d.Addr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.Addr, err)
	}
	if d.Sessions == nil || reflect.ValueOf(d.Sessions).IsNil() {
		return fmt.Errorf("session accessor cannot be nil")
	}
	if d.Health == nil || reflect.ValueOf(d.Health).IsNil() {
		return fmt.Errorf("health monitor cannot be nil")
	}
	if d.Store == nil || reflect.ValueOf(d.Store).IsNil() {
		return fmt.Errorf("config store cannot be nil")
	}
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}

	return nil
}
