package api

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"github.com/flowchat-ai/flowd/internal/contracts"
)

// APIVersion is the version used in the OpenAPI spec and URL paths.
const APIVersion = "v1"

// RegisterRoutes registers all API routes on the provided Huma router.
// This is the single source of truth for the API route structure.
// Returns the API path prefix (e.g. "/api/v1") under which the routes are created.
func RegisterRoutes(
	router huma.API,
	sessions contracts.SessionAccessor,
	store contracts.ConfigStore,
	monitor contracts.HealthMonitor,
) (string, error) {
	if router == nil || reflect.ValueOf(router).IsNil() {
		return "", fmt.Errorf("router cannot be nil")
	}
	if sessions == nil || reflect.ValueOf(sessions).IsNil() {
		return "", fmt.Errorf("session accessor cannot be nil")
	}
	if store == nil || reflect.ValueOf(store).IsNil() {
		return "", fmt.Errorf("config store cannot be nil")
	}
	if monitor == nil || reflect.ValueOf(monitor).IsNil() {
		return "", fmt.Errorf("health monitor cannot be nil")
	}

	// Safe way to ensure /api/{version}.
	apiPathPrefix, err := url.JoinPath("/api", APIVersion)
	if err != nil {
		return "", fmt.Errorf("failed to construct API path prefix: %w", err)
	}

	// Group all routes under the /api/{version} prefix.
	versionedGroup := huma.NewGroup(router, apiPathPrefix)
	RegisterServerRoutes(versionedGroup, sessions, store, "/servers")
	RegisterToolRoutes(versionedGroup, sessions, "/tools")
	RegisterPromptRoutes(versionedGroup, sessions, "/prompts")
	RegisterHealthRoutes(versionedGroup, monitor, "/health")

	return apiPathPrefix, nil
}
