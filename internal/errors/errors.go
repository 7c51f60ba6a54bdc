// Package errors defines domain-level errors used throughout the application.
// These errors represent business logic failures and are mapped to appropriate HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/daemon/api_server.go)
// 2. Add a test case to TestMapError (internal/daemon/api_server_test.go)
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// This typically results from validation failures or incorrect request parameters.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrServerNotFound indicates that the requested MCP server does not exist or is not registered.
	// This occurs when trying to access operations on a server that hasn't been added.
	// Recommended to map to HTTP 404 Not Found.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerExists indicates that a persisted configuration entry already exists for the server name.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerExists = errors.New("server already exists")

	// ErrNotConnected indicates that an operation required a live connection and the session is not connected.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrNotConnected = errors.New("server not connected")

	// ErrConnectAttemptsExhausted indicates that the per-session cap on consecutive
	// failed connection attempts has been reached. The session stays disconnected
	// until it is explicitly added or refreshed again.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrConnectAttemptsExhausted = errors.New("connection attempts exhausted")

	// ErrToolNotFound indicates that the requested tool does not exist on the target server.
	// Recommended to map to HTTP 404 Not Found.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolInvalidArgs indicates that the supplied tool arguments failed validation
	// against the tool's declared input schema.
	// Recommended to map to HTTP 400 Bad Request.
	ErrToolInvalidArgs = errors.New("tool arguments invalid")

	// ErrToolCallFailed indicates that calling a tool on an MCP server failed.
	// This represents a communication or execution error with the external MCP server.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrToolCallFailedUnknown indicates that calling a tool failed for an unknown/unexpected reason.
	// This is used when the exact cause of the tool call failure cannot be determined.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolCallFailedUnknown = errors.New("tool call failed (unknown error)")

	// ErrToolListFailed indicates that listing tools from an MCP server failed.
	// This represents a communication or protocol error with the external MCP server.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolListFailed = errors.New("tool list failed")

	// ErrPromptNotFound indicates that the requested prompt does not exist on the target server.
	// Recommended to map to HTTP 404 Not Found.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrPromptGenerationFailed indicates that getting a prompt from an MCP server failed.
	// This represents a communication or protocol error with the external MCP server.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrPromptGenerationFailed = errors.New("prompt generation from template failed")

	// ErrHealthNotTracked indicates that health monitoring is not enabled for the specified server.
	// Recommended to map to HTTP 404 Not Found.
	ErrHealthNotTracked = errors.New("server health is not being tracked")

	// ErrConfigLoadFailed indicates that the persisted server configuration could not be loaded.
	ErrConfigLoadFailed = errors.New("config load failed")

	// ErrConfigSaveFailed indicates that the persisted server configuration could not be written.
	ErrConfigSaveFailed = errors.New("config save failed")
)
