// Package config defines the MCP server configuration model and the
// file-backed store that persists it.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// TransportStdio runs the MCP server as a child process speaking over stdio.
	TransportStdio Transport = "stdio"

	// TransportSSE connects to a remote MCP server over an HTTP event stream.
	TransportSSE Transport = "sse"
)

// Transport is the discriminant selecting how a server connection is established.
type Transport string

// ServerConfig describes a single MCP server connection.
// It is a tagged union: Type selects the transport, and only the fields
// belonging to that transport may be set. A ServerConfig is immutable once
// assigned to a session; changing a server's configuration means creating a
// new session for it.
type ServerConfig struct {
	Type Transport `json:"type" toml:"type"`

	// Stdio transport fields.
	Command string            `json:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty"    toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"     toml:"env,omitempty"`

	// SSE transport fields.
	URL     string            `json:"url,omitempty"     toml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers,omitempty"`
}

// Validate checks that the config is internally consistent for its transport.
func (c ServerConfig) Validate() error {
	switch c.Type {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("stdio config requires a command")
		}
		if c.URL != "" || len(c.Headers) > 0 {
			return fmt.Errorf("stdio config cannot set sse fields (url, headers)")
		}
	case TransportSSE:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("sse config requires a url")
		}
		if _, err := url.ParseRequestURI(strings.TrimSpace(c.URL)); err != nil {
			return fmt.Errorf("sse config url invalid: %w", err)
		}
		if c.Command != "" || len(c.Args) > 0 || len(c.Env) > 0 {
			return fmt.Errorf("sse config cannot set stdio fields (command, args, env)")
		}
	case "":
		return fmt.Errorf("config requires a transport type (%q or %q)", TransportStdio, TransportSSE)
	default:
		return fmt.Errorf("unknown transport type: %q", c.Type)
	}

	return nil
}

// Fingerprint returns a stable hash of the config, used to detect changes
// without comparing field by field. encoding/json sorts map keys, so the
// serialized form is canonical.
func (c ServerConfig) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Marshaling a plain struct of strings and maps cannot fail at runtime.
		return fmt.Sprintf("unserializable: %v", err)
	}

	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Equal reports whether two configs would produce the same connection.
func (c ServerConfig) Equal(other ServerConfig) bool {
	return c.Fingerprint() == other.Fingerprint()
}

// ServerEntry is a single persisted row in the store: a named, toggleable
// server configuration.
type ServerEntry struct {
	// Name is the unique key the registry uses for this server.
	Name string `json:"name" toml:"name"`

	// Enabled controls whether the server participates in reconciliation.
	// Disabled entries are treated as absent by LoadAll.
	Enabled bool `json:"enabled" toml:"enabled"`

	// Config is the connection configuration for the server.
	Config ServerConfig `json:"config" toml:"config"`
}

// Validate checks the entry and its embedded config.
func (e ServerEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("server entry requires a name")
	}
	if err := e.Config.Validate(); err != nil {
		return fmt.Errorf("server %q: %w", e.Name, err)
	}

	return nil
}
