package server

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/flowchat-ai/flowd/internal/config"
)

func seedListConfig(t *testing.T) {
	t.Helper()

	path := useTempConfig(t)
	store, err := config.NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save("time", config.ServerConfig{
		Type:    config.TransportStdio,
		Command: "uvx",
		Args:    []string{"mcp-server-time"},
	}))
	require.NoError(t, store.Save("remote", config.ServerConfig{
		Type: config.TransportSSE,
		URL:  "https://mcp.example.com/sse",
	}))
	require.NoError(t, store.SetEnabled("remote", false))
}

func TestServerList_Text(t *testing.T) {
	seedListConfig(t)

	var out bytes.Buffer
	c := NewListCmd(hclog.NewNullLogger())
	c.SetOut(&out)
	c.SetArgs(nil)

	require.NoError(t, c.Execute())

	got := out.String()
	require.Contains(t, got, "Configured servers (2):")

	// Sorted by name, disabled entries still listed and marked.
	require.Contains(t, got, "remote (sse) https://mcp.example.com/sse [disabled]")
	require.Contains(t, got, "time (stdio) uvx")
	require.Less(t, bytes.Index(out.Bytes(), []byte("remote")), bytes.Index(out.Bytes(), []byte("time")))
}

func TestServerList_JSON(t *testing.T) {
	seedListConfig(t)

	var out bytes.Buffer
	c := NewListCmd(hclog.NewNullLogger())
	c.SetOut(&out)
	c.SetArgs([]string{"--format", "json"})

	require.NoError(t, c.Execute())

	var payload struct {
		Results []config.ServerEntry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	require.Len(t, payload.Results, 2)
	require.Equal(t, "remote", payload.Results[0].Name)
	require.False(t, payload.Results[0].Enabled)
	require.Equal(t, "time", payload.Results[1].Name)
	require.True(t, payload.Results[1].Enabled)
}

func TestServerList_EmptyStore(t *testing.T) {
	useTempConfig(t)

	var out bytes.Buffer
	c := NewListCmd(hclog.NewNullLogger())
	c.SetOut(&out)
	c.SetArgs(nil)

	require.NoError(t, c.Execute())
	require.Contains(t, out.String(), "No items found")
}

func TestServerList_RejectsInvalidFormat(t *testing.T) {
	useTempConfig(t)

	c := NewListCmd(hclog.NewNullLogger())
	c.SetOut(&bytes.Buffer{})
	c.SetErr(&bytes.Buffer{})
	c.SetArgs([]string{"--format", "xml"})

	require.Error(t, c.Execute())
}
