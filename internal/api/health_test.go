package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowchat-ai/flowd/internal/domain"
	internalerrors "github.com/flowchat-ai/flowd/internal/errors"
)

func TestParseHealthStatus_ValidCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    domain.HealthStatus
		expected HealthStatus
	}{
		{
			"ok",
			domain.HealthStatusOK,
			HealthStatusOK,
		},
		{
			"timeout",
			domain.HealthStatusTimeout,
			HealthStatusTimeout,
		},
		{
			"unreachable",
			domain.HealthStatusUnreachable,
			HealthStatusUnreachable,
		},
		{
			"unknown",
			domain.HealthStatusUnknown,
			HealthStatusUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseHealthStatus(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestParseHealthStatus_InvalidCase(t *testing.T) {
	t.Parallel()

	input := domain.HealthStatus("invalid-status")
	_, err := parseHealthStatus(input)
	require.Error(t, err)
	require.EqualError(t, err, fmt.Sprintf("unknown health status: %s", input))
}

func TestAPI_DomainServerHealth_ToAPIType(t *testing.T) {
	t.Parallel()

	latency := 42 * time.Millisecond
	checked := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := DomainServerHealth(domain.ServerHealth{
		Name:           "time",
		Status:         domain.HealthStatusOK,
		Latency:        &latency,
		LastChecked:    &checked,
		LastSuccessful: &checked,
	}).ToAPIType()
	require.NoError(t, err)

	require.Equal(t, "time", got.Name)
	require.Equal(t, HealthStatusOK, got.Status)
	require.NotNil(t, got.Latency)
	require.Equal(t, "42ms", *got.Latency)
	require.Equal(t, &checked, got.LastChecked)
	require.Equal(t, &checked, got.LastSuccessful)
}

func TestAPI_DomainServerHealth_ToAPIType_NoLatency(t *testing.T) {
	t.Parallel()

	got, err := DomainServerHealth(domain.ServerHealth{
		Name:   "time",
		Status: domain.HealthStatusUnknown,
	}).ToAPIType()
	require.NoError(t, err)

	require.Nil(t, got.Latency)
	require.Nil(t, got.LastChecked)
	require.Nil(t, got.LastSuccessful)
}

func TestAPI_HandleHealthServers(t *testing.T) {
	t.Parallel()

	monitor := newMockHealthMonitor(
		domain.ServerHealth{Name: "fetch", Status: domain.HealthStatusOK},
		domain.ServerHealth{Name: "time", Status: domain.HealthStatusTimeout},
	)

	resp, err := handleHealthServers(monitor)
	require.NoError(t, err)
	require.Len(t, resp.Body.Servers, 2)
	require.Equal(t, "fetch", resp.Body.Servers[0].Name)
	require.Equal(t, HealthStatusOK, resp.Body.Servers[0].Status)
	require.Equal(t, "time", resp.Body.Servers[1].Name)
	require.Equal(t, HealthStatusTimeout, resp.Body.Servers[1].Status)
}

func TestAPI_HandleHealthServers_Empty(t *testing.T) {
	t.Parallel()

	resp, err := handleHealthServers(newMockHealthMonitor())
	require.NoError(t, err)
	require.NotNil(t, resp.Body.Servers)
	require.Empty(t, resp.Body.Servers)
}

func TestAPI_HandleHealthServer(t *testing.T) {
	t.Parallel()

	monitor := newMockHealthMonitor(
		domain.ServerHealth{Name: "time", Status: domain.HealthStatusUnreachable},
	)

	resp, err := handleHealthServer(monitor, "time")
	require.NoError(t, err)
	require.Equal(t, "time", resp.Body.Name)
	require.Equal(t, HealthStatusUnreachable, resp.Body.Status)
}

func TestAPI_HandleHealthServer_NotTracked(t *testing.T) {
	t.Parallel()

	_, err := handleHealthServer(newMockHealthMonitor(), "missing")
	require.Error(t, err)
	require.ErrorIs(t, err, internalerrors.ErrHealthNotTracked)
}
