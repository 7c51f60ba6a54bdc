package api

import (
	"context"
	"fmt"
	"time"

	"github.com/flowchat-ai/flowd/internal/config"
	"github.com/flowchat-ai/flowd/internal/contracts"
	"github.com/flowchat-ai/flowd/internal/domain"
	internalerrors "github.com/flowchat-ai/flowd/internal/errors"
)

// mockSessionAccessor is a configurable contracts.SessionAccessor for handler tests.
type mockSessionAccessor struct {
	infos   []domain.ServerInfo
	tools   map[string]domain.Tool
	prompts map[string]domain.Prompt

	addErr     error
	removeErr  error
	refreshErr error

	addedName   string
	addedCfg    config.ServerConfig
	removedName string
	refreshName string
	refreshCfg  *config.ServerConfig

	promptResult string
	promptErr    error
}

var _ contracts.SessionAccessor = (*mockSessionAccessor)(nil)

func newMockSessionAccessor() *mockSessionAccessor {
	return &mockSessionAccessor{
		tools:   map[string]domain.Tool{},
		prompts: map[string]domain.Prompt{},
	}
}

func (m *mockSessionAccessor) Infos() []domain.ServerInfo {
	return m.infos
}

func (m *mockSessionAccessor) Info(name string) (domain.ServerInfo, error) {
	for _, info := range m.infos {
		if info.Name == name {
			return info, nil
		}
	}
	return domain.ServerInfo{}, fmt.Errorf("%w: %s", internalerrors.ErrServerNotFound, name)
}

func (m *mockSessionAccessor) AddClient(
	_ context.Context,
	name string,
	cfg config.ServerConfig,
) (domain.ServerInfo, error) {
	m.addedName = name
	m.addedCfg = cfg
	if m.addErr != nil {
		return domain.ServerInfo{}, m.addErr
	}
	return domain.ServerInfo{Name: name, Config: cfg, Status: domain.ConnectionStatusConnected}, nil
}

func (m *mockSessionAccessor) RemoveClient(_ context.Context, name string) error {
	m.removedName = name
	return m.removeErr
}

func (m *mockSessionAccessor) RefreshClient(
	_ context.Context,
	name string,
	cfg *config.ServerConfig,
) (domain.ServerInfo, error) {
	m.refreshName = name
	m.refreshCfg = cfg
	if m.refreshErr != nil {
		return domain.ServerInfo{}, m.refreshErr
	}
	info, err := m.Info(name)
	if err != nil {
		return domain.ServerInfo{}, err
	}
	return info, nil
}

func (m *mockSessionAccessor) Tools() map[string]domain.Tool {
	return m.tools
}

func (m *mockSessionAccessor) Prompts() map[string]domain.Prompt {
	return m.prompts
}

func (m *mockSessionAccessor) ExecutePrompt(
	_ context.Context,
	serverName string,
	promptName string,
	_ map[string]string,
) (string, error) {
	if m.promptErr != nil {
		return "", m.promptErr
	}
	if _, ok := m.prompts[serverName+"/"+promptName]; !ok {
		return "", fmt.Errorf("%w: %s/%s", internalerrors.ErrPromptNotFound, serverName, promptName)
	}
	return m.promptResult, nil
}

// mockConfigStore records mutations for handler tests.
type mockConfigStore struct {
	configs map[string]config.ServerConfig

	saveErr   error
	deleteErr error

	savedName   string
	deletedName string
}

var _ contracts.ConfigStore = (*mockConfigStore)(nil)

func newMockConfigStore() *mockConfigStore {
	return &mockConfigStore{configs: map[string]config.ServerConfig{}}
}

func (m *mockConfigStore) LoadAll() (map[string]config.ServerConfig, error) {
	out := make(map[string]config.ServerConfig, len(m.configs))
	for name, cfg := range m.configs {
		out[name] = cfg
	}
	return out, nil
}

func (m *mockConfigStore) Save(name string, cfg config.ServerConfig) error {
	m.savedName = name
	if m.saveErr != nil {
		return m.saveErr
	}
	m.configs[name] = cfg
	return nil
}

func (m *mockConfigStore) Delete(name string) error {
	m.deletedName = name
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.configs, name)
	return nil
}

func (m *mockConfigStore) Has(name string) (bool, error) {
	_, ok := m.configs[name]
	return ok, nil
}

// mockHealthMonitor serves canned health records for handler tests.
type mockHealthMonitor struct {
	records map[string]domain.ServerHealth
	order   []string
}

var _ contracts.HealthMonitor = (*mockHealthMonitor)(nil)

func newMockHealthMonitor(records ...domain.ServerHealth) *mockHealthMonitor {
	m := &mockHealthMonitor{records: map[string]domain.ServerHealth{}}
	for _, r := range records {
		m.records[r.Name] = r
		m.order = append(m.order, r.Name)
	}
	return m
}

func (m *mockHealthMonitor) Status(name string) (domain.ServerHealth, error) {
	health, ok := m.records[name]
	if !ok {
		return domain.ServerHealth{}, fmt.Errorf("%w: %s", internalerrors.ErrHealthNotTracked, name)
	}
	return health, nil
}

func (m *mockHealthMonitor) List() []domain.ServerHealth {
	out := make([]domain.ServerHealth, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.records[name])
	}
	return out
}

func (m *mockHealthMonitor) Update(name string, status domain.HealthStatus, latency *time.Duration) error {
	health := m.records[name]
	health.Name = name
	health.Status = status
	health.Latency = latency
	m.records[name] = health
	return nil
}
