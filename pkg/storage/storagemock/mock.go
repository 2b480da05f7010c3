package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
}

func (m *MockDatabase) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	args := m.Called(ctx, userID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) ListUsers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]string)
	return users, args.Error(1)
}

func (m *MockDatabase) UpdatePattern(ctx context.Context, key types.PatternKey, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	args := m.Called(ctx, key, fn)
	return args.Get(0).(types.HabitPattern), args.Error(1)
}

func (m *MockDatabase) UpdatePatternByID(ctx context.Context, id string, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	args := m.Called(ctx, id, fn)
	return args.Get(0).(types.HabitPattern), args.Error(1)
}

func (m *MockDatabase) GetPattern(ctx context.Context, id string) (types.HabitPattern, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.HabitPattern), args.Error(1)
}

func (m *MockDatabase) ListPatterns(ctx context.Context, userID string) ([]types.HabitPattern, error) {
	args := m.Called(ctx, userID)
	patterns, _ := args.Get(0).([]types.HabitPattern)
	return patterns, args.Error(1)
}

func (m *MockDatabase) ListActivePatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey, limit int) ([]types.HabitPattern, error) {
	args := m.Called(ctx, userID, trigger, ck, limit)
	patterns, _ := args.Get(0).([]types.HabitPattern)
	return patterns, args.Error(1)
}

func (m *MockDatabase) ListPatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey) ([]types.HabitPattern, error) {
	args := m.Called(ctx, userID, trigger, ck)
	patterns, _ := args.Get(0).([]types.HabitPattern)
	return patterns, args.Error(1)
}

func (m *MockDatabase) DeletePattern(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatabase) InsertHabitLog(ctx context.Context, entry types.HabitLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) ListHabitLogs(ctx context.Context, patternID string, limit int) ([]types.HabitLogEntry, error) {
	args := m.Called(ctx, patternID, limit)
	logs, _ := args.Get(0).([]types.HabitLogEntry)
	return logs, args.Error(1)
}

func (m *MockDatabase) ListAutomations(ctx context.Context, userID string) ([]types.Automation, error) {
	args := m.Called(ctx, userID)
	automations, _ := args.Get(0).([]types.Automation)
	return automations, args.Error(1)
}

func (m *MockDatabase) GetAutomation(ctx context.Context, id string) (types.Automation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Automation), args.Error(1)
}

func (m *MockDatabase) CreateAutomation(ctx context.Context, a types.Automation) (types.Automation, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(types.Automation), args.Error(1)
}

func (m *MockDatabase) UpdateAutomation(ctx context.Context, a types.Automation) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockDatabase) DeleteAutomation(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatabase) GetAutomationState(ctx context.Context, id string) (types.AutomationState, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.AutomationState), args.Error(1)
}

func (m *MockDatabase) SetAutomationState(ctx context.Context, id string, state types.AutomationState) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}

func (m *MockDatabase) GetMinerCursor(ctx context.Context, userID string) (time.Time, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockDatabase) SetMinerCursor(ctx context.Context, userID string, ts time.Time) error {
	args := m.Called(ctx, userID, ts)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockTelemetry struct {
	mock.Mock
}

var _ storage.Telemetry = (*MockTelemetry)(nil)

func (m *MockTelemetry) FetchStateChangesSince(ctx context.Context, userID string, since time.Time) ([]types.StateSample, error) {
	args := m.Called(ctx, userID, since)
	samples, _ := args.Get(0).([]types.StateSample)
	return samples, args.Error(1)
}

func (m *MockTelemetry) FetchPowerSeries(ctx context.Context, userID, metric string, start, end time.Time) ([]types.PowerSample, *types.PowerSample, error) {
	args := m.Called(ctx, userID, metric, start, end)
	samples, _ := args.Get(0).([]types.PowerSample)
	prev, _ := args.Get(1).(*types.PowerSample)
	return samples, prev, args.Error(2)
}

func (m *MockTelemetry) LatestStates(ctx context.Context, userID string) ([]types.StateSample, error) {
	args := m.Called(ctx, userID)
	samples, _ := args.Get(0).([]types.StateSample)
	return samples, args.Error(1)
}
