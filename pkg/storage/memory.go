package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// Memory is an in-process implementation of Database and Telemetry. It backs
// unit tests and local development; production uses SQLite or Firestore.
type Memory struct {
	mu sync.Mutex

	settings        map[string]types.Settings
	settingsVersion map[string]int
	patterns        map[string]types.HabitPattern // by id
	patternByKey    map[types.PatternKey]string
	logs            []types.HabitLogEntry
	automations     map[string]types.Automation
	states          map[string]types.AutomationState
	cursors         map[string]time.Time
	samples         map[string][]types.StateSample // by user, appended in order
	power           map[string][]types.PowerSample // by user+"\x00"+metric
}

var (
	_ Database  = (*Memory)(nil)
	_ Telemetry = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		settings:        make(map[string]types.Settings),
		settingsVersion: make(map[string]int),
		patterns:        make(map[string]types.HabitPattern),
		patternByKey:    make(map[types.PatternKey]string),
		automations:     make(map[string]types.Automation),
		states:          make(map[string]types.AutomationState),
		cursors:         make(map[string]time.Time),
		samples:         make(map[string][]types.StateSample),
		power:           make(map[string][]types.PowerSample),
	}
}

func (m *Memory) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[userID].Normalize(), m.settingsVersion[userID], nil
}

func (m *Memory) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = settings
	m.settingsVersion[userID] = version
	return nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for u := range m.samples {
		seen[u] = true
	}
	for _, p := range m.patterns {
		seen[p.Key.UserID] = true
	}
	for _, a := range m.automations {
		seen[a.UserID] = true
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (m *Memory) UpdatePattern(ctx context.Context, key types.PatternKey, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var p types.HabitPattern
	id, exists := m.patternByKey[key]
	if exists {
		p = m.patterns[id]
	} else {
		p = types.HabitPattern{Key: key}
	}
	if err := fn(&p); err != nil {
		return types.HabitPattern{}, err
	}
	now := time.Now()
	if !exists {
		p.ID = uuid.NewString()
		p.CreatedAt = now
		m.patternByKey[key] = p.ID
	}
	p.UpdatedAt = now
	m.patterns[p.ID] = p
	return p, nil
}

func (m *Memory) UpdatePatternByID(ctx context.Context, id string, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patterns[id]
	if !ok {
		return types.HabitPattern{}, ErrNotFound
	}
	if err := fn(&p); err != nil {
		return types.HabitPattern{}, err
	}
	p.UpdatedAt = time.Now()
	m.patterns[id] = p
	return p, nil
}

func (m *Memory) GetPattern(ctx context.Context, id string) (types.HabitPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok {
		return types.HabitPattern{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPatterns(ctx context.Context, userID string) ([]types.HabitPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.HabitPattern
	for _, p := range m.patterns {
		if p.Key.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListActivePatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey, limit int) ([]types.HabitPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.HabitPattern
	for _, p := range m.patterns {
		if p.Key.UserID != userID || p.State != types.PatternActive {
			continue
		}
		if !p.Key.Trigger.Equal(trigger) {
			continue
		}
		if p.Key.Context != ck && p.Key.Context != types.ContextGlobal {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListPatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey) ([]types.HabitPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.HabitPattern
	for _, p := range m.patterns {
		if p.Key.UserID != userID || !p.Key.Trigger.Equal(trigger) {
			continue
		}
		if p.Key.Context != ck && p.Key.Context != types.ContextGlobal {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeletePattern(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.patterns, id)
	delete(m.patternByKey, p.Key)
	return nil
}

func (m *Memory) InsertHabitLog(ctx context.Context, entry types.HabitLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) ListHabitLogs(ctx context.Context, patternID string, limit int) ([]types.HabitLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.HabitLogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].PatternID == patternID {
			out = append(out, m.logs[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListAutomations(ctx context.Context, userID string) ([]types.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Automation
	for _, a := range m.automations {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetAutomation(ctx context.Context, id string) (types.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return types.Automation{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) CreateAutomation(ctx context.Context, a types.Automation) (types.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.automations[a.ID] = a
	return a, nil
}

func (m *Memory) UpdateAutomation(ctx context.Context, a types.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.automations[a.ID]; !ok {
		return ErrNotFound
	}
	m.automations[a.ID] = a
	return nil
}

func (m *Memory) DeleteAutomation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.automations[id]; !ok {
		return ErrNotFound
	}
	delete(m.automations, id)
	delete(m.states, id)
	return nil
}

func (m *Memory) GetAutomationState(ctx context.Context, id string) (types.AutomationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return types.AutomationState{LastState: types.StateIdle}, nil
	}
	return s, nil
}

func (m *Memory) SetAutomationState(ctx context.Context, id string, state types.AutomationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state
	return nil
}

func (m *Memory) GetMinerCursor(ctx context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[userID], nil
}

func (m *Memory) SetMinerCursor(ctx context.Context, userID string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[userID] = ts
	return nil
}

func (m *Memory) Close() error { return nil }

// AddStateSamples appends telemetry samples for a user. Test and seed helper;
// production telemetry is written by the ingestion subsystem.
func (m *Memory) AddStateSamples(userID string, samples ...types.StateSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[userID] = append(m.samples[userID], samples...)
}

// AddPowerSamples appends power-curve samples for a user and metric.
func (m *Memory) AddPowerSamples(userID, metric string, samples ...types.PowerSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + "\x00" + metric
	m.power[k] = append(m.power[k], samples...)
	sort.Slice(m.power[k], func(i, j int) bool { return m.power[k][i].Timestamp.Before(m.power[k][j].Timestamp) })
}

func (m *Memory) FetchStateChangesSince(ctx context.Context, userID string, since time.Time) ([]types.StateSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.StateSample
	for _, s := range m.samples[userID] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) FetchPowerSeries(ctx context.Context, userID, metric string, start, end time.Time) ([]types.PowerSample, *types.PowerSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PowerSample
	var prev *types.PowerSample
	for _, s := range m.power[userID+"\x00"+metric] {
		if s.Timestamp.Before(start) {
			cp := s
			prev = &cp
			continue
		}
		if s.Timestamp.After(end) {
			break
		}
		out = append(out, s)
	}
	return out, prev, nil
}

func (m *Memory) LatestStates(ctx context.Context, userID string) ([]types.StateSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]types.StateSample{}
	for _, s := range m.samples[userID] {
		k := s.Vendor + "\x00" + s.DeviceID
		if cur, ok := latest[k]; !ok || s.Timestamp.After(cur.Timestamp) {
			latest[k] = s
		}
	}
	out := make([]types.StateSample, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}
