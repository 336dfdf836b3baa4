package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// Memory is an in-process Store, used in tests and as the composition
// root's fallback when no Postgres DSN is configured (mirrors
// cmd/vaultaire/main.go's "run without intelligence" degrade path).
type Memory struct {
	mu sync.RWMutex

	instances      map[string]*model.Instance
	groups         map[int64]*model.ProviderGroup
	healthEvents   []*model.HealthEvent
	requestLogs    []*model.RequestLog
	scalingEvents  []*model.ScalingEvent
	nextGroupID    int64
	nextScalingID  int64
}

func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]*model.Instance),
		groups:    make(map[int64]*model.ProviderGroup),
	}
}

func (m *Memory) UpsertInstance(_ context.Context, in *model.Instance) error {
	cp := *in
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[in.InstanceID] = &cp
	return nil
}

func (m *Memory) GetInstance(_ context.Context, instanceID string) (*model.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[instanceID]
	if !ok {
		return nil, ctrlerr.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *Memory) ListInstances(_ context.Context, filter InstanceFilter) ([]*model.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Instance
	for _, in := range m.instances {
		if filter.Provider != "" && in.Provider != filter.Provider {
			continue
		}
		if filter.Status != "" && in.Status != filter.Status {
			continue
		}
		if filter.IsHealthy != nil && in.IsHealthy != *filter.IsHealthy {
			continue
		}
		cp := *in
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })

	if filter.PageSize > 0 {
		start := filter.Page * filter.PageSize
		if start >= len(out) {
			return []*model.Instance{}, nil
		}
		end := start + filter.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (m *Memory) AppendHealthEvent(_ context.Context, ev *model.HealthEvent) error {
	cp := *ev
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthEvents = append(m.healthEvents, &cp)
	return nil
}

func (m *Memory) RangeHealthEvents(_ context.Context, instanceID string, since time.Time) ([]*model.HealthEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.HealthEvent
	for _, ev := range m.healthEvents {
		if ev.InstanceID == instanceID && !ev.Timestamp.Before(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) AppendRequestLog(_ context.Context, rl *model.RequestLog) error {
	cp := *rl
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLogs = append(m.requestLogs, &cp)
	return nil
}

func (m *Memory) RangeRequestLogs(_ context.Context, instanceID string, since time.Time) ([]*model.RequestLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RequestLog
	for _, rl := range m.requestLogs {
		if (instanceID == "" || rl.InstanceID == instanceID) && !rl.CreatedAt.Before(since) {
			cp := *rl
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpsertProviderGroup(_ context.Context, g *model.ProviderGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == 0 {
		m.nextGroupID++
		g.ID = m.nextGroupID
	}
	cp := *g
	m.groups[g.ID] = &cp
	return nil
}

func (m *Memory) GetProviderGroup(_ context.Context, id int64) (*model.ProviderGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ctrlerr.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) ListProviderGroups(_ context.Context, activeOnly bool) ([]*model.ProviderGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ProviderGroup
	for _, g := range m.groups {
		if activeOnly && !g.IsActive {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AppendScalingEvent(_ context.Context, ev *model.ScalingEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextScalingID++
	ev.ID = m.nextScalingID
	cp := *ev
	m.scalingEvents = append(m.scalingEvents, &cp)
	return ev.ID, nil
}

func (m *Memory) UpdateScalingEventStatus(_ context.Context, id int64, status model.ScalingEventStatus, errMsg string, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.scalingEvents {
		if ev.ID == id {
			ev.Status = status
			ev.ErrorMessage = errMsg
			ev.CompletedAt = completedAt
			return nil
		}
	}
	return ctrlerr.ErrNotFound
}

func (m *Memory) LatestScalingEvent(_ context.Context, q ScalingEventQuery) (*model.ScalingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.ScalingEvent
	for _, ev := range m.scalingEvents {
		if ev.GroupID != q.GroupID || ev.EventType != q.EventType || ev.Status != q.Status {
			continue
		}
		if best == nil || (ev.CompletedAt != nil && (best.CompletedAt == nil || ev.CompletedAt.After(*best.CompletedAt))) {
			best = ev
		}
	}
	if best == nil {
		return nil, ctrlerr.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) RangeScalingEvents(_ context.Context, groupID int64, since time.Time) ([]*model.ScalingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ScalingEvent
	for _, ev := range m.scalingEvents {
		if ev.GroupID == groupID && !ev.StartedAt.Before(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DeleteOld(_ context.Context, kind RetentionKind, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	switch kind {
	case RetentionHealthEvents:
		kept := m.healthEvents[:0]
		for _, ev := range m.healthEvents {
			if ev.Timestamp.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, ev)
		}
		m.healthEvents = kept
	case RetentionRequestLogs:
		kept := m.requestLogs[:0]
		for _, rl := range m.requestLogs {
			if rl.CreatedAt.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, rl)
		}
		m.requestLogs = kept
	case RetentionScalingEvents:
		kept := m.scalingEvents[:0]
		for _, ev := range m.scalingEvents {
			if ev.StartedAt.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, ev)
		}
		m.scalingEvents = kept
	}
	return deleted, nil
}
