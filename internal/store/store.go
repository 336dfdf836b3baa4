// Package store defines the durable record contract (C1, spec §6) and
// provides a Postgres-backed implementation grounded on
// internal/database/postgres.go, plus an in-memory implementation used by
// tests and by the composition root when no DSN is configured.
package store

import (
	"context"
	"time"

	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// InstanceFilter narrows List results. Zero values mean "no filter" on
// that field.
type InstanceFilter struct {
	Provider  model.Provider
	Status    model.InstanceStatus
	IsHealthy *bool
	Page      int
	PageSize  int
}

// ScalingEventQuery selects the latest matching ScalingEvent for cooldown
// lookups (spec §6: latest_scaling_event(group_id, type, status)).
type ScalingEventQuery struct {
	GroupID   int64
	EventType model.ScalingEventType
	Status    model.ScalingEventStatus
}

// RetentionKind names which record kind delete_old should sweep.
type RetentionKind string

const (
	RetentionHealthEvents RetentionKind = "health_events"
	RetentionRequestLogs  RetentionKind = "request_logs"
	RetentionScalingEvents RetentionKind = "scaling_events"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

// Store is the C1 contract. All operations support atomic read-modify-write
// on single records and time-window range queries; no cross-record
// transactions are assumed by callers.
type Store interface {
	UpsertInstance(ctx context.Context, in *model.Instance) error
	GetInstance(ctx context.Context, instanceID string) (*model.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*model.Instance, error)

	AppendHealthEvent(ctx context.Context, ev *model.HealthEvent) error
	RangeHealthEvents(ctx context.Context, instanceID string, since time.Time) ([]*model.HealthEvent, error)

	AppendRequestLog(ctx context.Context, rl *model.RequestLog) error
	RangeRequestLogs(ctx context.Context, instanceID string, since time.Time) ([]*model.RequestLog, error)

	UpsertProviderGroup(ctx context.Context, g *model.ProviderGroup) error
	GetProviderGroup(ctx context.Context, id int64) (*model.ProviderGroup, error)
	ListProviderGroups(ctx context.Context, activeOnly bool) ([]*model.ProviderGroup, error)

	AppendScalingEvent(ctx context.Context, ev *model.ScalingEvent) (int64, error)
	UpdateScalingEventStatus(ctx context.Context, id int64, status model.ScalingEventStatus, errMsg string, completedAt *time.Time) error
	LatestScalingEvent(ctx context.Context, q ScalingEventQuery) (*model.ScalingEvent, error)
	RangeScalingEvents(ctx context.Context, groupID int64, since time.Time) ([]*model.ScalingEvent, error)

	DeleteOld(ctx context.Context, kind RetentionKind, before time.Time) (int64, error)
}
