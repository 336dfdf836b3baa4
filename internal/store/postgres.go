package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang/snappy"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// Config holds Postgres connection parameters, grounded on
// internal/database/postgres.go's Config shape.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// Postgres is the durable Store backed by database/sql + lib/pq.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgres(cfg Config, logger *zap.Logger) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db, logger: logger}, nil
}

func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// CreateTables creates the fleet schema if it does not already exist.
func (p *Postgres) CreateTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			instance_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			name TEXT,
			endpoint TEXT,
			status TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			is_healthy BOOLEAN NOT NULL DEFAULT false,
			priority INTEGER NOT NULL DEFAULT 0,
			max_concurrent INTEGER NOT NULL DEFAULT 10,
			current_load INTEGER NOT NULL DEFAULT 0,
			max_tokens_per_minute INTEGER NOT NULL DEFAULT 0,
			total_requests BIGINT NOT NULL DEFAULT 0,
			successful_requests BIGINT NOT NULL DEFAULT 0,
			failed_requests BIGINT NOT NULL DEFAULT 0,
			avg_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_health_check TIMESTAMPTZ,
			last_success TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_scaled_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS provider_groups (
			id SERIAL PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT,
			name TEXT,
			min_instances INTEGER NOT NULL,
			max_instances INTEGER NOT NULL,
			desired_instances INTEGER NOT NULL,
			scale_up_threshold DOUBLE PRECISION NOT NULL,
			scale_down_threshold DOUBLE PRECISION NOT NULL,
			scale_up_cooldown_s INTEGER NOT NULL,
			scale_down_cooldown_s INTEGER NOT NULL,
			auto_scaling_enabled BOOLEAN NOT NULL DEFAULT true,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS health_events (
			id SERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL DEFAULT now(),
			status TEXT NOT NULL,
			response_ms DOUBLE PRECISION,
			error_blob TEXT,
			check_type TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			request_id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			response_ms DOUBLE PRECISION,
			was_failover BOOLEAN NOT NULL DEFAULT false,
			original_instance_id TEXT,
			detail_blob TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS scaling_events (
			id SERIAL PRIMARY KEY,
			group_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			old_replicas INTEGER NOT NULL,
			new_replicas INTEGER NOT NULL,
			trigger TEXT NOT NULL,
			metric_value DOUBLE PRECISION,
			threshold DOUBLE PRECISION,
			status TEXT NOT NULL,
			error_message TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_events_instance ON health_events(instance_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_instance ON request_logs(instance_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scaling_events_group ON scaling_events(group_id, event_type, status, completed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// encodeBlob compresses free-text detail/error payloads with snappy before
// they hit the wire, matching the bandwidth-conscious style of
// internal/drivers/throttle.go's treatment of large payloads.
func encodeBlob(s string) string {
	if s == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString(snappy.Encode(nil, []byte(s)))
}

func decodeBlob(s string) string {
	if s == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	out, err := snappy.Decode(nil, raw)
	if err != nil {
		return s
	}
	return string(out)
}

func (p *Postgres) UpsertInstance(ctx context.Context, in *model.Instance) error {
	const q = `
	INSERT INTO instances (instance_id, provider, model, name, endpoint, status, is_active, is_healthy,
		priority, max_concurrent, current_load, max_tokens_per_minute,
		total_requests, successful_requests, failed_requests, avg_response_ms,
		last_health_check, last_success, updated_at, last_scaled_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now(),$19)
	ON CONFLICT (instance_id) DO UPDATE SET
		provider=EXCLUDED.provider, model=EXCLUDED.model, name=EXCLUDED.name,
		endpoint=EXCLUDED.endpoint, status=EXCLUDED.status, is_active=EXCLUDED.is_active,
		is_healthy=EXCLUDED.is_healthy, priority=EXCLUDED.priority,
		max_concurrent=EXCLUDED.max_concurrent, current_load=EXCLUDED.current_load,
		max_tokens_per_minute=EXCLUDED.max_tokens_per_minute,
		total_requests=EXCLUDED.total_requests, successful_requests=EXCLUDED.successful_requests,
		failed_requests=EXCLUDED.failed_requests, avg_response_ms=EXCLUDED.avg_response_ms,
		last_health_check=EXCLUDED.last_health_check, last_success=EXCLUDED.last_success,
		updated_at=now(), last_scaled_at=EXCLUDED.last_scaled_at`
	_, err := p.db.ExecContext(ctx, q, in.InstanceID, in.Provider, in.Model, in.Name, in.Endpoint,
		in.Status, in.IsActive, in.IsHealthy, in.Priority, in.MaxConcurrent, in.CurrentLoad,
		in.MaxTokensPerMinute, in.TotalRequests, in.SuccessfulRequests, in.FailedRequests,
		in.AvgResponseMS, nullTime(in.LastHealthCheck), nullTime(in.LastSuccess), nullTime(in.LastScaledAt))
	if err != nil {
		return ctrlerr.ErrStore("upsert_instance", err)
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (p *Postgres) GetInstance(ctx context.Context, instanceID string) (*model.Instance, error) {
	const q = `SELECT instance_id, provider, model, name, endpoint, status, is_active, is_healthy,
		priority, max_concurrent, current_load, max_tokens_per_minute,
		total_requests, successful_requests, failed_requests, avg_response_ms,
		last_health_check, last_success, created_at, updated_at, last_scaled_at
		FROM instances WHERE instance_id=$1`
	row := p.db.QueryRowContext(ctx, q, instanceID)
	in := &model.Instance{}
	var lastHC, lastSuccess, lastScaled sql.NullTime
	err := row.Scan(&in.InstanceID, &in.Provider, &in.Model, &in.Name, &in.Endpoint, &in.Status,
		&in.IsActive, &in.IsHealthy, &in.Priority, &in.MaxConcurrent, &in.CurrentLoad,
		&in.MaxTokensPerMinute, &in.TotalRequests, &in.SuccessfulRequests, &in.FailedRequests,
		&in.AvgResponseMS, &lastHC, &lastSuccess, &in.CreatedAt, &in.UpdatedAt, &lastScaled)
	if err == sql.ErrNoRows {
		return nil, ctrlerr.ErrNotFound
	}
	if err != nil {
		return nil, ctrlerr.ErrStore("get_instance", err)
	}
	in.LastHealthCheck = lastHC.Time
	in.LastSuccess = lastSuccess.Time
	in.LastScaledAt = lastScaled.Time
	in.SuccessRatePct = in.SuccessRate()
	return in, nil
}

func (p *Postgres) ListInstances(ctx context.Context, filter InstanceFilter) ([]*model.Instance, error) {
	q := `SELECT instance_id, provider, model, name, endpoint, status, is_active, is_healthy,
		priority, max_concurrent, current_load, max_tokens_per_minute,
		total_requests, successful_requests, failed_requests, avg_response_ms,
		last_health_check, last_success, created_at, updated_at, last_scaled_at
		FROM instances WHERE 1=1`
	var args []interface{}
	if filter.Provider != "" {
		args = append(args, filter.Provider)
		q += fmt.Sprintf(" AND provider=$%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.IsHealthy != nil {
		args = append(args, *filter.IsHealthy)
		q += fmt.Sprintf(" AND is_healthy=$%d", len(args))
	}
	q += " ORDER BY instance_id"
	if filter.PageSize > 0 {
		args = append(args, filter.PageSize)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, filter.Page*filter.PageSize)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ctrlerr.ErrStore("list_instances", err)
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		in := &model.Instance{}
		var lastHC, lastSuccess, lastScaled sql.NullTime
		if err := rows.Scan(&in.InstanceID, &in.Provider, &in.Model, &in.Name, &in.Endpoint, &in.Status,
			&in.IsActive, &in.IsHealthy, &in.Priority, &in.MaxConcurrent, &in.CurrentLoad,
			&in.MaxTokensPerMinute, &in.TotalRequests, &in.SuccessfulRequests, &in.FailedRequests,
			&in.AvgResponseMS, &lastHC, &lastSuccess, &in.CreatedAt, &in.UpdatedAt, &lastScaled); err != nil {
			return nil, ctrlerr.ErrStore("list_instances", err)
		}
		in.LastHealthCheck = lastHC.Time
		in.LastSuccess = lastSuccess.Time
		in.LastScaledAt = lastScaled.Time
		in.SuccessRatePct = in.SuccessRate()
		out = append(out, in)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendHealthEvent(ctx context.Context, ev *model.HealthEvent) error {
	const q = `INSERT INTO health_events (instance_id, ts, status, response_ms, error_blob, check_type, score)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := p.db.ExecContext(ctx, q, ev.InstanceID, ev.Timestamp, ev.Status, ev.ResponseMS,
		encodeBlob(ev.Error), ev.CheckType, ev.Score)
	if err != nil {
		return ctrlerr.ErrStore("append_health_event", err)
	}
	return nil
}

func (p *Postgres) RangeHealthEvents(ctx context.Context, instanceID string, since time.Time) ([]*model.HealthEvent, error) {
	const q = `SELECT instance_id, ts, status, response_ms, error_blob, check_type, score
		FROM health_events WHERE instance_id=$1 AND ts>=$2 ORDER BY ts`
	rows, err := p.db.QueryContext(ctx, q, instanceID, since)
	if err != nil {
		return nil, ctrlerr.ErrStore("range_health_events", err)
	}
	defer rows.Close()
	var out []*model.HealthEvent
	for rows.Next() {
		ev := &model.HealthEvent{}
		var errBlob string
		if err := rows.Scan(&ev.InstanceID, &ev.Timestamp, &ev.Status, &ev.ResponseMS, &errBlob, &ev.CheckType, &ev.Score); err != nil {
			return nil, ctrlerr.ErrStore("range_health_events", err)
		}
		ev.Error = decodeBlob(errBlob)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendRequestLog(ctx context.Context, rl *model.RequestLog) error {
	const q = `INSERT INTO request_logs (request_id, instance_id, provider, model, status, response_ms,
		was_failover, original_instance_id, detail_blob, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (request_id) DO UPDATE SET status=EXCLUDED.status, response_ms=EXCLUDED.response_ms,
		completed_at=EXCLUDED.completed_at, detail_blob=EXCLUDED.detail_blob`
	_, err := p.db.ExecContext(ctx, q, rl.RequestID, rl.InstanceID, rl.Provider, rl.Model, rl.Status,
		rl.ResponseMS, rl.WasFailover, rl.OriginalInstanceID, encodeBlob(rl.Detail), rl.CreatedAt, rl.CompletedAt)
	if err != nil {
		return ctrlerr.ErrStore("append_request_log", err)
	}
	return nil
}

func (p *Postgres) RangeRequestLogs(ctx context.Context, instanceID string, since time.Time) ([]*model.RequestLog, error) {
	q := `SELECT request_id, instance_id, provider, model, status, response_ms, was_failover,
		original_instance_id, detail_blob, created_at, completed_at FROM request_logs WHERE created_at>=$1`
	args := []interface{}{since}
	if instanceID != "" {
		args = append(args, instanceID)
		q += fmt.Sprintf(" AND instance_id=$%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ctrlerr.ErrStore("range_request_logs", err)
	}
	defer rows.Close()
	var out []*model.RequestLog
	for rows.Next() {
		rl := &model.RequestLog{}
		var detailBlob string
		var originalID sql.NullString
		if err := rows.Scan(&rl.RequestID, &rl.InstanceID, &rl.Provider, &rl.Model, &rl.Status,
			&rl.ResponseMS, &rl.WasFailover, &originalID, &detailBlob, &rl.CreatedAt, &rl.CompletedAt); err != nil {
			return nil, ctrlerr.ErrStore("range_request_logs", err)
		}
		rl.OriginalInstanceID = originalID.String
		rl.Detail = decodeBlob(detailBlob)
		out = append(out, rl)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertProviderGroup(ctx context.Context, g *model.ProviderGroup) error {
	if g.ID == 0 {
		const q = `INSERT INTO provider_groups (provider, model, name, min_instances, max_instances,
			desired_instances, scale_up_threshold, scale_down_threshold, scale_up_cooldown_s,
			scale_down_cooldown_s, auto_scaling_enabled, is_active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`
		return p.db.QueryRowContext(ctx, q, g.Provider, g.Model, g.Name, g.MinInstances, g.MaxInstances,
			g.DesiredInstances, g.ScaleUpThreshold, g.ScaleDownThreshold, int(g.ScaleUpCooldown.Seconds()),
			int(g.ScaleDownCooldown.Seconds()), g.AutoScalingEnabled, g.IsActive).Scan(&g.ID)
	}
	const q = `UPDATE provider_groups SET provider=$2, model=$3, name=$4, min_instances=$5,
		max_instances=$6, desired_instances=$7, scale_up_threshold=$8, scale_down_threshold=$9,
		scale_up_cooldown_s=$10, scale_down_cooldown_s=$11, auto_scaling_enabled=$12, is_active=$13,
		updated_at=now() WHERE id=$1`
	_, err := p.db.ExecContext(ctx, q, g.ID, g.Provider, g.Model, g.Name, g.MinInstances, g.MaxInstances,
		g.DesiredInstances, g.ScaleUpThreshold, g.ScaleDownThreshold, int(g.ScaleUpCooldown.Seconds()),
		int(g.ScaleDownCooldown.Seconds()), g.AutoScalingEnabled, g.IsActive)
	if err != nil {
		return ctrlerr.ErrStore("upsert_provider_group", err)
	}
	return nil
}

func (p *Postgres) GetProviderGroup(ctx context.Context, id int64) (*model.ProviderGroup, error) {
	const q = `SELECT id, provider, model, name, min_instances, max_instances, desired_instances,
		scale_up_threshold, scale_down_threshold, scale_up_cooldown_s, scale_down_cooldown_s,
		auto_scaling_enabled, is_active, created_at, updated_at FROM provider_groups WHERE id=$1`
	g := &model.ProviderGroup{}
	var upS, downS int
	err := p.db.QueryRowContext(ctx, q, id).Scan(&g.ID, &g.Provider, &g.Model, &g.Name, &g.MinInstances,
		&g.MaxInstances, &g.DesiredInstances, &g.ScaleUpThreshold, &g.ScaleDownThreshold, &upS, &downS,
		&g.AutoScalingEnabled, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ctrlerr.ErrNotFound
	}
	if err != nil {
		return nil, ctrlerr.ErrStore("get_provider_group", err)
	}
	g.ScaleUpCooldown = time.Duration(upS) * time.Second
	g.ScaleDownCooldown = time.Duration(downS) * time.Second
	return g, nil
}

func (p *Postgres) ListProviderGroups(ctx context.Context, activeOnly bool) ([]*model.ProviderGroup, error) {
	q := `SELECT id, provider, model, name, min_instances, max_instances, desired_instances,
		scale_up_threshold, scale_down_threshold, scale_up_cooldown_s, scale_down_cooldown_s,
		auto_scaling_enabled, is_active, created_at, updated_at FROM provider_groups`
	if activeOnly {
		q += " WHERE is_active=true AND auto_scaling_enabled=true"
	}
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, ctrlerr.ErrStore("list_provider_groups", err)
	}
	defer rows.Close()
	var out []*model.ProviderGroup
	for rows.Next() {
		g := &model.ProviderGroup{}
		var upS, downS int
		if err := rows.Scan(&g.ID, &g.Provider, &g.Model, &g.Name, &g.MinInstances, &g.MaxInstances,
			&g.DesiredInstances, &g.ScaleUpThreshold, &g.ScaleDownThreshold, &upS, &downS,
			&g.AutoScalingEnabled, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, ctrlerr.ErrStore("list_provider_groups", err)
		}
		g.ScaleUpCooldown = time.Duration(upS) * time.Second
		g.ScaleDownCooldown = time.Duration(downS) * time.Second
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendScalingEvent(ctx context.Context, ev *model.ScalingEvent) (int64, error) {
	const q = `INSERT INTO scaling_events (group_id, event_type, old_replicas, new_replicas, trigger,
		metric_value, threshold, status, started_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`
	var id int64
	err := p.db.QueryRowContext(ctx, q, ev.GroupID, ev.EventType, ev.OldReplicas, ev.NewReplicas,
		ev.Trigger, ev.MetricValue, ev.Threshold, ev.Status, ev.StartedAt).Scan(&id)
	if err != nil {
		return 0, ctrlerr.ErrStore("append_scaling_event", err)
	}
	return id, nil
}

func (p *Postgres) UpdateScalingEventStatus(ctx context.Context, id int64, status model.ScalingEventStatus, errMsg string, completedAt *time.Time) error {
	const q = `UPDATE scaling_events SET status=$2, error_message=$3, completed_at=$4 WHERE id=$1`
	_, err := p.db.ExecContext(ctx, q, id, status, errMsg, completedAt)
	if err != nil {
		return ctrlerr.ErrStore("update_scaling_event_status", err)
	}
	return nil
}

func (p *Postgres) LatestScalingEvent(ctx context.Context, sq ScalingEventQuery) (*model.ScalingEvent, error) {
	const q = `SELECT id, group_id, event_type, old_replicas, new_replicas, trigger, metric_value,
		threshold, status, error_message, started_at, completed_at FROM scaling_events
		WHERE group_id=$1 AND event_type=$2 AND status=$3 ORDER BY completed_at DESC NULLS LAST LIMIT 1`
	ev := &model.ScalingEvent{}
	var errMsg sql.NullString
	err := p.db.QueryRowContext(ctx, q, sq.GroupID, sq.EventType, sq.Status).Scan(&ev.ID, &ev.GroupID,
		&ev.EventType, &ev.OldReplicas, &ev.NewReplicas, &ev.Trigger, &ev.MetricValue, &ev.Threshold,
		&ev.Status, &errMsg, &ev.StartedAt, &ev.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ctrlerr.ErrNotFound
	}
	if err != nil {
		return nil, ctrlerr.ErrStore("latest_scaling_event", err)
	}
	ev.ErrorMessage = errMsg.String
	return ev, nil
}

func (p *Postgres) RangeScalingEvents(ctx context.Context, groupID int64, since time.Time) ([]*model.ScalingEvent, error) {
	const q = `SELECT id, group_id, event_type, old_replicas, new_replicas, trigger, metric_value,
		threshold, status, error_message, started_at, completed_at FROM scaling_events
		WHERE group_id=$1 AND started_at>=$2 ORDER BY started_at`
	rows, err := p.db.QueryContext(ctx, q, groupID, since)
	if err != nil {
		return nil, ctrlerr.ErrStore("range_scaling_events", err)
	}
	defer rows.Close()
	var out []*model.ScalingEvent
	for rows.Next() {
		ev := &model.ScalingEvent{}
		var errMsg sql.NullString
		if err := rows.Scan(&ev.ID, &ev.GroupID, &ev.EventType, &ev.OldReplicas, &ev.NewReplicas,
			&ev.Trigger, &ev.MetricValue, &ev.Threshold, &ev.Status, &errMsg, &ev.StartedAt, &ev.CompletedAt); err != nil {
			return nil, ctrlerr.ErrStore("range_scaling_events", err)
		}
		ev.ErrorMessage = errMsg.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteOld(ctx context.Context, kind RetentionKind, before time.Time) (int64, error) {
	var table, col string
	switch kind {
	case RetentionHealthEvents:
		table, col = "health_events", "ts"
	case RetentionRequestLogs:
		table, col = "request_logs", "created_at"
	case RetentionScalingEvents:
		table, col = "scaling_events", "started_at"
	default:
		return 0, ctrlerr.ErrConfig("unknown retention kind")
	}
	res, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < $1", table, col), before)
	if err != nil {
		return 0, ctrlerr.ErrStore("delete_old", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
