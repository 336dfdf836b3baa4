// Package model holds the durable and ephemeral record types shared across
// the fleet control plane: instances, provider groups, health and request
// history, scaling events, and circuit breaker state.
package model

import "time"

// InstanceStatus is the lifecycle state of a fleet instance.
type InstanceStatus string

const (
	StatusStarting    InstanceStatus = "starting"
	StatusHealthy     InstanceStatus = "healthy"
	StatusUnhealthy   InstanceStatus = "unhealthy"
	StatusMaintenance InstanceStatus = "maintenance"
	StatusStopped     InstanceStatus = "stopped"
	StatusError       InstanceStatus = "error"
	StatusScaling     InstanceStatus = "scaling"
)

// Provider identifies an upstream LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderZAI       Provider = "zai"
	ProviderPerplexity Provider = "perplexity"
	ProviderOther     Provider = "other"
)

// Instance is one upstream model endpoint with identity, capacity, and
// rolling metrics. The Registry (internal/registry) exclusively owns live
// mutation of these records; the Store owns the durable copy.
type Instance struct {
	InstanceID string
	Provider   Provider
	Model      string
	Name       string
	Endpoint   string
	CredentialRef string
	Region     string
	Version    string

	Status    InstanceStatus
	IsActive  bool
	IsHealthy bool

	LastHealthCheck time.Time
	LastSuccess     time.Time

	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64

	AvgResponseMS  float64
	SuccessRatePct float64

	MaxConcurrent          int
	CurrentLoad            int
	MaxTokensPerMinute     int
	CurrentTokensPerMinute int

	DefaultTemperature float64
	DefaultMaxTokens   int
	DefaultTimeout     time.Duration

	Priority int
	Tags     map[string]string
	Metadata map[string]interface{}

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastScaledAt time.Time
}

// SuccessRate recomputes the invariant from spec.md §3: successful/total*100
// when total > 0, else 0.
func (i *Instance) SuccessRate() float64 {
	if i.TotalRequests <= 0 {
		return 0
	}
	return float64(i.SuccessfulRequests) / float64(i.TotalRequests) * 100
}

// ProviderGroup is a logical pool of instances sharing a scaling policy.
type ProviderGroup struct {
	ID       int64
	Provider Provider
	Model    string // optional model family filter; empty means all models
	Name     string

	MinInstances     int
	MaxInstances     int
	DesiredInstances int

	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	ScaleUpCooldown    time.Duration
	ScaleDownCooldown  time.Duration

	AutoScalingEnabled bool
	UseRatioScaleDown  bool

	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HealthCheckStatus is the outcome recorded by a single probe.
type HealthCheckStatus string

const (
	HealthCheckHealthy   HealthCheckStatus = "healthy"
	HealthCheckUnhealthy HealthCheckStatus = "unhealthy"
	HealthCheckError     HealthCheckStatus = "error"
)

// ProbeKind enumerates the probe types the HealthMonitor schedules.
type ProbeKind string

const (
	ProbeBasic         ProbeKind = "basic"
	ProbeLatency       ProbeKind = "latency"
	ProbeLoad          ProbeKind = "load"
	ProbeComprehensive ProbeKind = "comprehensive"
)

// HealthEvent is an append-only health observation for one instance.
type HealthEvent struct {
	InstanceID  string
	Timestamp   time.Time
	Status      HealthCheckStatus
	ResponseMS  *float64
	Error       string
	CheckType   ProbeKind
	Score       float64 // [0,100]
}

// RequestStatus is the terminal state of a routed request.
type RequestStatus string

const (
	RequestRouted        RequestStatus = "routed"
	RequestSuccess       RequestStatus = "success"
	RequestError         RequestStatus = "error"
	RequestTimeout       RequestStatus = "timeout"
	RequestRoutingFailed RequestStatus = "routing_failed"
)

// RequestLog is an append-only record of a routed request's outcome.
type RequestLog struct {
	RequestID         string
	InstanceID        string
	Provider          Provider
	Model             string
	Status            RequestStatus
	ResponseMS        *float64
	QueueMS           *float64
	Tokens            *int
	WasFailover       bool
	OriginalInstanceID string
	UserID            string
	SessionID         string
	Detail            string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// ScalingEventType distinguishes scale-up from scale-down audit rows.
type ScalingEventType string

const (
	ScalingUp   ScalingEventType = "scale_up"
	ScalingDown ScalingEventType = "scale_down"
)

// ScalingTrigger names the signal that caused a scaling decision.
type ScalingTrigger string

const (
	TriggerHighLoad        ScalingTrigger = "high_load"
	TriggerLowLoad         ScalingTrigger = "low_load"
	TriggerHighErrorRate   ScalingTrigger = "high_error_rate"
	TriggerHighResponseTime ScalingTrigger = "high_response_time"
	TriggerQueueBacklog    ScalingTrigger = "queue_backlog"
	TriggerHealthIssues    ScalingTrigger = "health_issues"
	TriggerManual          ScalingTrigger = "manual"
	TriggerScheduled       ScalingTrigger = "scheduled"
)

// ScalingEventStatus tracks the lifecycle of a scaling decision's execution.
type ScalingEventStatus string

const (
	ScalingPending    ScalingEventStatus = "pending"
	ScalingInProgress ScalingEventStatus = "in_progress"
	ScalingCompleted  ScalingEventStatus = "completed"
	ScalingFailed     ScalingEventStatus = "failed"
)

// ScalingEvent is an auditable record of a scale-up/scale-down decision.
type ScalingEvent struct {
	ID           int64
	GroupID      int64
	EventType    ScalingEventType
	OldReplicas  int
	NewReplicas  int
	Trigger      ScalingTrigger
	MetricValue  float64
	Threshold    float64
	Status       ScalingEventStatus
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// CircuitState is one of the three circuit breaker states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerState is the ephemeral, non-durable per-instance breaker record.
type CircuitBreakerState struct {
	InstanceID    string
	State         CircuitState
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
}
