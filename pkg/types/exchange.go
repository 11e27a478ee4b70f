package types

import "time"

// HealthState is the health classification of an exchange.
type HealthState string

// Exchange health states.
const (
	HealthUnknown  HealthState = "unknown"
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthFailed   HealthState = "failed"
)

// ExchangeStatus is the health record kept for one configured exchange.
type ExchangeStatus struct {
	Name       string      `json:"name"`
	Status     HealthState `json:"status"`
	LastPingAt time.Time   `json:"lastPingAt"`
	LatencyMs  int64       `json:"latencyMs"`
	ErrorCount int         `json:"errorCount"`
}

// IsHealthy reports whether strategies may be placed on the exchange.
func (s ExchangeStatus) IsHealthy() bool {
	return s.Status == HealthHealthy
}

// PingResult is returned by a backend exchange ping.
type PingResult struct {
	LatencyMs int64 `json:"latencyMs"`
}

// Instance is an execution-backend process able to host strategies.
type Instance struct {
	ID       string `json:"id"`
	Exchange string `json:"exchange"`
	Status   string `json:"status"`
	Capacity int    `json:"capacity"` // 0 means unbounded
	Running  int    `json:"running"`
}

// Instance statuses reported by the backend.
const (
	InstanceRunning  = "running"
	InstanceDraining = "draining"
	InstanceStopped  = "stopped"
)

// Available reports whether the instance can accept another strategy.
func (i Instance) Available() bool {
	if i.Status != InstanceRunning {
		return false
	}
	return i.Capacity == 0 || i.Running < i.Capacity
}
