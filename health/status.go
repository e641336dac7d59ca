// Package health provides the pipeline's health status model: a
// three-state status with optional metrics and per-component
// sub-statuses, aggregated for the readiness endpoint.
package health

import "time"

// Status values in order of severity.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status represents the health state of a component or the whole
// pipeline.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded, unhealthy
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int64         `json:"error_count"`
	ReadingsProcessed int64         `json:"readings_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// Aggregate combines component statuses into one status for the named
// parent. Any unhealthy component makes the parent unhealthy; otherwise
// any degraded component makes it degraded.
func Aggregate(component string, statuses []Status) Status {
	worst := StateHealthy
	message := "all components healthy"

	for _, st := range statuses {
		switch {
		case st.IsUnhealthy():
			worst = StateUnhealthy
			message = st.Component + ": " + st.Message
		case st.IsDegraded() && worst == StateHealthy:
			worst = StateDegraded
			message = st.Component + ": " + st.Message
		}
	}

	agg := Status{
		Component:   component,
		Healthy:     worst == StateHealthy,
		Status:      worst,
		Message:     message,
		Timestamp:   time.Now(),
		SubStatuses: statuses,
	}
	return agg
}
