package messaging

import (
	"context"
	"time"
)

// HealthChecker reports whether a broker connection is usable.
type HealthChecker interface {
	IsConnected() bool
}

// RoundTripper is a HealthChecker that can time a round trip to the broker.
type RoundTripper interface {
	HealthChecker
	RTT() (time.Duration, error)
}

// HealthStatus is the broker section of the readiness report.
type HealthStatus struct {
	Connected bool    `json:"connected"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// CheckHealth inspects checker and reports its connection state. Checkers
// that implement RoundTripper also have their round trip timed; a failed
// round trip marks the broker as not connected.
func CheckHealth(_ context.Context, checker HealthChecker) HealthStatus {
	if checker == nil {
		return HealthStatus{Error: "messaging disabled"}
	}
	if !checker.IsConnected() {
		return HealthStatus{Error: "not connected to message broker"}
	}

	status := HealthStatus{Connected: true}
	if rt, ok := checker.(RoundTripper); ok {
		rtt, err := rt.RTT()
		if err != nil {
			return HealthStatus{Error: "broker round trip failed: " + err.Error()}
		}
		status.LatencyMS = float64(rtt) / float64(time.Millisecond)
	}
	return status
}
