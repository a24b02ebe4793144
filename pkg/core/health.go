// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sort"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component is operational but with reduced capacity.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult { return f(ctx) }

// CheckAll runs every checker and returns the results ordered by component
// name together with the worst observed status.
func CheckAll(ctx context.Context, checkers map[string]HealthChecker) ([]HealthResult, HealthStatus) {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		res := checkers[name].Check(ctx)
		if res.Component == "" {
			res.Component = name
		}
		if res.LastCheck.IsZero() {
			res.LastCheck = time.Now().UTC()
		}
		switch res.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
		results = append(results, res)
	}
	return results, overall
}
