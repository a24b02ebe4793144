package core

import (
	"context"
	"testing"
)

func TestCheckAll_WorstStatusWins(t *testing.T) {
	checkers := map[string]HealthChecker{
		"index": HealthCheckFunc(func(context.Context) HealthResult {
			return HealthResult{Status: HealthHealthy}
		}),
		"embedder": HealthCheckFunc(func(context.Context) HealthResult {
			return HealthResult{Status: HealthDegraded, Message: "slow"}
		}),
	}
	results, overall := CheckAll(context.Background(), checkers)
	if overall != HealthDegraded {
		t.Fatalf("expected DEGRADED, got %s", overall)
	}
	if len(results) != 2 || results[0].Component != "embedder" || results[1].Component != "index" {
		t.Fatalf("unexpected results %+v", results)
	}

	checkers["index"] = HealthCheckFunc(func(context.Context) HealthResult {
		return HealthResult{Status: HealthUnhealthy}
	})
	if _, overall := CheckAll(context.Background(), checkers); overall != HealthUnhealthy {
		t.Fatalf("expected UNHEALTHY, got %s", overall)
	}
}
