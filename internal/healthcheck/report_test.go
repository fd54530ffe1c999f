package healthcheck

import (
	"context"
	"testing"
)

type testChecker struct {
	items []CheckResult
}

func (c *testChecker) ListChecks(ctx context.Context) []CheckResult {
	return c.items
}

func TestRunAggregatesWorstStatus(t *testing.T) {
	t.Parallel()

	report := Run(context.Background(),
		&testChecker{items: []CheckResult{{ID: "channel.connection.telegram", Status: StatusOK}}},
		nil,
		&testChecker{items: []CheckResult{
			{ID: "storage.bucket", Status: StatusWarn},
			{ID: "storage.signing", Status: StatusError},
		}},
	)
	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(report.Checks))
	}
	if report.Checks[0].ID != "channel.connection.telegram" {
		t.Fatalf("checker order not kept: %s", report.Checks[0].ID)
	}
	if report.Status != StatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Healthy() {
		t.Fatalf("expected unhealthy report")
	}
}

func TestRunWarningsStayHealthy(t *testing.T) {
	t.Parallel()

	report := Run(context.Background(), &testChecker{items: []CheckResult{{ID: "a", Status: StatusWarn}}})
	if report.Status != StatusWarn {
		t.Fatalf("expected warn status, got %s", report.Status)
	}
	if !report.Healthy() {
		t.Fatalf("warnings must not fail the report")
	}
}

func TestRunWithoutCheckers(t *testing.T) {
	t.Parallel()

	report := Run(context.Background())
	if report.Status != StatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if report.Checks == nil {
		t.Fatalf("checks must encode as an empty list")
	}
}
