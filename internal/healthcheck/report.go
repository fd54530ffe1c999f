package healthcheck

import (
	"context"
	"sync"
	"time"
)

// Report aggregates the results of every registered checker.
type Report struct {
	Status    string        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
}

// Healthy reports whether no check failed. Warnings do not count.
func (r Report) Healthy() bool {
	return r.Status != StatusError
}

// Run evaluates all checkers concurrently and keeps their order in the
// report. The overall status is the worst item status.
func Run(ctx context.Context, checkers ...Checker) Report {
	results := make([][]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		if checker == nil {
			continue
		}
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = checker.ListChecks(ctx)
		}(i, checker)
	}
	wg.Wait()

	report := Report{Status: StatusOK, CheckedAt: time.Now().UTC(), Checks: []CheckResult{}}
	for _, items := range results {
		for _, item := range items {
			if severity(item.Status) > severity(report.Status) {
				report.Status = item.Status
			}
			report.Checks = append(report.Checks, item)
		}
	}
	return report
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn, StatusUnknown:
		return 1
	case StatusError:
		return 2
	default:
		return 1
	}
}
