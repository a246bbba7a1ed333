package ota

import (
	"context"
	"time"
)

// ReportMaxAttempts and ReportBackoffCap implement spec §4.8's "Reporting"
// paragraph: "retry of up to 5 attempts and exponential backoff (cap
// 180 s)".
const (
	ReportMaxAttempts  = 5
	ReportBackoffInit  = time.Second
	ReportBackoffCap   = 180 * time.Second
)

// Reporter posts StatusReports to the cloud. Report is the seam so fsm.go
// can be tested without a live session; production callers supply
// services/ota.CloudReporter (wired in client.go).
type Reporter interface {
	Report(ctx context.Context, r StatusReport) error
}

// ReportWithRetry posts r through reporter, retrying up to
// ReportMaxAttempts times with exponential backoff capped at
// ReportBackoffCap (spec §4.8). It gives up silently after the last
// attempt — a failed status report must never block the state machine
// (spec §7 "Queue-full ... is never retried inside the core" sets the same
// precedent: reporting failures are logged, not escalated).
func ReportWithRetry(ctx context.Context, reporter Reporter, r StatusReport, log func(format string, args ...interface{})) {
	backoff := ReportBackoffInit
	var err error
	for attempt := 1; attempt <= ReportMaxAttempts; attempt++ {
		if err = reporter.Report(ctx, r); err == nil {
			return
		}
		if log != nil {
			log("ota report attempt %d/%d failed: %v", attempt, ReportMaxAttempts, err)
		}
		if attempt == ReportMaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > ReportBackoffCap {
			backoff = ReportBackoffCap
		}
	}
	if log != nil {
		log("ota report for package %s state %s abandoned after %d attempts: %v", r.Package, r.State, ReportMaxAttempts, err)
	}
}
