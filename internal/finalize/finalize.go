// Package finalize implements the child process's half of the contract
// described in the design's "Child-process finalization" note: a spawned
// job writes its own terminal record because it has the richest context
// (session path, outcome path, exit code), then triggers another scheduler
// tick so the next-eligible dependent starts as soon as this job's artifacts
// become visible. The scheduler's own liveness check in
// internal/scheduler.Driver exists only to catch a child that crashed
// before reaching this call.
package finalize

import (
	"context"
	"time"

	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/scheduler"
	"github.com/JTan2231/vizier/internal/schederr"
)

// Result carries what a command body learned about its own run.
type Result struct {
	Succeeded   bool
	ExitCode    int
	SessionPath string
	OutcomePath string
}

// Finalize writes the terminal record for id and runs one more scheduler
// tick so dependents re-evaluate immediately rather than waiting for some
// unrelated event to trigger the next tick.
func Finalize(ctx context.Context, store jobstore.Store, driver *scheduler.Driver, id string, res Result) error {
	status := jobstore.StatusFailed
	if res.Succeeded {
		status = jobstore.StatusSucceeded
	}
	exitCode := res.ExitCode

	err := store.Update(id, func(r *jobstore.Record) error {
		now := time.Now().UTC()
		r.Status = status
		r.FinishedAt = &now
		r.ExitCode = &exitCode
		if res.SessionPath != "" {
			r.SessionPath = res.SessionPath
		}
		if res.OutcomePath != "" {
			r.OutcomePath = res.OutcomePath
		}
		return nil
	})
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "finalize job "+id, err)
	}

	return driver.Tick(ctx)
}
