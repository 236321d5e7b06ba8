// Package jobqueue implements the Job Lease Queue (SPEC_FULL.md §4.L): an
// atomic job claim with heartbeat renewal and timeout-sweep recovery,
// guaranteeing exactly one worker holds a lease on a RUNNING job at any
// instant. Grounded on the teacher's internal/order/persistent_queue.go WAL
// durability/atomic-metrics idiom and the lease-manager-repository pattern
// from other_examples, adapted to SQLite row leases (§4.U: a conditional
// UPDATE stands in for SKIP LOCKED on the single-writer connection).
package jobqueue

import (
	"context"
	"fmt"
	"log"
	"time"

	"futurescore/internal/core"
	"futurescore/pkg/db"
)

// Store is the persistence contract the queue depends on.
type Store interface {
	EnqueueJob(ctx context.Context, j db.BotJob) error
	HasPendingJob(ctx context.Context, botID, jobType string) (bool, error)
	ClaimJob(ctx context.Context, workerID string, leaseSeconds int, jobType string) (*db.BotJob, error)
	RenewJobLease(ctx context.Context, jobID, workerID string, leaseSeconds int) error
	ReleaseJobLease(ctx context.Context, jobID, workerID, finalStatus string) error
	HeartbeatJob(ctx context.Context, jobID, workerID string) error
	TimeoutStaleJobs(ctx context.Context, thresholdMinutes int) (int, error)
}

// Handler processes one claimed job and returns its terminal status
// (core.JobDone or core.JobFailed).
type Handler func(ctx context.Context, job db.BotJob) (status string, err error)

// Options configures lease durations and sweep cadence.
type Options struct {
	LeaseSeconds        int
	HeartbeatInterval   time.Duration
	TimeoutMinutes      int
	SweepInterval       time.Duration
	PollInterval        time.Duration
}

// Queue is the Job Lease Queue client used by worker processes.
type Queue struct {
	opts  Options
	store Store
}

// New builds a Queue.
func New(opts Options, store Store) *Queue {
	if opts.LeaseSeconds <= 0 {
		opts.LeaseSeconds = 60
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.TimeoutMinutes <= 0 {
		opts.TimeoutMinutes = 5
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Queue{opts: opts, store: store}
}

// Enqueue queues a job, skipping if an equivalent job is already
// QUEUED/RUNNING for the bot (used by Blown-Account Recovery's idempotent
// IMPROVING job enqueue, §4.N).
func (q *Queue) Enqueue(ctx context.Context, job db.BotJob) (bool, error) {
	pending, err := q.store.HasPendingJob(ctx, job.BotID, job.JobType)
	if err != nil {
		return false, fmt.Errorf("jobqueue: check pending job: %w", err)
	}
	if pending {
		return false, nil
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return false, fmt.Errorf("jobqueue: enqueue job %s: %w", job.ID, err)
	}
	return true, nil
}

// RunWorker claims jobs of jobType in a loop, running handler on each and
// maintaining a heartbeat for the duration of processing. It blocks until
// ctx is cancelled.
func (q *Queue) RunWorker(ctx context.Context, workerID, jobType string, handler Handler) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.claimAndRun(ctx, workerID, jobType, handler)
		}
	}
}

func (q *Queue) claimAndRun(ctx context.Context, workerID, jobType string, handler Handler) {
	job, err := q.store.ClaimJob(ctx, workerID, q.opts.LeaseSeconds, jobType)
	if err != nil {
		log.Printf("jobqueue: claim failed for worker %s: %v", workerID, err)
		return
	}
	if job == nil {
		return
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go q.heartbeatLoop(hbCtx, workerID, job.ID)

	status, err := handler(ctx, *job)
	if err != nil {
		log.Printf("jobqueue: job %s failed: %v", job.ID, err)
		status = string(core.JobFailed)
	}
	if relErr := q.store.ReleaseJobLease(ctx, job.ID, workerID, status); relErr != nil {
		log.Printf("jobqueue: release job %s failed: %v", job.ID, relErr)
	}
}

func (q *Queue) heartbeatLoop(ctx context.Context, workerID, jobID string) {
	ticker := time.NewTicker(q.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.store.HeartbeatJob(ctx, jobID, workerID); err != nil {
				log.Printf("jobqueue: heartbeat %s failed: %v", jobID, err)
				return
			}
			_ = q.store.RenewJobLease(ctx, jobID, workerID, q.opts.LeaseSeconds)
		}
	}
}

// RunTimeoutSweep periodically marks stale RUNNING jobs TIMEOUT. It blocks
// until ctx is cancelled; the sweep detects timeouts, never in-flight
// workers (§5 "Job timeouts are detected by the sweep, not by in-flight
// workers").
func (q *Queue) RunTimeoutSweep(ctx context.Context) {
	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.store.TimeoutStaleJobs(ctx, q.opts.TimeoutMinutes)
			if err != nil {
				log.Printf("jobqueue: timeout sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("jobqueue: marked %d stale jobs TIMEOUT", n)
			}
		}
	}
}
