package jobqueue

import (
	"context"
	"sync"
	"testing"

	"futurescore/pkg/db"
)

func newTestStore(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database
}

// TestClaimJobExactlyOneHolder exercises the exactly-one-lease-holder
// invariant (§8 invariant 3): with a single QUEUED job and N concurrent
// claimers racing ClaimJob, exactly one claimer wins the lease.
func TestClaimJobExactlyOneHolder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	queue := New(Options{LeaseSeconds: 60}, store)

	enqueued, err := queue.Enqueue(ctx, db.BotJob{ID: "job-1", BotID: "bot-1", JobType: "IMPROVING"})
	if err != nil || !enqueued {
		t.Fatalf("enqueue failed: enqueued=%v err=%v", enqueued, err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	for i := 0; i < workers; i++ {
		wg.Add(1)
		workerID := "worker-" + string(rune('a'+i))
		go func(id string) {
			defer wg.Done()
			job, err := store.ClaimJob(ctx, id, 60, "IMPROVING")
			if err != nil {
				t.Errorf("claim failed for %s: %v", id, err)
				return
			}
			if job != nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(workerID)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one claimer to win the lease, got %v", winners)
	}
}

// TestEnqueueIsIdempotentWhilePending asserts Blown-Account Recovery's
// idempotent IMPROVING requeue (§4.N): enqueuing a second job of the same
// type for a bot that already has one QUEUED/RUNNING is a no-op.
func TestEnqueueIsIdempotentWhilePending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	queue := New(Options{LeaseSeconds: 60}, store)

	first, err := queue.Enqueue(ctx, db.BotJob{ID: "job-1", BotID: "bot-1", JobType: "IMPROVING"})
	if err != nil || !first {
		t.Fatalf("first enqueue failed: enqueued=%v err=%v", first, err)
	}

	second, err := queue.Enqueue(ctx, db.BotJob{ID: "job-2", BotID: "bot-1", JobType: "IMPROVING"})
	if err != nil {
		t.Fatalf("second enqueue errored: %v", err)
	}
	if second {
		t.Fatal("expected second enqueue to be skipped while a job is already pending")
	}
}

// TestClaimJobRespectsActiveLeaseThenReclaim asserts a job under an active
// lease cannot be claimed by a second worker, and that once the lease is
// released and the row is put back to QUEUED it can be claimed again. Lease
// expiry itself is not exercised.
func TestClaimJobRespectsActiveLeaseThenReclaim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.EnqueueJob(ctx, db.BotJob{ID: "job-1", BotID: "bot-1", JobType: "IMPROVING"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := store.ClaimJob(ctx, "worker-1", 60, "IMPROVING")
	if err != nil || job == nil {
		t.Fatalf("first claim failed: job=%v err=%v", job, err)
	}

	again, err := store.ClaimJob(ctx, "worker-2", 60, "IMPROVING")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if again != nil {
		t.Fatal("expected job with an active lease to not be claimable by a second worker")
	}

	if err := store.ReleaseJobLease(ctx, job.ID, "worker-1", "TIMEOUT"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.DB.ExecContext(ctx, `UPDATE bot_jobs SET status = 'QUEUED', lease_owner = NULL, lease_expires_at = NULL WHERE id = ?`, job.ID); err != nil {
		t.Fatalf("reset job for re-claim: %v", err)
	}

	reclaimed, err := store.ClaimJob(ctx, "worker-2", 60, "IMPROVING")
	if err != nil {
		t.Fatalf("reclaim errored: %v", err)
	}
	if reclaimed == nil {
		t.Fatal("expected job to be reclaimable after lease release")
	}
}
