package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/forgequeue/forgequeue/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenClose(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMigrate_idempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
}

func TestClaimOne_FIFO(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id1, err := st.Enqueue(ctx, "run-1", models.PhasePlan)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	id2, err := st.Enqueue(ctx, "run-2", models.PhasePlan)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := st.ClaimOne(ctx)
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if job == nil || job.ID != id1 {
		t.Fatalf("ClaimOne: want first-enqueued job %d, got %+v", id1, job)
	}
	if job.Status != models.JobInProgress || job.Attempt != 1 {
		t.Fatalf("ClaimOne: want in_progress/attempt=1, got %+v", job)
	}

	job2, err := st.ClaimOne(ctx)
	if err != nil {
		t.Fatalf("ClaimOne second: %v", err)
	}
	if job2 == nil || job2.ID != id2 {
		t.Fatalf("ClaimOne second: want %d, got %+v", id2, job2)
	}

	job3, err := st.ClaimOne(ctx)
	if err != nil {
		t.Fatalf("ClaimOne third: %v", err)
	}
	if job3 != nil {
		t.Fatalf("ClaimOne on empty queue: want nil, got %+v", job3)
	}
}

func TestClaimOne_concurrentClaimsDisjoint(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := st.Enqueue(ctx, "run-x", models.PhasePlan); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	seen := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			job, err := st.ClaimOne(ctx)
			if err != nil {
				errs <- err
				return
			}
			if job == nil {
				errs <- nil
				return
			}
			seen <- job.ID
			errs <- nil
		}()
	}
	ids := make(map[int64]bool)
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("ClaimOne concurrent: %v", err)
		}
	}
	close(seen)
	for id := range seen {
		if ids[id] {
			t.Fatalf("job %d claimed twice", id)
		}
		ids[id] = true
	}
	if len(ids) != n {
		t.Fatalf("expected %d distinct claims, got %d", n, len(ids))
	}
}

func TestRequeueMarkDoneMarkFailed(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.Enqueue(ctx, "run-1", models.PhaseImplement)
	job, _ := st.ClaimOne(ctx)
	if job.ID != id {
		t.Fatalf("unexpected claim")
	}

	if err := st.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	job2, _ := st.ClaimOne(ctx)
	if job2 == nil || job2.ID != id || job2.Attempt != 2 {
		t.Fatalf("after Requeue+ClaimOne: got %+v", job2)
	}

	if err := st.MarkDone(ctx, id); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	id2, _ := st.Enqueue(ctx, "run-1", models.PhaseReview)
	_, _ = st.ClaimOne(ctx)
	if err := st.MarkFailed(ctx, id2, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
}

func TestCancelRun(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, _ = st.Enqueue(ctx, "run-1", models.PhasePlan)
	idB, _ := st.Enqueue(ctx, "run-1", models.PhaseTest)
	_, _ = st.ClaimOne(ctx) // claims idA, leaving idB queued

	if err := st.CancelRun(ctx, "run-1"); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	job, err := st.ClaimOne(ctx)
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if job != nil {
		t.Fatalf("expected queued job %d to be cancelled, not claimable, got %+v", idB, job)
	}
}

func TestAcquireLease_exclusiveAndSteal(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	st.LeaseTimeout = 0 // makes any existing lease immediately stale for the steal assertion
	ctx := context.Background()

	ok, err := st.AcquireLease(ctx, "run-1", "owner-a")
	if err != nil || !ok {
		t.Fatalf("AcquireLease first: ok=%v err=%v", ok, err)
	}

	ok2, err := st.AcquireLease(ctx, "run-1", "owner-b")
	if err != nil {
		t.Fatalf("AcquireLease steal: %v", err)
	}
	if !ok2 {
		t.Fatalf("expected owner-b to steal an expired lease")
	}
}

func TestAcquireLease_blocksWhileFresh(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	ok, err := st.AcquireLease(ctx, "run-1", "owner-a")
	if err != nil || !ok {
		t.Fatalf("AcquireLease first: ok=%v err=%v", ok, err)
	}
	ok2, err := st.AcquireLease(ctx, "run-1", "owner-b")
	if err != nil {
		t.Fatalf("AcquireLease second: %v", err)
	}
	if ok2 {
		t.Fatalf("expected owner-b to be denied a fresh lease")
	}
}

func TestReleaseLease_ownerMismatchNoop(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, _ = st.AcquireLease(ctx, "run-1", "owner-a")
	if err := st.ReleaseLease(ctx, "run-1", "owner-b"); err != nil {
		t.Fatalf("ReleaseLease mismatched owner: %v", err)
	}
	ok, err := st.AcquireLease(ctx, "run-1", "owner-c")
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if ok {
		t.Fatalf("expected owner-a's lease to still hold after a mismatched release")
	}
}

func TestForceReleaseLease(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, _ = st.AcquireLease(ctx, "run-1", "owner-a")
	if err := st.ForceReleaseLease(ctx, "run-1"); err != nil {
		t.Fatalf("ForceReleaseLease: %v", err)
	}
	ok, err := st.AcquireLease(ctx, "run-1", "owner-b")
	if err != nil || !ok {
		t.Fatalf("AcquireLease after force release: ok=%v err=%v", ok, err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, _ = st.Enqueue(ctx, "run-1", models.PhasePlan)
	_, _ = st.Enqueue(ctx, "run-2", models.PhasePlan)
	_, _ = st.ClaimOne(ctx)
	_, _ = st.AcquireLease(ctx, "run-1", "owner-a")

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued != 1 || stats.InProgress != 1 || stats.LeaseCount != 1 {
		t.Fatalf("Stats: got %+v", stats)
	}
}

func TestRecoverStale_requeuesAndReleases(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	st.LeaseTimeout = 0
	ctx := context.Background()

	id, _ := st.Enqueue(ctx, "run-1", models.PhasePlan)
	job, _ := st.ClaimOne(ctx)
	if job.ID != id {
		t.Fatal("unexpected claim")
	}
	_, _ = st.AcquireLease(ctx, "run-1", "owner-a")

	result, err := st.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if result.RequeuedJobs != 1 {
		t.Fatalf("RecoverStale: want 1 requeued job, got %+v", result)
	}
	if result.ReleasedLeases != 1 {
		t.Fatalf("RecoverStale: want 1 released lease, got %+v", result)
	}

	requeued, err := st.ClaimOne(ctx)
	if err != nil || requeued == nil || requeued.ID != id {
		t.Fatalf("expected stale job requeued and reclaimable, got %+v err=%v", requeued, err)
	}

	result2, err := st.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("RecoverStale second: %v", err)
	}
	if result2.RequeuedJobs != 0 || result2.ReleasedLeases != 0 {
		t.Fatalf("RecoverStale repeated with no new staleness: want {0,0}, got %+v", result2)
	}
}

func TestTouchAndTouchLease(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.Enqueue(ctx, "run-1", models.PhasePlan)
	job, _ := st.ClaimOne(ctx)
	if job.ID != id {
		t.Fatal("unexpected claim")
	}
	if err := st.Touch(ctx, id); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	_, _ = st.AcquireLease(ctx, "run-1", "owner-a")
	if err := st.TouchLease(ctx, "run-1", "owner-a"); err != nil {
		t.Fatalf("TouchLease: %v", err)
	}
}
