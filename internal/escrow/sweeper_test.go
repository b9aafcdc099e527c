package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/lotline/lotline/internal/payments"
)

func newTestSweeper(env *testEnv) *Sweeper {
	return NewSweeper(env.service, env.store, time.Hour, nil)
}

func TestSweeperReleasesPastDeadline(t *testing.T) {
	env := newTestEnv()
	rec := createTestEscrow(t, env)
	fundTestEscrow(t, env, rec.ID)
	sweeper := newTestSweeper(env)
	ctx := context.Background()

	deadline := rec.ReleaseDeadline

	// One second before the deadline: not eligible.
	sweeper.Tick(ctx, deadline.Add(-time.Second))
	got, _ := env.service.Get(ctx, rec.ID)
	if got.Status != StatusFunded {
		t.Errorf("status before deadline = %s, want %s", got.Status, StatusFunded)
	}

	// Exactly at the deadline: eligible.
	env.advance(DefaultInspectionWindow)
	sweeper.Tick(ctx, deadline)
	got, _ = env.service.Get(ctx, rec.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status at deadline = %s, want %s", got.Status, StatusCompleted)
	}
	if got.Outcome != OutcomeReleasedToSeller {
		t.Errorf("outcome = %s, want %s", got.Outcome, OutcomeReleasedToSeller)
	}

	// The sweep release is logged as the system caller.
	entries, _ := env.service.Log(ctx, rec.ID, 0)
	last := entries[len(entries)-1]
	if last.Action != ActionReleased || last.PerformedBy != SystemCaller {
		t.Errorf("last log entry = %s by %s, want %s by %s", last.Action, last.PerformedBy, ActionReleased, SystemCaller)
	}
}

func TestSweeperSkipsDisputed(t *testing.T) {
	env := newTestEnv()
	rec := createTestEscrow(t, env)
	fundTestEscrow(t, env, rec.ID)
	ctx := context.Background()
	if _, err := env.service.OpenDispute(ctx, rec.ID, "buyer-1", "engine noise"); err != nil {
		t.Fatal(err)
	}
	sweeper := newTestSweeper(env)

	env.advance(DefaultInspectionWindow * 2)
	sweeper.Tick(ctx, env.now)

	got, _ := env.service.Get(ctx, rec.ID)
	if got.Status != StatusDisputed {
		t.Errorf("status = %s, want %s (disputed records never auto-release)", got.Status, StatusDisputed)
	}
	_, transfers, _ := env.gateway.movements()
	if transfers != 0 {
		t.Errorf("transfers = %d, want 0", transfers)
	}
}

func TestSweeperExpiresUnfunded(t *testing.T) {
	env := newTestEnv()
	rec := createTestEscrow(t, env)
	sweeper := newTestSweeper(env)
	ctx := context.Background()

	env.advance(DefaultFundingWindow)
	sweeper.Tick(ctx, env.now)

	got, _ := env.service.Get(ctx, rec.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want %s", got.Status, StatusExpired)
	}
	charges, transfers, refunds := env.gateway.movements()
	if charges+transfers+refunds != 0 {
		t.Errorf("gateway movements = %d/%d/%d, want none", charges, transfers, refunds)
	}
}

func TestSweeperOneFailureDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv()
	first := createTestEscrow(t, env)
	second := createTestEscrow(t, env)
	fundTestEscrow(t, env, first.ID)
	fundTestEscrow(t, env, second.ID)
	ctx := context.Background()

	// The first record's transfer fails at the gateway during the sweep.
	env.gateway.failKeys["release_"+first.ID] = &payments.GatewayError{Op: "transfer", Code: "network", Retryable: true}

	sweeper := newTestSweeper(env)
	env.advance(DefaultInspectionWindow)
	sweeper.Tick(ctx, env.now)

	gotFirst, _ := env.service.Get(ctx, first.ID)
	if gotFirst.Status != StatusFunded {
		t.Errorf("first record status = %s, want %s after gateway failure", gotFirst.Status, StatusFunded)
	}
	got, _ := env.service.Get(ctx, second.ID)
	if got.Status != StatusCompleted {
		t.Errorf("second record status = %s, want %s", got.Status, StatusCompleted)
	}
}

func TestSweeperStartStop(t *testing.T) {
	env := newTestEnv()
	sweeper := NewSweeper(env.service, env.store, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !sweeper.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !sweeper.Running() {
		t.Fatal("sweeper did not start")
	}

	sweeper.Stop()
	deadline = time.Now().Add(time.Second)
	for sweeper.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sweeper.Running() {
		t.Fatal("sweeper did not stop")
	}
}

// A bare Stop must terminate the loop even without context
// cancellation and even if it lands while a tick is in progress.
func TestSweeperStopWithoutCancel(t *testing.T) {
	env := newTestEnv()
	sweeper := NewSweeper(env.service, env.store, time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !sweeper.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Give a few ticks time to be mid-flight when the stop arrives.
	time.Sleep(5 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop() // second call is a no-op

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop without context cancellation")
	}
	if sweeper.Running() {
		t.Error("Running() should report false after stop")
	}
}
