package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"txreport/internal/amqp"
	"txreport/internal/calendar"
	"txreport/internal/lock"
	"txreport/internal/services"
)

type fakeBuilder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeBuilder) RebuildAllSummaries(context.Context) (services.RebuildReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	report := services.RebuildReport{
		StartedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Duration:  time.Second,
		Passes: []services.PassReport{
			{PeriodType: calendar.Daily, Rows: 3},
			{PeriodType: calendar.Weekly, Rows: 2},
			{PeriodType: calendar.Monthly, Rows: 1},
		},
	}
	return report, f.err
}

func (f *fakeBuilder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	msgs []*amqp.SummariesRebuiltMessage
	err  error
}

func (f *fakePublisher) PublishSummariesRebuilt(_ context.Context, msg *amqp.SummariesRebuiltMessage) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestRunOncePublishes(t *testing.T) {
	b := &fakeBuilder{}
	p := &fakePublisher{}
	w := NewSummaryWorker(b, lock.NewLocalLocker(), p, time.Minute)

	outcome, err := w.RunOnce(context.Background())
	if err != nil || outcome != Rebuilt {
		t.Fatalf("RunOnce = %v, %v", outcome, err)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(p.msgs))
	}
	msg := p.msgs[0]
	if msg.Rows != 6 || len(msg.Granularities) != 3 || msg.DurationMS != 1000 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	b := &fakeBuilder{}
	locker := lock.NewLocalLocker()
	held, err := locker.Obtain(context.Background(), RebuildLockKey, time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	w := NewSummaryWorker(b, locker, nil, time.Minute)
	outcome, err := w.RunOnce(context.Background())
	if err != nil || outcome != Skipped {
		t.Fatalf("RunOnce = %v, %v; want skipped", outcome, err)
	}
	if b.Calls() != 0 {
		t.Error("builder must not run while the lock is held")
	}

	held.Release(context.Background())
	if outcome, _ := w.RunOnce(context.Background()); outcome != Rebuilt {
		t.Errorf("expected rebuild after release, got %v", outcome)
	}
}

func TestRunOnceFailureReleasesLock(t *testing.T) {
	b := &fakeBuilder{err: errors.New("store down")}
	p := &fakePublisher{}
	locker := lock.NewLocalLocker()
	w := NewSummaryWorker(b, locker, p, time.Minute)

	outcome, err := w.RunOnce(context.Background())
	if err == nil || outcome != Failed {
		t.Fatalf("RunOnce = %v, %v; want failure", outcome, err)
	}
	if len(p.msgs) != 0 {
		t.Error("failed rebuild must not publish")
	}
	if _, err := locker.Obtain(context.Background(), RebuildLockKey, time.Minute); err != nil {
		t.Errorf("lock not released after failure: %v", err)
	}
}

func TestRunOncePublishErrorIsNotFatal(t *testing.T) {
	w := NewSummaryWorker(&fakeBuilder{}, nil, &fakePublisher{err: amqp.ErrCircuitOpen}, 0)
	if outcome, err := w.RunOnce(context.Background()); err != nil || outcome != Rebuilt {
		t.Fatalf("RunOnce = %v, %v", outcome, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b := &fakeBuilder{}
	w := NewSummaryWorker(b, nil, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if b.Calls() < 2 {
		t.Errorf("expected immediate and scheduled runs, got %d", b.Calls())
	}
}

func TestOutcomeString(t *testing.T) {
	if Rebuilt.String() != "rebuilt" || Skipped.String() != "skipped" || Failed.String() != "failed" {
		t.Error("unexpected outcome names")
	}
}
