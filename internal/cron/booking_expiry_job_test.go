package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/mycomarket/mycomarket-backend/pkg/logger"
	"github.com/mycomarket/mycomarket-backend/pkg/metrics"
)

type fakeCanceller struct {
	batches []int
	calls   int
	err     error
}

func (f *fakeCanceller) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Level: zerolog.ErrorLevel})
}

func TestBookingExpiryJob_DrainsFullBatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobMetrics := metrics.NewCronJobMetrics(reg)
	canceller := &fakeCanceller{batches: []int{5, 5, 2}}

	job, err := NewBookingExpiryJob(BookingExpiryJobParams{
		Logger:    testLogger(),
		Bookings:  canceller,
		Metrics:   jobMetrics,
		BatchSize: 5,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if canceller.calls != 3 {
		t.Fatalf("expected 3 sweep calls, got %d", canceller.calls)
	}

	expired, err := testutil.GatherAndCount(reg, "bookings_expired_total")
	if err != nil || expired != 1 {
		t.Fatalf("expected expired counter registered: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "bookings_expired_total" {
			continue
		}
		if got := family.GetMetric()[0].GetCounter().GetValue(); got != 12 {
			t.Fatalf("expected 12 expired bookings recorded, got %v", got)
		}
	}
}

func TestBookingExpiryJob_PartialBatchStopsLoop(t *testing.T) {
	canceller := &fakeCanceller{batches: []int{3}}
	job, err := NewBookingExpiryJob(BookingExpiryJobParams{
		Logger:    testLogger(),
		Bookings:  canceller,
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if canceller.calls != 1 {
		t.Fatalf("partial batch must end the sweep, got %d calls", canceller.calls)
	}
}

func TestBookingExpiryJob_SurfacesSweepError(t *testing.T) {
	canceller := &fakeCanceller{err: errors.New("db down")}
	job, err := NewBookingExpiryJob(BookingExpiryJobParams{
		Logger:   testLogger(),
		Bookings: canceller,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error to propagate")
	}
}

type fakeLock struct {
	locked   bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) {
	f.acquires++
	return f.locked, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.releases++
	return nil
}

type countingJob struct {
	runs int
}

func (c *countingJob) Name() string { return "counting" }

func (c *countingJob) Run(ctx context.Context) error {
	c.runs++
	return nil
}

func TestService_SkipsCycleWhenLockHeldElsewhere(t *testing.T) {
	job := &countingJob{}
	lock := &fakeLock{locked: false}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job must not run without the lock, ran %d times", job.runs)
	}
	if lock.releases != 0 {
		t.Fatal("lock must not be released when never acquired")
	}
}

func TestService_RunsJobsUnderLock(t *testing.T) {
	job := &countingJob{}
	lock := &fakeLock{locked: true}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected one job run, got %d", job.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}
