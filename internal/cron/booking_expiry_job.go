package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mycomarket/mycomarket-backend/pkg/logger"
	"github.com/mycomarket/mycomarket-backend/pkg/metrics"
)

const defaultExpiryBatch = 200

// expiredBookingCanceller is the slice of the booking service the sweep uses.
// ExpireDue reports how many due holds it processed, not how many it
// cancelled, so a page full of already-released holds still drains.
type expiredBookingCanceller interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// BookingExpiryJobParams configure the hold expiry sweep.
type BookingExpiryJobParams struct {
	Logger    *logger.Logger
	Bookings  expiredBookingCanceller
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewBookingExpiryJob builds the job that releases lapsed temporary holds.
func NewBookingExpiryJob(params BookingExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Bookings == nil {
		return nil, fmt.Errorf("booking service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &bookingExpiryJob{
		logg:     params.Logger,
		bookings: params.Bookings,
		metrics:  params.Metrics,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type bookingExpiryJob struct {
	logg     *logger.Logger
	bookings expiredBookingCanceller
	metrics  *metrics.CronJobMetrics
	batch    int
	now      func() time.Time
}

func (j *bookingExpiryJob) Name() string { return "booking-expiry" }

// Run drains lapsed holds batch by batch. Each booking is released in its own
// transaction, so a mid-batch failure keeps prior releases committed.
func (j *bookingExpiryJob) Run(ctx context.Context) error {
	total := 0
	for {
		processed, err := j.bookings.ExpireDue(ctx, j.now().UTC(), j.batch)
		total += processed
		if err != nil {
			j.recordExpired(total)
			return fmt.Errorf("expire bookings: %w", err)
		}
		if processed < j.batch {
			break
		}
	}
	j.recordExpired(total)
	logCtx := j.logg.WithField(ctx, "count", total)
	j.logg.Info(logCtx, "booking expiry sweep complete")
	return nil
}

func (j *bookingExpiryJob) recordExpired(count int) {
	if j.metrics == nil {
		return
	}
	j.metrics.AddExpiredBookings(count)
}
