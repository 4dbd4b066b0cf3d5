// Package refresh polls the pixel tracker and folds engagement data
// back into recipient records.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/metrics"
	"github.com/sahil00000001/PremiumBulkMail/internal/models"
	"github.com/sahil00000001/PremiumBulkMail/internal/store"
	"github.com/sahil00000001/PremiumBulkMail/internal/tracking"
)

// Job periodically sweeps every batch for trackable recipients and
// pulls their pixel status. Tracker failures are absorbed; a sweep
// only ever writes forward progress.
type Job struct {
	store    store.Store
	tracker  *tracking.Gateway
	interval time.Duration
	logger   *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

func NewJob(st store.Store, tracker *tracking.Gateway, interval time.Duration, logger *slog.Logger) *Job {
	return &Job{
		store:    st,
		tracker:  tracker,
		interval: interval,
		logger:   logger.With("component", "refresh"),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (j *Job) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.sweepLoop(ctx)
	j.logger.Info("tracking refresh started", "interval", j.interval)
}

// Stop stops the sweep loop and waits for it to finish.
func (j *Job) Stop() {
	close(j.done)
	j.wg.Wait()
	j.logger.Info("tracking refresh stopped")
}

func (j *Job) sweepLoop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.RefreshAll(ctx)
		}
	}
}

// RefreshAll sweeps every batch once.
func (j *Job) RefreshAll(ctx context.Context) {
	metrics.IncTrackingRefreshes()

	batches, err := j.store.ListBatches()
	if err != nil {
		j.logger.Error("failed to list batches for refresh", "error", err)
		return
	}

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return
		default:
		}
		j.RefreshBatch(ctx, batch.ID)
	}
}

// RefreshBatch pulls pixel status for every trackable recipient of one
// batch. A recipient is trackable once it was sent with a tracking id.
func (j *Job) RefreshBatch(ctx context.Context, batchID string) {
	recipients, err := j.store.GetRecipients(batchID)
	if err != nil {
		j.logger.Error("failed to load recipients for refresh",
			"batch_id", batchID,
			"error", err)
		return
	}

	updated := 0
	for _, rec := range recipients {
		if rec.Status != models.StatusSent || rec.TrackingID == "" {
			continue
		}
		if j.refreshRecipient(ctx, rec) {
			updated++
		}
	}

	if updated > 0 {
		j.logger.Info("engagement updated",
			"batch_id", batchID,
			"recipients", updated)
	}
}

// RefreshRecipient force-refreshes a single tracking id. It reports
// whether the pixel was seen as opened.
func (j *Job) RefreshRecipient(ctx context.Context, trackingID string) bool {
	status := j.tracker.CheckStatus(ctx, trackingID)
	if !status.Opened {
		return false
	}

	j.writeEngagement(trackingID, status)
	return true
}

func (j *Job) refreshRecipient(ctx context.Context, rec models.Recipient) bool {
	status := j.tracker.CheckStatus(ctx, rec.TrackingID)
	if !status.Opened {
		return false
	}

	if rec.OpenedAt == nil {
		j.logger.Info("email opened",
			"recipient", rec.Email,
			"tracking_id", rec.TrackingID,
			"views", status.ViewCount,
			"view_time_ms", status.TotalViewTime)
		j.writeEngagement(rec.TrackingID, status)
		return true
	}

	// Already known open: only touch the record when the metrics moved.
	if status.ViewCount != rec.ViewCount || status.TotalViewTime != rec.TotalViewTime {
		j.writeEngagement(rec.TrackingID, status)
		return true
	}
	return false
}

func (j *Job) writeEngagement(trackingID string, status *tracking.Status) {
	openedAt := time.Now().UTC()
	if status.OpenedAt != nil {
		openedAt = *status.OpenedAt
	}

	err := j.store.UpdateRecipientEngagement(trackingID, openedAt, status.ViewCount, status.TotalViewTime, status.LastSeenAt)
	if err != nil {
		j.logger.Error("failed to persist engagement",
			"tracking_id", trackingID,
			"error", err)
	}
}
