// Package dispatch runs batch sends and streams their progress.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/mailer"
	"github.com/sahil00000001/PremiumBulkMail/internal/metrics"
	"github.com/sahil00000001/PremiumBulkMail/internal/models"
	"github.com/sahil00000001/PremiumBulkMail/internal/store"
	"github.com/sahil00000001/PremiumBulkMail/internal/template"
	"github.com/sahil00000001/PremiumBulkMail/internal/tracking"
)

var (
	// ErrBatchNotReady means the batch has no template or subject yet.
	ErrBatchNotReady = errors.New("batch template is not set")
	// ErrNoRecipients means the batch holds no recipients.
	ErrNoRecipients = errors.New("batch has no recipients")
	// ErrSendInProgress means a run for the batch is already live.
	ErrSendInProgress = errors.New("send already in progress for batch")
)

// Config holds the orchestrator timing knobs.
type Config struct {
	// SendDelay is the pause between consecutive recipients.
	SendDelay time.Duration
	// ProgressInterval is the cadence of status events on a stream.
	ProgressInterval time.Duration
}

// Orchestrator runs one sequential send loop per batch and serves
// progress streams over the session registry.
type Orchestrator struct {
	store    store.Store
	registry *Registry
	renderer *template.Renderer
	tracker  *tracking.Gateway
	factory  mailer.Factory
	cfg      Config
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(st store.Store, registry *Registry, tracker *tracking.Gateway, factory mailer.Factory, cfg Config, logger *slog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    st,
		registry: registry,
		renderer: template.NewRenderer(),
		tracker:  tracker,
		factory:  factory,
		cfg:      cfg,
		logger:   logger.With("component", "dispatch"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop cancels all live runs and waits for them to wind down.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
	o.logger.Info("dispatcher stopped")
}

// StartInfo is returned when a run is accepted.
type StartInfo struct {
	BatchID     string `json:"batchId"`
	TotalEmails int    `json:"totalEmails"`
}

// Start validates the batch and credentials and launches the send loop
// in the background. At most one run per batch may be live.
func (o *Orchestrator) Start(batchID string, creds models.Credentials) (*StartInfo, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	batch, err := o.store.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if !batch.TemplateReady() {
		return nil, ErrBatchNotReady
	}

	recipients, err := o.store.GetRecipients(batchID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	session := newSession(batchID, len(recipients), true)
	sent, failed := 0, 0
	for _, rec := range recipients {
		switch rec.Status {
		case models.StatusSent:
			sent++
		case models.StatusFailed:
			failed++
		}
	}
	session.setCounts(sent, failed)

	if _, ok := o.registry.Acquire(session); !ok {
		return nil, ErrSendInProgress
	}

	o.wg.Add(1)
	go o.run(session, *batch, recipients, creds)
	metrics.IncBatchesStarted()

	o.logger.Info("batch send started",
		"batch_id", batchID,
		"recipients", len(recipients),
		"sender", creds.Email)

	return &StartInfo{BatchID: batchID, TotalEmails: len(recipients)}, nil
}

func (o *Orchestrator) run(session *Session, batch models.Batch, recipients []models.Recipient, creds models.Credentials) {
	defer o.wg.Done()
	// A panic outside the per-recipient step still terminates the
	// session, so observers always get their terminal event.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("send run aborted",
				"batch_id", batch.ID,
				"panic", fmt.Sprint(r))
			session.finish("send run aborted unexpectedly")
		}
	}()

	sender := o.factory(creds)

	// Recipients already terminal from an earlier run are skipped; only
	// pending ones are attempted, in ingestion order.
	first := true
	for _, rec := range recipients {
		if rec.Status != models.StatusPending {
			continue
		}

		select {
		case <-o.ctx.Done():
			session.finish("send interrupted by shutdown")
			return
		default:
		}

		if !first && o.cfg.SendDelay > 0 {
			select {
			case <-o.ctx.Done():
				session.finish("send interrupted by shutdown")
				return
			case <-time.After(o.cfg.SendDelay):
			}
		}
		first = false

		o.sendOne(session, &batch, sender, rec)
	}

	progress := session.Snapshot()
	session.finish("")
	o.logger.Info("batch send finished",
		"batch_id", batch.ID,
		"sent", progress.Sent,
		"failed", progress.Failed)
}

// sendOne delivers to a single recipient and records the outcome. A
// panic in any step counts as a failure for that recipient only.
func (o *Orchestrator) sendOne(session *Session, batch *models.Batch, sender mailer.Sender, rec models.Recipient) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during send",
				"batch_id", batch.ID,
				"recipient", rec.Email,
				"panic", fmt.Sprint(r))
			metrics.IncEmailsFailed(string(mailer.FailureOther))
			o.recordOutcome(session, batch.ID, rec, false, "")
		}
	}()

	data, err := rec.ParseData()
	if err != nil {
		o.logger.Warn("recipient data unreadable, sending without substitutions",
			"batch_id", batch.ID,
			"recipient", rec.Email,
			"error", err)
		data = map[string]string{}
	}

	rendered := o.renderer.Render(batch.Template, batch.Subject, batch.Signature, batch.HTMLMode, data)

	// Tracking is best-effort; a pixel failure never blocks the send.
	trackingID := ""
	html := rendered.HTML
	if pixel, err := o.tracker.CreatePixel(o.ctx); err != nil {
		metrics.IncPixelCreateFailed()
		o.logger.Warn("tracking pixel unavailable, sending untracked",
			"batch_id", batch.ID,
			"recipient", rec.Email,
			"error", err)
	} else {
		metrics.IncPixelsCreated()
		trackingID = pixel.ID
		html = template.EmbedPixel(html, pixel.EmbedCode)
	}

	if err := sender.Send(o.ctx, rec.Email, rendered.Subject, html); err != nil {
		o.logger.Warn("send failed",
			"batch_id", batch.ID,
			"recipient", rec.Email,
			"class", string(mailer.Classify(err)),
			"error", err)
		metrics.IncEmailsFailed(string(mailer.Classify(err)))
		o.recordOutcome(session, batch.ID, rec, false, "")
		return
	}

	o.logger.Debug("send succeeded",
		"batch_id", batch.ID,
		"recipient", rec.Email,
		"tracking_id", trackingID)
	metrics.IncEmailsSent()
	o.recordOutcome(session, batch.ID, rec, true, trackingID)
}

func (o *Orchestrator) recordOutcome(session *Session, batchID string, rec models.Recipient, success bool, trackingID string) {
	status := models.StatusFailed
	if success {
		status = models.StatusSent
	}

	// The tracking id is written before the status so no reader ever
	// sees a sent recipient without one.
	if success && trackingID != "" {
		if err := o.store.UpdateRecipientTrackingID(rec.ID, trackingID); err != nil {
			o.logger.Error("failed to persist tracking id",
				"batch_id", batchID,
				"recipient", rec.Email,
				"error", err)
		}
	}
	if err := o.store.UpdateRecipientStatus(rec.ID, status); err != nil {
		o.logger.Error("failed to persist recipient status",
			"batch_id", batchID,
			"recipient", rec.Email,
			"error", err)
	}
	if err := o.store.IncrementBatchCounters(batchID, success); err != nil {
		o.logger.Error("failed to persist batch counters",
			"batch_id", batchID,
			"error", err)
	}

	session.record(success)
}
