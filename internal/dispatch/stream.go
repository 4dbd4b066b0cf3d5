package dispatch

import (
	"context"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

// Watch subscribes to the progress of a batch. The returned channel
// carries an init event immediately, status events at the configured
// cadence and a final complete or error event, then closes.
//
// When no session is live the batch's persisted recipient state is
// used to synthesize a read-only stand-in, so progress of an earlier
// or interrupted run can still be observed. The stand-in is never
// registered: observing a batch must not block a later Start.
func (o *Orchestrator) Watch(ctx context.Context, batchID string) (<-chan Event, error) {
	session := o.registry.Get(batchID)
	synthesized := false
	if session == nil {
		s, err := o.synthesize(batchID)
		if err != nil {
			return nil, err
		}
		session = s
		synthesized = true
	}

	ch := make(chan Event, 4)
	go o.stream(ctx, session, synthesized, ch)
	return ch, nil
}

// synthesize rebuilds a session from persisted state. The run counts
// as live while any recipient is still pending.
func (o *Orchestrator) synthesize(batchID string) (*Session, error) {
	recipients, err := o.store.GetRecipients(batchID)
	if err != nil {
		return nil, err
	}

	sent, failed := 0, 0
	for _, rec := range recipients {
		switch rec.Status {
		case models.StatusSent:
			sent++
		case models.StatusFailed:
			failed++
		}
	}

	inProgress := sent+failed < len(recipients)
	session := newSession(batchID, len(recipients), inProgress)
	session.setCounts(sent, failed)
	if !inProgress {
		session.finish("")
	}
	return session, nil
}

func (o *Orchestrator) stream(ctx context.Context, session *Session, synthesized bool, ch chan<- Event) {
	defer close(ch)

	progress := session.Snapshot()
	if !emit(ctx, ch, Event{
		Type:   EventInit,
		Sent:   progress.Sent,
		Failed: progress.Failed,
		Total:  progress.Total,
	}) {
		return
	}

	ticker := time.NewTicker(o.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}

		statuses := o.recipientStatuses(session.BatchID)
		if synthesized && statuses != nil {
			resyncSession(session, statuses)
		}
		progress = session.Snapshot()
		if !emit(ctx, ch, Event{
			Type:       EventStatus,
			Sent:       progress.Sent,
			Failed:     progress.Failed,
			Total:      progress.Total,
			Recipients: statuses,
		}) {
			return
		}

		if !progress.InProgress {
			final := Event{
				Type:   EventComplete,
				Sent:   progress.Sent,
				Failed: progress.Failed,
				Total:  progress.Total,
			}
			if progress.ErrMsg != "" {
				final.Type = EventError
				final.Message = progress.ErrMsg
			}
			emit(ctx, ch, final)
			return
		}
	}
}

// resyncSession folds persisted recipient statuses back into a
// read-only session, so a run started elsewhere while the observer is
// attached still advances its counters.
func resyncSession(session *Session, statuses []models.RecipientStatus) {
	sent, failed := 0, 0
	for _, st := range statuses {
		switch st.Status {
		case models.StatusSent:
			sent++
		case models.StatusFailed:
			failed++
		}
	}
	session.setCounts(sent, failed)
	if sent+failed >= len(statuses) {
		session.finish("")
	}
}

func (o *Orchestrator) recipientStatuses(batchID string) []models.RecipientStatus {
	recipients, err := o.store.GetRecipients(batchID)
	if err != nil {
		o.logger.Warn("failed to load recipient statuses for stream",
			"batch_id", batchID,
			"error", err)
		return nil
	}

	statuses := make([]models.RecipientStatus, len(recipients))
	for i, rec := range recipients {
		statuses[i] = models.RecipientStatus{Email: rec.Email, Status: rec.Status}
	}
	return statuses
}

func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}
