package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/mailer"
	"github.com/sahil00000001/PremiumBulkMail/internal/models"
	"github.com/sahil00000001/PremiumBulkMail/internal/store"
	"github.com/sahil00000001/PremiumBulkMail/internal/tracking"
)

type fakeSender struct {
	mu      sync.Mutex
	sendErr error
	sent    []string
	times   []time.Time
	block   chan struct{}
}

func (f *fakeSender) Verify(ctx context.Context) error {
	return nil
}

func (f *fakeSender) Send(ctx context.Context, to, subject, html string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, to)
	f.times = append(f.times, time.Now())
	return nil
}

func (f *fakeSender) deliveries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTracker(t *testing.T) *tracking.Gateway {
	t.Helper()

	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		id := fmt.Sprintf("px-%d", count)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"id":        id,
			"embedCode": `<img src="/px/` + id + `">`,
		})
	}))
	t.Cleanup(srv.Close)
	return tracking.NewGateway(srv.URL, 2*time.Second, testLogger())
}

func testCreds() models.Credentials {
	return models.Credentials{
		FullName: "Test Sender",
		Email:    "sender@example.com",
		Password: "app-password",
	}
}

func seedBatch(t *testing.T, st store.Store, batchID string, ready bool, emails ...string) {
	t.Helper()

	batch := &models.Batch{
		ID:          batchID,
		SenderName:  "Test Sender",
		SenderEmail: "sender@example.com",
		TotalEmails: len(emails),
		CreatedAt:   time.Now().UTC(),
		Columns:     []string{"Email", "Name"},
		EmailColumn: "Email",
	}
	if ready {
		batch.Template = "Hello @Name"
		batch.Subject = "Greetings"
	}
	if err := st.CreateBatch(batch); err != nil {
		t.Fatalf("CreateBatch() error: %v", err)
	}

	recipients := make([]models.Recipient, len(emails))
	for i, email := range emails {
		recipients[i] = models.Recipient{
			ID:    fmt.Sprintf("%s-r%d", batchID, i),
			Seq:   i,
			Email: email,
			Data:  `{"Email":"` + email + `","Name":"User"}`,
		}
	}
	if len(recipients) > 0 {
		if err := st.AddRecipients(batchID, recipients); err != nil {
			t.Fatalf("AddRecipients() error: %v", err)
		}
	}
}

func newTestOrchestrator(t *testing.T, st store.Store, sender *fakeSender, cfg Config) *Orchestrator {
	t.Helper()

	if cfg.SendDelay == 0 {
		cfg.SendDelay = 5 * time.Millisecond
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 10 * time.Millisecond
	}

	registry := NewRegistry(time.Hour, testLogger())
	factory := func(creds models.Credentials) mailer.Sender { return sender }
	o := NewOrchestrator(st, registry, testTracker(t), factory, cfg, testLogger())
	t.Cleanup(o.Stop)
	return o
}

// collect drains a progress stream until it closes or the deadline
// passes, returning everything received.
func collect(t *testing.T, ch <-chan Event, deadline time.Duration) []Event {
	t.Helper()

	var events []Event
	timeout := time.After(deadline)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %d events", len(events))
		}
	}
}

func TestStartValidation(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "ready", true, "a@example.com")
	seedBatch(t, st, "no-template", false, "a@example.com")
	seedBatch(t, st, "empty", true)

	o := newTestOrchestrator(t, st, &fakeSender{}, Config{})

	tests := []struct {
		name    string
		batchID string
		creds   models.Credentials
		wantErr error
	}{
		{"unknown batch", "missing", testCreds(), store.ErrNotFound},
		{"template not set", "no-template", testCreds(), ErrBatchNotReady},
		{"no recipients", "empty", testCreds(), ErrNoRecipients},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.Start(tt.batchID, tt.creds); !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("invalid credentials", func(t *testing.T) {
		creds := testCreds()
		creds.Email = "not-an-address"
		if _, err := o.Start("ready", creds); err == nil {
			t.Error("Start() expected error for invalid credentials")
		}
	})
}

func TestRunDeliversAllRecipientsInOrder(t *testing.T) {
	st := store.NewMemoryStore()
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	seedBatch(t, st, "batch-1", true, emails...)

	sender := &fakeSender{}
	o := newTestOrchestrator(t, st, sender, Config{})

	info, err := o.Start("batch-1", testCreds())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if info.TotalEmails != 3 {
		t.Errorf("TotalEmails = %d, want 3", info.TotalEmails)
	}

	ch, err := o.Watch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	events := collect(t, ch, 5*time.Second)

	if events[0].Type != EventInit || events[0].Total != 3 {
		t.Errorf("first event = %+v, want init with total 3", events[0])
	}
	final := events[len(events)-1]
	if final.Type != EventComplete || final.Sent != 3 || final.Failed != 0 {
		t.Errorf("final event = %+v, want complete 3/0", final)
	}

	if got := sender.deliveries(); len(got) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(got))
	} else {
		for i, email := range emails {
			if got[i] != email {
				t.Errorf("delivery[%d] = %s, want %s", i, got[i], email)
			}
		}
	}

	recipients, _ := st.GetRecipients("batch-1")
	for _, rec := range recipients {
		if rec.Status != models.StatusSent {
			t.Errorf("recipient %s status = %s, want sent", rec.Email, rec.Status)
		}
		if rec.TrackingID == "" {
			t.Errorf("recipient %s has no tracking id", rec.Email)
		}
	}

	batch, _ := st.GetBatch("batch-1")
	if batch.SentEmails != 3 || batch.FailedEmails != 0 {
		t.Errorf("batch counters = %d/%d, want 3/0", batch.SentEmails, batch.FailedEmails)
	}
}

func TestRunRecordsFailures(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com")

	sender := &fakeSender{sendErr: &mailer.SendError{Class: mailer.FailureAuth, Message: "535 rejected"}}
	o := newTestOrchestrator(t, st, sender, Config{})

	if _, err := o.Start("batch-1", testCreds()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch, err := o.Watch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	events := collect(t, ch, 5*time.Second)

	final := events[len(events)-1]
	if final.Type != EventComplete || final.Sent != 0 || final.Failed != 2 {
		t.Errorf("final event = %+v, want complete 0/2", final)
	}

	recipients, _ := st.GetRecipients("batch-1")
	for _, rec := range recipients {
		if rec.Status != models.StatusFailed {
			t.Errorf("recipient %s status = %s, want failed", rec.Email, rec.Status)
		}
		if rec.TrackingID != "" {
			t.Errorf("failed recipient %s has tracking id %s", rec.Email, rec.TrackingID)
		}
	}
}

func TestRunSkipsTerminalRecipients(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com", "c@example.com")

	// First recipient already delivered by an earlier run.
	recipients, _ := st.GetRecipients("batch-1")
	st.UpdateRecipientStatus(recipients[0].ID, models.StatusSent)

	sender := &fakeSender{}
	o := newTestOrchestrator(t, st, sender, Config{})

	if _, err := o.Start("batch-1", testCreds()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch, err := o.Watch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	events := collect(t, ch, 5*time.Second)

	final := events[len(events)-1]
	if final.Type != EventComplete || final.Sent != 3 || final.Failed != 0 {
		t.Errorf("final event = %+v, want complete 3/0", final)
	}

	got := sender.deliveries()
	want := []string{"b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("delivered %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConcurrentStartRejected(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com")

	block := make(chan struct{})
	sender := &fakeSender{block: block}
	o := newTestOrchestrator(t, st, sender, Config{})

	if _, err := o.Start("batch-1", testCreds()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := o.Start("batch-1", testCreds()); !errors.Is(err, ErrSendInProgress) {
		t.Errorf("second Start() error = %v, want ErrSendInProgress", err)
	}

	close(block)
}

func TestSendDelayBetweenRecipients(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com", "c@example.com")

	sender := &fakeSender{}
	delay := 50 * time.Millisecond
	o := newTestOrchestrator(t, st, sender, Config{SendDelay: delay})

	if _, err := o.Start("batch-1", testCreds()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch, _ := o.Watch(context.Background(), "batch-1")
	collect(t, ch, 10*time.Second)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.times) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(sender.times))
	}
	if elapsed := sender.times[2].Sub(sender.times[0]); elapsed < 2*delay {
		t.Errorf("first-to-last gap = %v, want at least %v", elapsed, 2*delay)
	}
}

func TestObserverDoesNotBlockStart(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com", "c@example.com")

	// One recipient delivered by an interrupted earlier run.
	recipients, _ := st.GetRecipients("batch-1")
	st.UpdateRecipientStatus(recipients[0].ID, models.StatusSent)

	sender := &fakeSender{}
	o := newTestOrchestrator(t, st, sender, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.Watch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	<-ch
	cancel()

	if _, err := o.Start("batch-1", testCreds()); err != nil {
		t.Fatalf("Start() after observer peek error: %v", err)
	}

	ch, err = o.Watch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	events := collect(t, ch, 5*time.Second)

	final := events[len(events)-1]
	if final.Type != EventComplete || final.Sent != 3 || final.Failed != 0 {
		t.Errorf("final event = %+v, want complete 3/0", final)
	}
}

func TestAcquireKeepsLiveSession(t *testing.T) {
	registry := NewRegistry(time.Hour, testLogger())

	live := newSession("batch-1", 3, true)
	if _, ok := registry.Acquire(live); !ok {
		t.Fatal("Acquire() rejected the first session")
	}

	if resident, ok := registry.Acquire(newSession("batch-1", 3, true)); ok || resident != live {
		t.Error("Acquire() displaced a live session")
	}

	live.finish("")
	replacement := newSession("batch-1", 3, true)
	if resident, ok := registry.Acquire(replacement); !ok || resident != replacement {
		t.Error("Acquire() kept a finished session")
	}
}

func TestFactoryPanicFinishesSession(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com")

	registry := NewRegistry(time.Hour, testLogger())
	factory := func(creds models.Credentials) mailer.Sender {
		panic("transport construction failed")
	}
	cfg := Config{SendDelay: time.Millisecond, ProgressInterval: 5 * time.Millisecond}
	o := NewOrchestrator(st, registry, testTracker(t), factory, cfg, testLogger())
	t.Cleanup(o.Stop)

	if _, err := o.Start("batch-1", testCreds()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch, err := o.Watch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	events := collect(t, ch, 5*time.Second)

	final := events[len(events)-1]
	if final.Type != EventError || final.Message == "" {
		t.Errorf("final event = %+v, want error with message", final)
	}

	recipients, _ := st.GetRecipients("batch-1")
	for _, rec := range recipients {
		if rec.Status != models.StatusPending {
			t.Errorf("recipient %s status = %s, want pending", rec.Email, rec.Status)
		}
	}
}

func TestWatchSynthesizesSession(t *testing.T) {
	st := store.NewMemoryStore()
	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	seedBatch(t, st, "batch-1", true, emails...)

	// Two already sent from an interrupted earlier run.
	recipients, _ := st.GetRecipients("batch-1")
	st.UpdateRecipientStatus(recipients[0].ID, models.StatusSent)
	st.UpdateRecipientStatus(recipients[1].ID, models.StatusSent)

	o := newTestOrchestrator(t, st, &fakeSender{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := o.Watch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	init := <-ch
	if init.Type != EventInit || init.Sent != 2 || init.Failed != 0 || init.Total != 5 {
		t.Errorf("init = %+v, want 2/0 of 5", init)
	}

	status := <-ch
	if status.Type != EventStatus {
		t.Fatalf("second event = %+v, want status", status)
	}
	if len(status.Recipients) != 5 {
		t.Errorf("status carries %d recipients, want 5", len(status.Recipients))
	}
}

func TestWatchCompletedBatch(t *testing.T) {
	st := store.NewMemoryStore()
	seedBatch(t, st, "batch-1", true, "a@example.com", "b@example.com")

	recipients, _ := st.GetRecipients("batch-1")
	for _, rec := range recipients {
		st.UpdateRecipientStatus(rec.ID, models.StatusSent)
	}

	o := newTestOrchestrator(t, st, &fakeSender{}, Config{})

	ch, err := o.Watch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	events := collect(t, ch, 5*time.Second)

	final := events[len(events)-1]
	if final.Type != EventComplete || final.Sent != 2 {
		t.Errorf("final event = %+v, want complete with 2 sent", final)
	}
}

func TestWatchUnknownBatch(t *testing.T) {
	o := newTestOrchestrator(t, store.NewMemoryStore(), &fakeSender{}, Config{})

	if _, err := o.Watch(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Watch() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryReapsFinishedSessions(t *testing.T) {
	registry := NewRegistry(time.Minute, testLogger())

	live := newSession("live", 3, true)
	done := newSession("done", 3, true)
	done.finish("")
	registry.Acquire(live)
	registry.Acquire(done)

	registry.reap(time.Now().Add(2 * time.Minute))

	if registry.Get("done") != nil {
		t.Error("finished session not reaped after retention")
	}
	if registry.Get("live") == nil {
		t.Error("live session reaped")
	}
}
