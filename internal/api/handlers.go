package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sahil00000001/PremiumBulkMail/internal/dispatch"
	"github.com/sahil00000001/PremiumBulkMail/internal/ingest"
	"github.com/sahil00000001/PremiumBulkMail/internal/mailer"
	"github.com/sahil00000001/PremiumBulkMail/internal/models"
	"github.com/sahil00000001/PremiumBulkMail/internal/store"
	"github.com/sahil00000001/PremiumBulkMail/internal/tracking"
)

const maxUploadBytes = 5 << 20

// MessageResponse is the generic message envelope.
type MessageResponse struct {
	Message string `json:"message"`
}

// UploadResponse is the response for POST /api/excel/upload.
type UploadResponse struct {
	Message     string          `json:"message"`
	BatchID     string          `json:"batchId"`
	Columns     []string        `json:"columns"`
	EmailColumn string          `json:"emailColumn"`
	Recipients  []UploadedEntry `json:"recipients"`
}

// UploadedEntry is one parsed recipient in an upload response.
type UploadedEntry struct {
	Email  string            `json:"email"`
	Data   map[string]string `json:"data"`
	Status string            `json:"status"`
}

// SendRequest is the body for POST /api/send.
type SendRequest struct {
	Credentials models.Credentials `json:"credentials"`
	BatchID     string             `json:"batchId"`
}

// TestRequest is the body for POST /api/email/test.
type TestRequest struct {
	Credentials models.Credentials `json:"credentials"`
}

// TestResponse is the response for POST /api/email/test.
type TestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// TemplateRequest is the body for POST /api/template/{batchID}.
type TemplateRequest struct {
	Template  string `json:"template"`
	Subject   string `json:"subject"`
	Signature string `json:"signature"`
	HTMLMode  bool   `json:"isHtmlMode"`
}

// TemplateResponse is the response for GET /api/template/{batchID}.
type TemplateResponse struct {
	Template    string   `json:"template"`
	Subject     string   `json:"subject"`
	Signature   string   `json:"signature"`
	HTMLMode    bool     `json:"isHtmlMode"`
	Columns     []string `json:"columns"`
	EmailColumn string   `json:"emailColumn"`
}

// PixelAnalytics is the engagement view of one pixel.
type PixelAnalytics struct {
	Opened          bool       `json:"opened"`
	OpenedAt        *time.Time `json:"openedAt,omitempty"`
	LastSeenAt      *time.Time `json:"lastSeenAt,omitempty"`
	ViewCount       int        `json:"viewCount"`
	TotalViewTime   int64      `json:"totalViewTime"`
	EngagementLevel string     `json:"engagementLevel"`
	ViewTime        string     `json:"viewTime"`
}

// RecipientAnalytics is PixelAnalytics plus recipient identity.
type RecipientAnalytics struct {
	Email      string `json:"email"`
	TrackingID string `json:"trackingId"`
	PixelAnalytics
}

// BatchTrackingResponse is the response for GET /api/batch/tracking/{batchID}.
type BatchTrackingResponse struct {
	BatchID         string               `json:"batchId"`
	TotalEmails     int                  `json:"totalEmails"`
	TotalTracked    int                  `json:"totalTracked"`
	TotalOpened     int                  `json:"totalOpened"`
	OpenRate        float64              `json:"openRate"`
	AverageViewTime int64                `json:"averageViewTime"`
	Recipients      []RecipientAnalytics `json:"recipients"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleSampleDownload(w http.ResponseWriter, r *http.Request) {
	data, err := ingest.Sample()
	if err != nil {
		s.logger.Error("failed to build sample workbook", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to generate sample file")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=sample.xlsx")
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Write(data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		s.sendError(w, http.StatusBadRequest, "Only .xlsx files are supported")
		return
	}

	result, err := ingest.Parse(file)
	if err != nil {
		s.logger.Warn("upload rejected", "filename", header.Filename, "error", err)
		s.sendError(w, http.StatusBadRequest, uploadErrorMessage(err))
		return
	}

	batchID := uuid.New().String()
	batch := &models.Batch{
		ID:          batchID,
		SenderName:  r.FormValue("fullName"),
		SenderEmail: r.FormValue("email"),
		TotalEmails: len(result.Rows),
		CreatedAt:   time.Now().UTC(),
		Columns:     result.Columns,
		EmailColumn: result.EmailColumn,
	}
	if err := s.store.CreateBatch(batch); err != nil {
		s.logger.Error("failed to create batch", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to store batch")
		return
	}

	recipients := make([]models.Recipient, len(result.Rows))
	entries := make([]UploadedEntry, len(result.Rows))
	for i, row := range result.Rows {
		data, err := json.Marshal(row.Data)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "Failed to encode recipient data")
			return
		}
		recipients[i] = models.Recipient{
			ID:    uuid.New().String(),
			Seq:   i,
			Email: row.Email,
			Data:  string(data),
		}
		entries[i] = UploadedEntry{Email: row.Email, Data: row.Data, Status: models.StatusPending}
	}
	if err := s.store.AddRecipients(batchID, recipients); err != nil {
		s.logger.Error("failed to store recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to store recipients")
		return
	}

	s.logger.Info("batch uploaded",
		"batch_id", batchID,
		"recipients", len(recipients),
		"email_column", result.EmailColumn)

	s.respondJSON(w, http.StatusOK, UploadResponse{
		Message:     "File uploaded successfully",
		BatchID:     batchID,
		Columns:     result.Columns,
		EmailColumn: result.EmailColumn,
		Recipients:  entries,
	})
}

func uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, ingest.ErrEmptySheet):
		return "Excel file is empty"
	case errors.Is(err, ingest.ErrNoEmailColumn):
		return "No email column found. Please ensure your file has a column containing email addresses."
	case errors.Is(err, ingest.ErrNoValidRecipients):
		return "No valid recipients found in the file"
	default:
		return "Failed to process the Excel file. Please check the format."
	}
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	batch, err := s.store.GetBatch(batchID)
	if err != nil {
		s.storeError(w, err, "Failed to fetch recipients")
		return
	}
	recipients, err := s.store.GetRecipients(batchID)
	if err != nil {
		s.storeError(w, err, "Failed to fetch recipients")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"batch":      batch,
		"recipients": recipients,
	})
}

func (s *Server) handleTestCredentials(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Credentials.Validate(); err != nil {
		s.respondJSON(w, http.StatusBadRequest, TestResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	ctx, cancel := contextWithTimeout(r, s.cfg.SMTP.Timeout)
	defer cancel()

	sender := s.factory(req.Credentials)
	if err := sender.Verify(ctx); err != nil {
		resp := TestResponse{
			Success: false,
			Message: "Failed to verify credentials.",
		}
		if mailer.Classify(err) == mailer.FailureAuth {
			resp.Message = "Failed to verify credentials. Make sure you are using an app password, not your account password."
			resp.Details = "The provider blocks regular passwords. Generate an app password in your account settings."
		}
		s.respondJSON(w, http.StatusBadRequest, resp)
		return
	}

	s.respondJSON(w, http.StatusOK, TestResponse{
		Success: true,
		Message: "Credentials verified successfully. You can now send emails.",
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BatchID == "" {
		s.sendError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	info, err := s.dispatcher.Start(req.BatchID, req.Credentials)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.sendError(w, http.StatusNotFound, "Batch not found")
		case errors.Is(err, dispatch.ErrNoRecipients):
			s.sendError(w, http.StatusNotFound, "No recipients found for this batch")
		case errors.Is(err, dispatch.ErrBatchNotReady):
			s.sendError(w, http.StatusBadRequest, "Batch template not found. Please set up your email template first.")
		case errors.Is(err, dispatch.ErrSendInProgress):
			s.sendError(w, http.StatusConflict, "A send is already in progress for this batch")
		default:
			s.sendError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":     "Email sending initialized successfully",
		"batchId":     info.BatchID,
		"totalEmails": info.TotalEmails,
	})
}

func (s *Server) handleSendStatus(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("batchId")
	if batchID == "" {
		s.sendError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	events, err := s.dispatcher.Watch(r.Context(), batchID)
	if err != nil {
		s.storeError(w, err, "Failed to track email sending")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("failed to encode progress event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	batch, err := s.store.GetBatch(batchID)
	if err != nil {
		s.storeError(w, err, "Failed to fetch batch summary")
		return
	}
	recipients, err := s.store.GetRecipients(batchID)
	if err != nil {
		s.storeError(w, err, "Failed to fetch batch summary")
		return
	}

	summary := models.BatchSummary{
		BatchID:     batchID,
		Total:       len(recipients),
		SenderName:  batch.SenderName,
		SenderEmail: batch.SenderEmail,
		CreatedAt:   batch.CreatedAt,
	}
	for _, rec := range recipients {
		switch rec.Status {
		case models.StatusSent:
			summary.Sent++
		case models.StatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	batch, err := s.store.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		s.storeError(w, err, "Failed to fetch template")
		return
	}

	s.respondJSON(w, http.StatusOK, TemplateResponse{
		Template:    batch.Template,
		Subject:     batch.Subject,
		Signature:   batch.Signature,
		HTMLMode:    batch.HTMLMode,
		Columns:     batch.Columns,
		EmailColumn: batch.EmailColumn,
	})
}

func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Template == "" || req.Subject == "" {
		s.sendError(w, http.StatusBadRequest, "Template and subject are required")
		return
	}

	tpl := models.BatchTemplate{
		Template:  req.Template,
		Subject:   req.Subject,
		Signature: req.Signature,
		HTMLMode:  req.HTMLMode,
	}
	if err := s.store.UpdateBatchTemplate(batchID, tpl); err != nil {
		s.storeError(w, err, "Failed to save template")
		return
	}

	s.respondJSON(w, http.StatusOK, MessageResponse{Message: "Template saved successfully"})
}

func (s *Server) handlePixelAnalytics(w http.ResponseWriter, r *http.Request) {
	pixelID := chi.URLParam(r, "pixelID")

	status := s.tracker.CheckStatus(r.Context(), pixelID)
	s.respondJSON(w, http.StatusOK, toAnalytics(status))
}

func (s *Server) handleBatchTracking(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	recipients, err := s.store.GetRecipients(batchID)
	if err != nil {
		s.storeError(w, err, "Failed to fetch batch tracking analytics")
		return
	}

	resp := BatchTrackingResponse{
		BatchID:     batchID,
		TotalEmails: len(recipients),
		Recipients:  []RecipientAnalytics{},
	}

	var totalViewTime int64
	for _, rec := range recipients {
		if rec.TrackingID == "" {
			continue
		}
		status := s.tracker.CheckStatus(r.Context(), rec.TrackingID)
		resp.Recipients = append(resp.Recipients, RecipientAnalytics{
			Email:          rec.Email,
			TrackingID:     rec.TrackingID,
			PixelAnalytics: toAnalytics(status),
		})
		resp.TotalTracked++
		if status.Opened {
			resp.TotalOpened++
		}
		totalViewTime += status.TotalViewTime
	}

	if resp.TotalTracked > 0 {
		rate := float64(resp.TotalOpened) / float64(resp.TotalTracked) * 100
		resp.OpenRate = math.Round(rate*100) / 100
		resp.AverageViewTime = totalViewTime / int64(resp.TotalTracked)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGlobalDashboard(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.tracker.Dashboard(r.Context()))
}

func (s *Server) handleRefreshRecipient(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	updated := s.refresher.RefreshRecipient(r.Context(), trackingID)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"updated":    updated,
		"trackingId": trackingID,
	})
}

func (s *Server) handleRefreshBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	if _, err := s.store.GetBatch(batchID); err != nil {
		s.storeError(w, err, "Failed to refresh tracking data")
		return
	}

	s.refresher.RefreshBatch(r.Context(), batchID)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message": "Tracking data refreshed successfully",
		"batchId": batchID,
	})
}

func toAnalytics(status *tracking.Status) PixelAnalytics {
	return PixelAnalytics{
		Opened:          status.Opened,
		OpenedAt:        status.OpenedAt,
		LastSeenAt:      status.LastSeenAt,
		ViewCount:       status.ViewCount,
		TotalViewTime:   status.TotalViewTime,
		EngagementLevel: tracking.Level(status.TotalViewTime),
		ViewTime:        tracking.FormatViewTime(status.TotalViewTime),
	}
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), d)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, MessageResponse{Message: message})
}

// storeError maps store errors onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Batch not found")
		return
	}
	s.logger.Error("storage error", "error", err)
	s.sendError(w, http.StatusInternalServerError, fallback)
}
