// Package store persists batches and their recipients.
package store

import (
	"errors"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

var (
	// ErrNotFound is returned when a batch or recipient does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the persistence contract consumed by the dispatcher, the
// tracking refresh job and the HTTP handlers.
//
// Batch counters and recipient status are written only by the dispatcher
// during a run; engagement fields are written only by the refresh job.
// The two writers never touch the same fields.
type Store interface {
	CreateBatch(batch *models.Batch) error
	GetBatch(batchID string) (*models.Batch, error)
	ListBatches() ([]models.Batch, error)
	UpdateBatchTemplate(batchID string, tpl models.BatchTemplate) error
	IncrementBatchCounters(batchID string, success bool) error

	AddRecipients(batchID string, recipients []models.Recipient) error
	// GetRecipients returns the batch's recipients in ingestion order.
	GetRecipients(batchID string) ([]models.Recipient, error)
	GetRecipientByTrackingID(trackingID string) (*models.Recipient, error)
	UpdateRecipientStatus(recipientID, status string) error
	UpdateRecipientTrackingID(recipientID, trackingID string) error
	// UpdateRecipientEngagement writes open/engagement facts resolved from
	// the tracking oracle. Counters and timestamps only move forward.
	UpdateRecipientEngagement(trackingID string, openedAt time.Time, viewCount int, totalViewTime int64, lastSeenAt *time.Time) error

	Close() error
}
