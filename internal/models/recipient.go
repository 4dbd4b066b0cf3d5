package models

import (
	"encoding/json"
	"time"
)

// Recipient delivery statuses. A recipient moves from pending to exactly
// one terminal status per run and never back.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Recipient represents a single email within a batch
type Recipient struct {
	ID            string     `json:"id"`
	BatchID       string     `json:"batchId"`
	Seq           int        `json:"seq"` // ingestion order within the batch
	Email         string     `json:"email"`
	Data          string     `json:"data"` // JSON object with the source row's fields
	Status        string     `json:"status"`
	TrackingID    string     `json:"trackingId,omitempty"`
	OpenedAt      *time.Time `json:"openedAt,omitempty"`
	LastSeenAt    *time.Time `json:"lastSeenAt,omitempty"`
	ViewCount     int        `json:"viewCount"`
	TotalViewTime int64      `json:"totalViewTime"` // cumulative engagement in milliseconds
}

// ParseData decodes the recipient's stored data fields.
func (r *Recipient) ParseData() (map[string]string, error) {
	fields := make(map[string]string)
	if r.Data == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(r.Data), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// RecipientStatus is the compact per-recipient view emitted on progress
// streams.
type RecipientStatus struct {
	Email  string `json:"email"`
	Status string `json:"status"`
}
