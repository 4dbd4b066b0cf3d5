package dispatch

import "github.com/sahil00000001/PremiumBulkMail/internal/models"

// Event types emitted on a progress stream.
const (
	EventInit     = "init"
	EventStatus   = "status"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one progress update for a batch send. The stream opens with
// an init event, carries status events while the run is live and ends
// with exactly one complete or error event.
type Event struct {
	Type       string                   `json:"type"`
	Sent       int                      `json:"sent"`
	Failed     int                      `json:"failed"`
	Total      int                      `json:"total"`
	Recipients []models.RecipientStatus `json:"recipients,omitempty"`
	Message    string                   `json:"message,omitempty"`
}
