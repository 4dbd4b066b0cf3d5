package models

import "time"

// Batch represents one bulk sending campaign
type Batch struct {
	ID           string    `json:"batchId"`
	SenderName   string    `json:"senderName"`
	SenderEmail  string    `json:"senderEmail"`
	TotalEmails  int       `json:"totalEmails"`
	SentEmails   int       `json:"sentEmails"`
	FailedEmails int       `json:"failedEmails"`
	CreatedAt    time.Time `json:"createdAt"`
	Columns      []string  `json:"columns"`     // ordered data field names from the source sheet
	EmailColumn  string    `json:"emailColumn"` // which column holds the address
	Template     string    `json:"template"`    // body with @field placeholders
	Subject      string    `json:"subject"`     // subject with @field placeholders
	Signature    string    `json:"signature"`   // optional, appended after the body
	HTMLMode     bool      `json:"isHtmlMode"`  // template is raw HTML vs plain text
}

// TemplateReady reports whether the batch has everything a send run needs.
func (b *Batch) TemplateReady() bool {
	return b.Template != "" && b.Subject != ""
}

// BatchTemplate carries the editable template fields of a batch.
type BatchTemplate struct {
	Template  string `json:"template"`
	Subject   string `json:"subject"`
	Signature string `json:"signature"`
	HTMLMode  bool   `json:"isHtmlMode"`
}

// BatchSummary is the aggregate status view of a batch.
type BatchSummary struct {
	BatchID     string    `json:"batchId"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Pending     int       `json:"pending"`
	SenderName  string    `json:"senderName"`
	SenderEmail string    `json:"senderEmail"`
	CreatedAt   time.Time `json:"createdAt"`
}
