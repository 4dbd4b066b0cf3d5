package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

// MemoryStore is an in-memory Store. It backs the "memory" storage
// driver and the test suites; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	batches    map[string]*models.Batch
	recipients map[string][]*models.Recipient
	byID       map[string]*models.Recipient
	byTracking map[string]*models.Recipient
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:    make(map[string]*models.Batch),
		recipients: make(map[string][]*models.Recipient),
		byID:       make(map[string]*models.Recipient),
		byTracking: make(map[string]*models.Recipient),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateBatch(batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batch.ID]; ok {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	clone := *batch
	s.batches[batch.ID] = &clone
	return nil
}

func (s *MemoryStore) GetBatch(batchID string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *batch
	return &clone, nil
}

func (s *MemoryStore) ListBatches() ([]models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]models.Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		batches = append(batches, *batch)
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].ID < batches[j].ID
	})
	return batches, nil
}

func (s *MemoryStore) UpdateBatchTemplate(batchID string, tpl models.BatchTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.Template = tpl.Template
	batch.Subject = tpl.Subject
	batch.Signature = tpl.Signature
	batch.HTMLMode = tpl.HTMLMode
	return nil
}

func (s *MemoryStore) IncrementBatchCounters(batchID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if success {
		batch.SentEmails++
	} else {
		batch.FailedEmails++
	}
	return nil
}

func (s *MemoryStore) AddRecipients(batchID string, recipients []models.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batchID]; !ok {
		return ErrNotFound
	}
	for i := range recipients {
		rec := recipients[i]
		rec.BatchID = batchID
		if rec.Status == "" {
			rec.Status = models.StatusPending
		}
		clone := rec
		s.recipients[batchID] = append(s.recipients[batchID], &clone)
		s.byID[clone.ID] = &clone
	}
	sort.Slice(s.recipients[batchID], func(i, j int) bool {
		return s.recipients[batchID][i].Seq < s.recipients[batchID][j].Seq
	})
	return nil
}

func (s *MemoryStore) GetRecipients(batchID string) ([]models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.batches[batchID]; !ok {
		return nil, ErrNotFound
	}
	list := s.recipients[batchID]
	out := make([]models.Recipient, len(list))
	for i, rec := range list {
		out[i] = *rec
	}
	return out, nil
}

func (s *MemoryStore) GetRecipientByTrackingID(trackingID string) (*models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byTracking[trackingID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) UpdateRecipientStatus(recipientID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[recipientID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	return nil
}

func (s *MemoryStore) UpdateRecipientTrackingID(recipientID, trackingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[recipientID]
	if !ok {
		return ErrNotFound
	}
	rec.TrackingID = trackingID
	s.byTracking[trackingID] = rec
	return nil
}

func (s *MemoryStore) UpdateRecipientEngagement(trackingID string, openedAt time.Time, viewCount int, totalViewTime int64, lastSeenAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byTracking[trackingID]
	if !ok {
		return ErrNotFound
	}
	if rec.OpenedAt == nil {
		t := openedAt
		rec.OpenedAt = &t
	}
	if viewCount > rec.ViewCount {
		rec.ViewCount = viewCount
	}
	if totalViewTime > rec.TotalViewTime {
		rec.TotalViewTime = totalViewTime
	}
	if lastSeenAt != nil && (rec.LastSeenAt == nil || lastSeenAt.After(*rec.LastSeenAt)) {
		t := *lastSeenAt
		rec.LastSeenAt = &t
	}
	return nil
}
