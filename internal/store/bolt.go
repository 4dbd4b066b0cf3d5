package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

var (
	bucketBatches        = []byte("batches")
	bucketRecipients     = []byte("recipients")
	bucketRecipientIndex = []byte("recipient_index")
	bucketTrackingIndex  = []byte("tracking_index")
)

// BoltStore implements Store using BoltDB. Batches are stored as JSON
// values; recipients live in a nested bucket per batch, keyed by their
// zero-padded sequence number so cursor order equals ingestion order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBatches, bucketRecipients, bucketRecipientIndex, bucketTrackingIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateBatch stores a new batch record.
func (s *BoltStore) CreateBatch(batch *models.Batch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBatches)
		if b.Get([]byte(batch.ID)) != nil {
			return fmt.Errorf("batch %s already exists", batch.ID)
		}
		return putJSON(b, []byte(batch.ID), batch)
	})
}

// GetBatch returns a batch by id, or ErrNotFound.
func (s *BoltStore) GetBatch(batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBatches).Get([]byte(batchID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &batch)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListBatches returns all batches, used by the tracking refresh sweep.
func (s *BoltStore) ListBatches() ([]models.Batch, error) {
	batches := []models.Batch{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).ForEach(func(k, v []byte) error {
			var batch models.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return err
			}
			batches = append(batches, batch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// UpdateBatchTemplate sets the editable template fields of a batch.
func (s *BoltStore) UpdateBatchTemplate(batchID string, tpl models.BatchTemplate) error {
	return s.updateBatch(batchID, func(batch *models.Batch) {
		batch.Template = tpl.Template
		batch.Subject = tpl.Subject
		batch.Signature = tpl.Signature
		batch.HTMLMode = tpl.HTMLMode
	})
}

// IncrementBatchCounters bumps the sent or failed counter by one.
func (s *BoltStore) IncrementBatchCounters(batchID string, success bool) error {
	return s.updateBatch(batchID, func(batch *models.Batch) {
		if success {
			batch.SentEmails++
		} else {
			batch.FailedEmails++
		}
	})
}

func (s *BoltStore) updateBatch(batchID string, mutate func(*models.Batch)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBatches)
		data := b.Get([]byte(batchID))
		if data == nil {
			return ErrNotFound
		}
		var batch models.Batch
		if err := json.Unmarshal(data, &batch); err != nil {
			return err
		}
		mutate(&batch)
		return putJSON(b, []byte(batchID), &batch)
	})
}

// AddRecipients appends recipients to a batch in the given order.
func (s *BoltStore) AddRecipients(batchID string, recipients []models.Recipient) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBatches).Get([]byte(batchID)) == nil {
			return ErrNotFound
		}

		batchBucket, err := tx.Bucket(bucketRecipients).CreateBucketIfNotExists([]byte(batchID))
		if err != nil {
			return fmt.Errorf("failed to create recipient bucket: %w", err)
		}
		index := tx.Bucket(bucketRecipientIndex)

		for i := range recipients {
			rec := &recipients[i]
			rec.BatchID = batchID
			if rec.Status == "" {
				rec.Status = models.StatusPending
			}
			key := seqKey(rec.Seq)
			if err := putJSON(batchBucket, key, rec); err != nil {
				return err
			}
			if err := index.Put([]byte(rec.ID), recipientRef(batchID, rec.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRecipients returns the batch's recipients in ingestion order.
func (s *BoltStore) GetRecipients(batchID string) ([]models.Recipient, error) {
	recipients := []models.Recipient{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBatches).Get([]byte(batchID)) == nil {
			return ErrNotFound
		}
		batchBucket := tx.Bucket(bucketRecipients).Bucket([]byte(batchID))
		if batchBucket == nil {
			return nil
		}
		return batchBucket.ForEach(func(k, v []byte) error {
			var rec models.Recipient
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recipients = append(recipients, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

// GetRecipientByTrackingID resolves a recipient through the tracking index.
func (s *BoltStore) GetRecipientByTrackingID(trackingID string) (*models.Recipient, error) {
	var rec models.Recipient
	err := s.db.View(func(tx *bolt.Tx) error {
		recipientID := tx.Bucket(bucketTrackingIndex).Get([]byte(trackingID))
		if recipientID == nil {
			return ErrNotFound
		}
		data, err := lookupRecipient(tx, string(recipientID))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecipientStatus sets the delivery status of a recipient.
func (s *BoltStore) UpdateRecipientStatus(recipientID, status string) error {
	return s.updateRecipient(recipientID, func(tx *bolt.Tx, rec *models.Recipient) error {
		rec.Status = status
		return nil
	})
}

// UpdateRecipientTrackingID records the tracking pixel id assigned on a
// successful send and indexes it for engagement lookups.
func (s *BoltStore) UpdateRecipientTrackingID(recipientID, trackingID string) error {
	return s.updateRecipient(recipientID, func(tx *bolt.Tx, rec *models.Recipient) error {
		rec.TrackingID = trackingID
		return tx.Bucket(bucketTrackingIndex).Put([]byte(trackingID), []byte(recipientID))
	})
}

// UpdateRecipientEngagement writes engagement facts for the recipient
// holding trackingID. Forward-only: counts never decrease, openedAt is
// set once, lastSeenAt never moves back.
func (s *BoltStore) UpdateRecipientEngagement(trackingID string, openedAt time.Time, viewCount int, totalViewTime int64, lastSeenAt *time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		recipientID := tx.Bucket(bucketTrackingIndex).Get([]byte(trackingID))
		if recipientID == nil {
			return ErrNotFound
		}
		return mutateRecipient(tx, string(recipientID), func(rec *models.Recipient) error {
			if rec.OpenedAt == nil {
				rec.OpenedAt = &openedAt
			}
			if viewCount > rec.ViewCount {
				rec.ViewCount = viewCount
			}
			if totalViewTime > rec.TotalViewTime {
				rec.TotalViewTime = totalViewTime
			}
			if lastSeenAt != nil && (rec.LastSeenAt == nil || lastSeenAt.After(*rec.LastSeenAt)) {
				rec.LastSeenAt = lastSeenAt
			}
			return nil
		})
	})
}

func (s *BoltStore) updateRecipient(recipientID string, mutate func(*bolt.Tx, *models.Recipient) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return mutateRecipient(tx, recipientID, func(rec *models.Recipient) error {
			return mutate(tx, rec)
		})
	})
}

func mutateRecipient(tx *bolt.Tx, recipientID string, mutate func(*models.Recipient) error) error {
	ref := tx.Bucket(bucketRecipientIndex).Get([]byte(recipientID))
	if ref == nil {
		return ErrNotFound
	}
	batchID, key, err := splitRef(ref)
	if err != nil {
		return err
	}
	batchBucket := tx.Bucket(bucketRecipients).Bucket([]byte(batchID))
	if batchBucket == nil {
		return ErrNotFound
	}
	data := batchBucket.Get(key)
	if data == nil {
		return ErrNotFound
	}
	var rec models.Recipient
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if err := mutate(&rec); err != nil {
		return err
	}
	return putJSON(batchBucket, key, &rec)
}

func lookupRecipient(tx *bolt.Tx, recipientID string) ([]byte, error) {
	ref := tx.Bucket(bucketRecipientIndex).Get([]byte(recipientID))
	if ref == nil {
		return nil, ErrNotFound
	}
	batchID, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	batchBucket := tx.Bucket(bucketRecipients).Bucket([]byte(batchID))
	if batchBucket == nil {
		return nil, ErrNotFound
	}
	data := batchBucket.Get(key)
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.Put(key, data)
}

func seqKey(seq int) []byte {
	return []byte(fmt.Sprintf("%08d", seq))
}

// recipientRef encodes the location of a recipient as "batchID/seqKey".
func recipientRef(batchID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s/%08d", batchID, seq))
}

func splitRef(ref []byte) (batchID string, key []byte, err error) {
	i := strings.LastIndexByte(string(ref), '/')
	if i < 0 {
		return "", nil, fmt.Errorf("malformed recipient ref %q", ref)
	}
	return string(ref[:i]), ref[i+1:], nil
}
