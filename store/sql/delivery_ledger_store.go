// Package sqlstore persists webhook delivery claims in SQL so dedupe
// survives restarts and spans replicas sharing one database.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/onesub/onesub-go/webhooks"
	"github.com/uptrace/bun"
)

const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusFailed     = "failed"
)

// DeliveryRecord is the persisted view of one delivery claim.
type DeliveryRecord struct {
	ID             string
	EventID        string
	Status         string
	Attempts       int
	ClaimExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryLedgerStore implements webhooks.DeliveryLedger on a bun
// database. Claims race through the unique event_id index: the insert
// winner processes, losers dedupe.
type DeliveryLedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]

	Now func() time.Time
}

func NewDeliveryLedgerStore(db *bun.DB) (*DeliveryLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &DeliveryLedgerStore{
		db:   db,
		repo: repo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// NewDeliveryLedger builds a store from either a *bun.DB or anything
// exposing DB() *bun.DB, such as a persistence client.
func NewDeliveryLedger(persistenceClient any) (*DeliveryLedgerStore, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	return NewDeliveryLedgerStore(db)
}

func (s *DeliveryLedgerStore) Claim(ctx context.Context, eventID string, payload []byte, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("sqlstore: event id is required for dedupe")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := s.now()
	expiresAt := now.Add(ttl)

	record := &webhookDeliveryRecord{
		ID:             uuid.NewString(),
		EventID:        eventID,
		Status:         DeliveryStatusProcessing,
		Attempts:       1,
		Payload:        append([]byte(nil), payload...),
		ClaimExpiresAt: &expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueViolation(err) {
			return false, err
		}
		return s.reclaim(ctx, eventID, now, expiresAt)
	}
	return true, nil
}

// reclaim handles the insert-conflict path: processed deliveries and live
// claims dedupe; failed or expired claims are taken over.
func (s *DeliveryLedgerStore) reclaim(ctx context.Context, eventID string, now time.Time, expiresAt time.Time) (bool, error) {
	existing, err := s.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	if existing.Status == DeliveryStatusProcessed {
		return false, nil
	}
	if existing.Status == DeliveryStatusProcessing &&
		existing.ClaimExpiresAt != nil && now.Before(*existing.ClaimExpiresAt) {
		return false, nil
	}

	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", DeliveryStatusProcessing).
		Set("attempts = ?", existing.Attempts+1).
		Set("claim_expires_at = ?", expiresAt).
		Set("updated_at = ?", now).
		Where("event_id = ?", eventID).
		Where("status != ?", DeliveryStatusProcessed).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *DeliveryLedgerStore) Get(ctx context.Context, eventID string) (DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return DeliveryRecord{}, fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery not found for event %q", eventID)
		}
		return DeliveryRecord{}, err
	}
	return deliveryToDomain(record), nil
}

func (s *DeliveryLedgerStore) MarkProcessed(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", DeliveryStatusProcessed).
		Set("claim_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Exec(ctx)
	return err
}

func (s *DeliveryLedgerStore) Fail(ctx context.Context, eventID string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	message := ""
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", DeliveryStatusFailed).
		Set("claim_expires_at = NULL").
		Set("last_error = ?", message).
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Exec(ctx)
	return err
}

// PurgeProcessed removes processed deliveries older than the cutoff and
// reports how many rows were deleted.
func (s *DeliveryLedgerStore) PurgeProcessed(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("status = ?", DeliveryStatusProcessed).
		Where("updated_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *DeliveryLedgerStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func deliveryToDomain(record *webhookDeliveryRecord) DeliveryRecord {
	if record == nil {
		return DeliveryRecord{}
	}
	result := DeliveryRecord{
		ID:        record.ID,
		EventID:   record.EventID,
		Status:    record.Status,
		Attempts:  record.Attempts,
		LastError: record.LastError,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if record.ClaimExpiresAt != nil {
		value := *record.ClaimExpiresAt
		result.ClaimExpiresAt = &value
	}
	return result
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ webhooks.DeliveryLedger = (*DeliveryLedgerStore)(nil)
