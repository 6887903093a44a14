package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordResult tells a caller whether RecordDelivery created the row.
type RecordResult int

const (
	// RecordInserted means this call created the delivery record.
	RecordInserted RecordResult = iota + 1
	// RecordAlreadyExists means a record for the identifier was already
	// stored. The write is still a success.
	RecordAlreadyExists
)

func (r RecordResult) String() string {
	switch r {
	case RecordInserted:
		return "inserted"
	case RecordAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// DeliveryStore persists one DeliveryRecord per identifier.
type DeliveryStore struct {
	db *gorm.DB
}

// NewDeliveryStore migrates the fcm_job table and returns a store on top of it.
func NewDeliveryStore(db *gorm.DB) (*DeliveryStore, error) {
	if err := db.AutoMigrate(&models.DeliveryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate fcm_job: %w", err)
	}
	return &DeliveryStore{db: db}, nil
}

// RecordDelivery inserts the delivery record for identifier. A uniqueness
// conflict is reported as RecordAlreadyExists rather than an error and leaves
// the stored row untouched.
func (s *DeliveryStore) RecordDelivery(ctx context.Context, identifier string, deliveredAt time.Time) (RecordResult, error) {
	rec := models.DeliveryRecord{
		Identifier: identifier,
		DeliverAt:  deliveredAt.UTC(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier"}},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return RecordAlreadyExists, nil
		}
		return 0, fmt.Errorf("insert fcm_job %s: %w", identifier, res.Error)
	}
	if res.RowsAffected == 0 {
		return RecordAlreadyExists, nil
	}
	return RecordInserted, nil
}

// FindByIdentifier returns the stored record, or nil when none exists.
func (s *DeliveryStore) FindByIdentifier(ctx context.Context, identifier string) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	res := s.db.WithContext(ctx).
		Where("identifier = ?", identifier).
		Limit(1).
		Find(&rec)
	if res.Error != nil {
		return nil, fmt.Errorf("find fcm_job %s: %w", identifier, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &rec, nil
}

// Ping checks that the database answers.
func (s *DeliveryStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *DeliveryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
