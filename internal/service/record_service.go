package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/repository"
	"github.com/sirupsen/logrus"
)

// RecordStore is the persistence contract of one entity type.
// Get returns a nil record when the id is unknown.
type RecordStore[P models.Record] interface {
	Create(ctx context.Context, rec P) error
	Get(ctx context.Context, id string) (P, error)
	Update(ctx context.Context, rec P) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]P, error)
	ListBy(ctx context.Context, attribute, value string) ([]P, error)
	Count(ctx context.Context) (int, error)
}

// RecordService adds validation, reference checks and cascading deletes on
// top of a RecordStore.
type RecordService[T any, P models.RecordPtr[T]] struct {
	store     RecordStore[P]
	checkRefs func(ctx context.Context, rec P) error
	onDelete  func(ctx context.Context, id string) error
	logger    *logrus.Logger
}

func NewRecordService[T any, P models.RecordPtr[T]](store RecordStore[P], logger *logrus.Logger) *RecordService[T, P] {
	return &RecordService[T, P]{store: store, logger: logger}
}

// EntityType names the records this service manages.
func (s *RecordService[T, P]) EntityType() string {
	return P(new(T)).EntityType()
}

func (s *RecordService[T, P]) validate(ctx context.Context, rec P) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if s.checkRefs != nil {
		return s.checkRefs(ctx, rec)
	}
	return nil
}

// Create assigns a fresh id and stores rec.
func (s *RecordService[T, P]) Create(ctx context.Context, rec P) error {
	rec.SetID("")
	if err := s.validate(ctx, rec); err != nil {
		return err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"entity": rec.EntityType(), "id": rec.GetID()}).Info("Record created")
	return nil
}

func (s *RecordService[T, P]) Get(ctx context.Context, id string) (P, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// Exists reports whether a record with id is stored.
func (s *RecordService[T, P]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update replaces the record stored under id, keeping its creation time.
func (s *RecordService[T, P]) Update(ctx context.Context, id string, rec P) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	rec.SetID(id)
	rec.Touch(existing.Created())
	if err := s.validate(ctx, rec); err != nil {
		return err
	}

	if err := s.store.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	return nil
}

// Delete removes the record and everything that references it.
func (s *RecordService[T, P]) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if s.onDelete != nil {
		if err := s.onDelete(ctx, id); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	s.logger.WithFields(logrus.Fields{"entity": s.EntityType(), "id": id}).Info("Record deleted")
	return nil
}

func (s *RecordService[T, P]) List(ctx context.Context) ([]P, error) {
	return s.store.List(ctx)
}

func (s *RecordService[T, P]) ListBy(ctx context.Context, attribute, value string) ([]P, error) {
	return s.store.ListBy(ctx, attribute, value)
}

func (s *RecordService[T, P]) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Export writes every record as CSV, header first, and returns the row count.
func (s *RecordService[T, P]) Export(ctx context.Context, w io.Writer) (int, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(P(new(T)).CSVHeader()); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(rec.CSVRow()); err != nil {
			return 0, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush csv: %w", err)
	}
	return len(records), nil
}

// deleteWhere removes every record whose attribute equals value, running each
// record's own cascade first.
func (s *RecordService[T, P]) deleteWhere(ctx context.Context, attribute, value string) error {
	records, err := s.store.ListBy(ctx, attribute, value)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.Delete(ctx, rec.GetID()); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
	}
	return nil
}
