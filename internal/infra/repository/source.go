package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/infra/database/models"
)

type SourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

func sourceToDomain(m models.SourceRecord) domain.SourceRecord {
	return domain.SourceRecord{
		ID:               m.ID,
		SourceName:       m.SourceName,
		SourceIdentifier: m.SourceIdentifier,
		SourceURI:        m.SourceURI,
		SourceTimestamp:  m.SourceTimestamp,
		SourceRecordType: m.SourceRecordType,
		Status:           m.Status,
		Payload:          m.Payload,
		OERID:            m.OERID,
	}
}

// Create persists a new source record. A uniqueness collision on
// (source_name, source_identifier) is reported as domain.ErrDuplicate.
func (r *SourceRepository) Create(ctx context.Context, rec *domain.SourceRecord) error {
	m := models.SourceRecord{
		SourceName:       rec.SourceName,
		SourceIdentifier: rec.SourceIdentifier,
		SourceURI:        rec.SourceURI,
		SourceTimestamp:  rec.SourceTimestamp,
		SourceRecordType: rec.SourceRecordType,
		Status:           rec.Status,
		Payload:          rec.Payload,
		OERID:            rec.OERID,
	}
	err := r.db.WithContext(ctx).Create(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicate
		}
		return errors.Wrap(err, "failed to create source record")
	}
	rec.ID = m.ID
	return nil
}

func (r *SourceRepository) GetByIdentifier(ctx context.Context, sourceName, identifier string) (*domain.SourceRecord, error) {
	var m models.SourceRecord
	err := r.db.WithContext(ctx).
		Where("source_name = ? AND source_identifier = ?", sourceName, identifier).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundError{Resource: "source record"}
		}
		return nil, errors.Wrap(err, "failed to get source record")
	}
	rec := sourceToDomain(m)
	return &rec, nil
}

// MaxTimestamp returns the newest source_timestamp seen from the given relay
// for the given record types, or 0 when no matching row exists.
func (r *SourceRepository) MaxTimestamp(ctx context.Context, sourceName, relayURL string, types []string) (int64, error) {
	var ts *int64
	err := r.db.WithContext(ctx).
		Model(&models.SourceRecord{}).
		Select("MAX(source_timestamp)").
		Where("source_name = ? AND source_uri = ? AND source_record_type IN ?", sourceName, relayURL, types).
		Scan(&ts).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to query max timestamp")
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}

// ListPendingByTypes returns pending rows of the given types in ascending
// source_timestamp order, for the historical backfill pass.
func (r *SourceRepository) ListPendingByTypes(ctx context.Context, sourceName string, types []string) ([]domain.SourceRecord, error) {
	var ms []models.SourceRecord
	err := r.db.WithContext(ctx).
		Where("source_name = ? AND status = ? AND source_record_type IN ?", sourceName, domain.StatusPending, types).
		Order("source_timestamp ASC").
		Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending source records")
	}
	recs := make([]domain.SourceRecord, len(ms))
	for i, m := range ms {
		recs[i] = sourceToDomain(m)
	}
	return recs, nil
}

func (r *SourceRepository) ListByOER(ctx context.Context, oerID uint) ([]domain.SourceRecord, error) {
	var ms []models.SourceRecord
	err := r.db.WithContext(ctx).
		Where("oer_id = ?", oerID).
		Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list source records by oer")
	}
	recs := make([]domain.SourceRecord, len(ms))
	for i, m := range ms {
		recs[i] = sourceToDomain(m)
	}
	return recs, nil
}

func (r *SourceRepository) CountByOER(ctx context.Context, oerID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SourceRecord{}).
		Where("oer_id = ?", oerID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count source records by oer")
	}
	return count, nil
}

// LinkOER attaches a source record to its extracted catalog record and marks
// it processed in the same update.
func (r *SourceRepository) LinkOER(ctx context.Context, id uint, oerID uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.SourceRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"oer_id": oerID, "status": domain.StatusProcessed}).Error
	return errors.Wrap(err, "failed to link source record")
}

func (r *SourceRepository) MarkStatus(ctx context.Context, id uint, status string) error {
	err := r.db.WithContext(ctx).
		Model(&models.SourceRecord{}).
		Where("id = ?", id).
		Update("status", status).Error
	return errors.Wrap(err, "failed to update source record status")
}

func (r *SourceRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Delete(&models.SourceRecord{}, "id = ?", id).Error
	return errors.Wrap(err, "failed to delete source record")
}
