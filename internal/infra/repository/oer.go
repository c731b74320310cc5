package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/infra/database/models"
)

type OERRepository struct {
	db *gorm.DB
}

func NewOERRepository(db *gorm.DB) *OERRepository {
	return &OERRepository{db: db}
}

func oerToModel(o *domain.OER) (models.OER, error) {
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return models.OER{}, errors.Wrap(err, "failed to encode metadata")
	}
	keywords, err := json.Marshal(o.Keywords)
	if err != nil {
		return models.OER{}, errors.Wrap(err, "failed to encode keywords")
	}
	return models.OER{
		ID:                  o.ID,
		URL:                 o.URL,
		SourceName:          o.SourceName,
		Name:                o.Name,
		Description:         o.Description,
		Metadata:            string(metadata),
		LicenseURI:          o.LicenseURI,
		FreeToUse:           o.FreeToUse,
		Keywords:            string(keywords),
		FileMimeType:        o.FileMimeType,
		FileDim:             o.FileDim,
		FileSize:            o.FileSize,
		FileAlt:             o.FileAlt,
		FileEventID:         o.FileEventID,
		AudienceURI:         o.AudienceURI,
		EducationalLevelURI: o.EducationalLevelURI,
		Attribution:         o.Attribution,
	}, nil
}

func oerToDomain(m models.OER) domain.OER {
	o := domain.OER{
		ID:                  m.ID,
		URL:                 m.URL,
		SourceName:          m.SourceName,
		Name:                m.Name,
		Description:         m.Description,
		LicenseURI:          m.LicenseURI,
		FreeToUse:           m.FreeToUse,
		FileMimeType:        m.FileMimeType,
		FileDim:             m.FileDim,
		FileSize:            m.FileSize,
		FileAlt:             m.FileAlt,
		FileEventID:         m.FileEventID,
		AudienceURI:         m.AudienceURI,
		EducationalLevelURI: m.EducationalLevelURI,
		Attribution:         m.Attribution,
	}
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &o.Metadata)
	}
	if m.Keywords != "" {
		_ = json.Unmarshal([]byte(m.Keywords), &o.Keywords)
	}
	return o
}

func (r *OERRepository) GetByURLAndSource(ctx context.Context, url, sourceName string) (*domain.OER, error) {
	var m models.OER
	err := r.db.WithContext(ctx).
		Where("url = ? AND source_name = ?", url, sourceName).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundError{Resource: "catalog record"}
		}
		return nil, errors.Wrap(err, "failed to get catalog record")
	}
	o := oerToDomain(m)
	return &o, nil
}

// Create inserts a catalog record. When a concurrent extraction created the
// same (url, source_name) first, the existing row is fetched and returned
// instead of surfacing the constraint violation.
func (r *OERRepository) Create(ctx context.Context, o *domain.OER) (*domain.OER, error) {
	m, err := oerToModel(o)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Create(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.GetByURLAndSource(ctx, o.URL, o.SourceName)
		}
		return nil, errors.Wrap(err, "failed to create catalog record")
	}
	created := oerToDomain(m)
	return &created, nil
}

func (r *OERRepository) Update(ctx context.Context, o *domain.OER) error {
	m, err := oerToModel(o)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Model(&models.OER{}).
		Where("id = ?", o.ID).
		Updates(map[string]any{
			"name":                  m.Name,
			"description":           m.Description,
			"metadata":              m.Metadata,
			"license_uri":           m.LicenseURI,
			"free_to_use":           m.FreeToUse,
			"keywords":              m.Keywords,
			"file_mime_type":        m.FileMimeType,
			"file_dim":              m.FileDim,
			"file_size":             m.FileSize,
			"file_alt":              m.FileAlt,
			"file_event_id":         m.FileEventID,
			"audience_uri":          m.AudienceURI,
			"educational_level_uri": m.EducationalLevelURI,
			"attribution":           m.Attribution,
		}).Error
	return errors.Wrap(err, "failed to update catalog record")
}

func (r *OERRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Delete(&models.OER{}, "id = ?", id).Error
	return errors.Wrap(err, "failed to delete catalog record")
}

// ClearFileFields nulls the file-derived columns on the given catalog
// records as one batched update. Other columns are left untouched.
func (r *OERRepository) ClearFileFields(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.OER{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"file_mime_type": nil,
			"file_dim":       nil,
			"file_size":      nil,
			"file_alt":       nil,
			"file_event_id":  nil,
		}).Error
	return errors.Wrap(err, "failed to clear file fields")
}

// ListIDsByFileEvent returns the ids of catalog records whose file fields
// were derived from the given file event.
func (r *OERRepository) ListIDsByFileEvent(ctx context.Context, sourceName, fileEventID string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.OER{}).
		Where("source_name = ? AND file_event_id = ?", sourceName, fileEventID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list catalog records by file event")
	}
	return ids, nil
}

// ListMissingFileMetadata returns catalog records of the given source that
// have no file MIME type yet, for the file-metadata retry pass.
func (r *OERRepository) ListMissingFileMetadata(ctx context.Context, sourceName string) ([]domain.OER, error) {
	var ms []models.OER
	err := r.db.WithContext(ctx).
		Where("source_name = ? AND file_mime_type IS NULL", sourceName).
		Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list catalog records missing file metadata")
	}
	oers := make([]domain.OER, len(ms))
	for i, m := range ms {
		oers[i] = oerToDomain(m)
	}
	return oers, nil
}
