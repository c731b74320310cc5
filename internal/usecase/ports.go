package usecase

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

var tracer = otel.Tracer("usecase")

// SourceRepository defines storage operations for ingested source records.
type SourceRepository interface {
	Create(ctx context.Context, rec *domain.SourceRecord) error
	GetByIdentifier(ctx context.Context, sourceName, identifier string) (*domain.SourceRecord, error)
	MaxTimestamp(ctx context.Context, sourceName, relayURL string, types []string) (int64, error)
	ListPendingByTypes(ctx context.Context, sourceName string, types []string) ([]domain.SourceRecord, error)
	ListByOER(ctx context.Context, oerID uint) ([]domain.SourceRecord, error)
	CountByOER(ctx context.Context, oerID uint) (int64, error)
	LinkOER(ctx context.Context, id uint, oerID uint) error
	MarkStatus(ctx context.Context, id uint, status string) error
	Delete(ctx context.Context, id uint) error
}

// OERRepository defines storage operations for normalized catalog records.
type OERRepository interface {
	GetByURLAndSource(ctx context.Context, url, sourceName string) (*domain.OER, error)
	Create(ctx context.Context, o *domain.OER) (*domain.OER, error)
	Update(ctx context.Context, o *domain.OER) error
	Delete(ctx context.Context, id uint) error
	ClearFileFields(ctx context.Context, ids []uint) error
	ListIDsByFileEvent(ctx context.Context, sourceName, fileEventID string) ([]uint, error)
	ListMissingFileMetadata(ctx context.Context, sourceName string) ([]domain.OER, error)
}

// SeenCache is an optional fast-path probe in front of the ingestion dedup
// query. It may report false negatives; the database stays authoritative.
type SeenCache interface {
	Seen(ctx context.Context, eventID string) bool
	MarkSeen(ctx context.Context, eventID string)
}
