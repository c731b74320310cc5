package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

// ExtractionUsecase transforms ingested catalog events into normalized
// catalog records and merges them under a last-writer-wins-by-content-date
// policy.
type ExtractionUsecase struct {
	sources    SourceRepository
	oers       OERRepository
	fileCache  *cache.Cache
	sourceName string
}

// fileResolution caches a resolved file event so backfill passes don't
// re-read the same payload per catalog record.
type fileResolution struct {
	attrs    domain.FileAttributes
	recordID uint
}

func NewExtractionUsecase(sources SourceRepository, oers OERRepository, sourceName string) *ExtractionUsecase {
	if sourceName == "" {
		sourceName = domain.DefaultSourceName
	}
	return &ExtractionUsecase{
		sources:    sources,
		oers:       oers,
		fileCache:  cache.New(10*time.Minute, 15*time.Minute),
		sourceName: sourceName,
	}
}

// Extract parses the stored catalog event, decides whether the existing
// catalog record (if any) should be replaced, resolves the linked file event,
// and persists the result. The insert is race-protected: a concurrent
// extraction winning the (url, source_name) insert resolves to its row.
func (u *ExtractionUsecase) Extract(ctx context.Context, rec *domain.SourceRecord) (*domain.OER, error) {
	ctx, span := tracer.Start(ctx, "Extraction.Extract")
	defer span.End()

	var ev nostr.Event
	if err := json.Unmarshal([]byte(rec.Payload), &ev); err != nil || ev.ID == "" {
		// A stored payload that fails to parse indicates corruption, not a
		// transient condition.
		failErr := errors.Errorf("corrupt stored payload for %s", rec.SourceIdentifier)
		span.RecordError(failErr)
		if markErr := u.sources.MarkStatus(ctx, rec.ID, domain.StatusFailed); markErr != nil {
			slog.Error("failed to mark source record failed",
				slog.String("error", markErr.Error()),
				slog.String("module", "extraction"),
			)
		}
		return nil, failErr
	}

	attrs := ExtractAttributes(&ev)
	if attrs.URL == "" {
		err := errors.Errorf("catalog event %s has no resource url", ev.ID)
		span.RecordError(err)
		if markErr := u.sources.MarkStatus(ctx, rec.ID, domain.StatusFailed); markErr != nil {
			slog.Error("failed to mark source record failed",
				slog.String("error", markErr.Error()),
				slog.String("module", "extraction"),
			)
		}
		return nil, err
	}

	existing, err := u.oers.GetByURLAndSource(ctx, attrs.URL, u.sourceName)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}

	if existing != nil {
		update, reason := shouldUpdate(existing, attrs)
		if !update {
			slog.Debug("keeping existing catalog record",
				slog.String("url", attrs.URL),
				slog.String("reason", reason),
				slog.String("module", "extraction"),
			)
			if err := u.sources.LinkOER(ctx, rec.ID, existing.ID); err != nil {
				span.RecordError(err)
				return nil, err
			}
			return existing, nil
		}
	}

	oer := buildOER(attrs, u.sourceName)

	var fileRecordID uint
	if attrs.FileEventID != "" {
		resolution, err := u.resolveFile(ctx, attrs.FileEventID)
		if err != nil {
			slog.Warn("failed to resolve linked file event",
				slog.String("file_event", attrs.FileEventID),
				slog.String("error", err.Error()),
				slog.String("module", "extraction"),
			)
		} else if resolution != nil {
			applyFileAttributes(oer, resolution.attrs, attrs.Description)
			fileID := attrs.FileEventID
			oer.FileEventID = &fileID
			fileRecordID = resolution.recordID
		}
	}
	if oer.Description == nil && attrs.Description != "" {
		desc := attrs.Description
		oer.Description = &desc
	}

	if existing != nil {
		oer.ID = existing.ID
		if err := u.oers.Update(ctx, oer); err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		created, err := u.oers.Create(ctx, oer)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		oer = created
	}

	if err := u.sources.LinkOER(ctx, rec.ID, oer.ID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if fileRecordID != 0 {
		if err := u.sources.LinkOER(ctx, fileRecordID, oer.ID); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	slog.Info("extracted catalog record",
		slog.String("url", oer.URL),
		slog.Uint64("oer_id", uint64(oer.ID)),
		slog.String("module", "extraction"),
	)
	return oer, nil
}

// shouldUpdate reproduces the merge decision: no parsable date on the new
// event keeps the existing row; a dateless existing row is stale by default;
// otherwise the newer content date wins, with one exception that lets an
// equal-dated event fill a missing file reference.
func shouldUpdate(existing *domain.OER, attrs domain.ResourceAttributes) (bool, string) {
	if attrs.Latest == nil {
		return false, "no date fields"
	}
	existingLatest := latestMetadataDate(existing.Metadata)
	if existingLatest == nil {
		return true, "existing record has no date"
	}
	if attrs.Latest.After(*existingLatest) {
		return true, "newer date"
	}
	if attrs.Latest.Equal(*existingLatest) && existing.FileMimeType == nil && attrs.FileEventID != "" {
		return true, "equal date with file reference"
	}
	return false, "not newer"
}

func buildOER(attrs domain.ResourceAttributes, sourceName string) *domain.OER {
	return &domain.OER{
		URL:                 attrs.URL,
		SourceName:          sourceName,
		Name:                attrs.Name,
		Metadata:            attrs.Metadata,
		LicenseURI:          attrs.LicenseURI,
		FreeToUse:           attrs.FreeToUse,
		Keywords:            attrs.Keywords,
		AudienceURI:         metadataString(attrs.Metadata, "audience", "id"),
		EducationalLevelURI: metadataString(attrs.Metadata, "educationalLevel", "id"),
		Attribution:         metadataString(attrs.Metadata, "creator", "name"),
	}
}

// applyFileAttributes copies the file-derived fields onto the catalog
// record. An explicit description on the catalog event takes priority over
// the file event's free-text content.
func applyFileAttributes(oer *domain.OER, fa domain.FileAttributes, explicitDescription string) {
	if fa.MimeType != "" {
		mime := fa.MimeType
		oer.FileMimeType = &mime
	}
	if fa.Dim != "" {
		dim := fa.Dim
		oer.FileDim = &dim
	}
	if fa.Size != nil {
		size := *fa.Size
		oer.FileSize = &size
	}
	if fa.Alt != "" {
		alt := fa.Alt
		oer.FileAlt = &alt
	}
	description := explicitDescription
	if description == "" {
		description = fa.Description
	}
	if description != "" {
		oer.Description = &description
	}
}

// resolveFile looks up the referenced file event. A missing row is not an
// error (the file event may simply not have arrived yet); a row of the wrong
// kind is ignored with a warning.
func (u *ExtractionUsecase) resolveFile(ctx context.Context, fileEventID string) (*fileResolution, error) {
	if cached, ok := u.fileCache.Get(fileEventID); ok {
		resolution := cached.(fileResolution)
		return &resolution, nil
	}

	rec, err := u.sources.GetByIdentifier(ctx, u.sourceName, domain.SourceIdentifier(fileEventID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var fev nostr.Event
	if err := json.Unmarshal([]byte(rec.Payload), &fev); err != nil {
		return nil, errors.Wrapf(err, "corrupt stored payload for %s", rec.SourceIdentifier)
	}
	if fev.Kind != domain.KindFileMetadata {
		slog.Warn("referenced event is not file metadata",
			slog.String("file_event", fileEventID),
			slog.Int("kind", fev.Kind),
			slog.String("module", "extraction"),
		)
		return nil, nil
	}

	resolution := fileResolution{
		attrs:    FileAttributesFromEvent(&fev),
		recordID: rec.ID,
	}
	u.fileCache.Set(fileEventID, resolution, cache.DefaultExpiration)
	return &resolution, nil
}

// RetryMissingFileMetadata finds catalog records that still have no file
// MIME type and retries file resolution through their linked catalog
// sources, covering file events that arrived after extraction already ran.
func (u *ExtractionUsecase) RetryMissingFileMetadata(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Extraction.RetryMissingFileMetadata")
	defer span.End()

	oers, err := u.oers.ListMissingFileMetadata(ctx, u.sourceName)
	if err != nil {
		span.RecordError(err)
		return err
	}

	catalogType := domain.RecordType(domain.KindCatalogRecord)
	for _, oer := range oers {
		recs, err := u.sources.ListByOER(ctx, oer.ID)
		if err != nil {
			slog.Error("failed to list sources for catalog record",
				slog.Uint64("oer_id", uint64(oer.ID)),
				slog.String("error", err.Error()),
				slog.String("module", "extraction"),
			)
			continue
		}
		for _, rec := range recs {
			if rec.SourceRecordType != catalogType {
				continue
			}
			var ev nostr.Event
			if err := json.Unmarshal([]byte(rec.Payload), &ev); err != nil {
				continue
			}
			fileID := firstTagValue(&ev, "e")
			if fileID == "" {
				continue
			}
			resolution, err := u.resolveFile(ctx, fileID)
			if err != nil || resolution == nil {
				continue
			}
			updated := oer
			applyFileAttributes(&updated, resolution.attrs, firstTagValue(&ev, "description"))
			fid := fileID
			updated.FileEventID = &fid
			if err := u.oers.Update(ctx, &updated); err != nil {
				slog.Error("failed to update catalog record with file metadata",
					slog.Uint64("oer_id", uint64(oer.ID)),
					slog.String("error", err.Error()),
					slog.String("module", "extraction"),
				)
				continue
			}
			if err := u.sources.LinkOER(ctx, resolution.recordID, oer.ID); err != nil {
				slog.Error("failed to link file source record",
					slog.Uint64("oer_id", uint64(oer.ID)),
					slog.String("error", err.Error()),
					slog.String("module", "extraction"),
				)
			}
			break
		}
	}
	return nil
}
