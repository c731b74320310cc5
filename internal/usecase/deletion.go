package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

// DeletionUsecase processes NIP-09 deletion requests: it removes the
// referenced source records and cascades into the catalog, honoring a
// deletion only when the request author matches the target author.
type DeletionUsecase struct {
	sources    SourceRepository
	oers       OERRepository
	sourceName string
}

func NewDeletionUsecase(sources SourceRepository, oers OERRepository, sourceName string) *DeletionUsecase {
	if sourceName == "" {
		sourceName = domain.DefaultSourceName
	}
	return &DeletionUsecase{
		sources:    sources,
		oers:       oers,
		sourceName: sourceName,
	}
}

// ProcessRecord parses the stored deletion event and processes it, marking
// the deletion's own source row processed afterwards. Safe to call again
// during backfill.
func (u *DeletionUsecase) ProcessRecord(ctx context.Context, rec *domain.SourceRecord) error {
	ctx, span := tracer.Start(ctx, "Deletion.ProcessRecord")
	defer span.End()

	var ev nostr.Event
	if err := json.Unmarshal([]byte(rec.Payload), &ev); err != nil {
		err = errors.Wrapf(err, "corrupt stored payload for %s", rec.SourceIdentifier)
		span.RecordError(err)
		if markErr := u.sources.MarkStatus(ctx, rec.ID, domain.StatusFailed); markErr != nil {
			slog.Error("failed to mark deletion record failed",
				slog.String("error", markErr.Error()),
				slog.String("module", "deletion"),
			)
		}
		return err
	}

	u.Process(ctx, &ev)

	if err := u.sources.MarkStatus(ctx, rec.ID, domain.StatusProcessed); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Process applies a deletion request. Each referenced target is handled
// independently; a failure on one target never aborts the rest.
func (u *DeletionUsecase) Process(ctx context.Context, ev *nostr.Event) {
	ctx, span := tracer.Start(ctx, "Deletion.Process")
	defer span.End()

	targets := tagValues(ev, "e")
	if len(targets) == 0 {
		slog.Info("deletion request without target references",
			slog.String("id", ev.ID),
			slog.String("module", "deletion"),
		)
		return
	}

	for _, targetID := range targets {
		if err := u.processTarget(ctx, ev, targetID); err != nil {
			span.RecordError(err)
			slog.Error("failed to process deletion target",
				slog.String("target", targetID),
				slog.String("error", err.Error()),
				slog.String("module", "deletion"),
			)
		}
	}
}

func (u *DeletionUsecase) processTarget(ctx context.Context, del *nostr.Event, targetID string) error {
	rec, err := u.sources.GetByIdentifier(ctx, u.sourceName, domain.SourceIdentifier(targetID))
	if errors.Is(err, domain.ErrNotFound) {
		// Never ingested, or already deleted.
		slog.Debug("deletion target not stored",
			slog.String("target", targetID),
			slog.String("module", "deletion"),
		)
		return nil
	}
	if err != nil {
		return err
	}

	var target nostr.Event
	if err := json.Unmarshal([]byte(rec.Payload), &target); err != nil || target.ID == "" {
		slog.Error("stored deletion target has invalid payload",
			slog.String("target", targetID),
			slog.String("module", "deletion"),
		)
		return nil
	}

	// The sole trust boundary: only the author may delete their own events.
	if target.PubKey != del.PubKey {
		slog.Warn("deletion author mismatch",
			slog.String("target", targetID),
			slog.String("request_pubkey", del.PubKey),
			slog.String("target_pubkey", target.PubKey),
			slog.String("module", "deletion"),
		)
		return nil
	}

	switch target.Kind {
	case domain.KindFileMetadata:
		return u.deleteFileMetadata(ctx, rec, targetID)
	case domain.KindCatalogRecord:
		return u.deleteCatalogRecord(ctx, rec)
	default:
		return u.sources.Delete(ctx, rec.ID)
	}
}

// deleteFileMetadata nulls the file-derived fields on every catalog record
// whose file fields were derived from the deleted file event, then removes
// the file event's source row. Multiple catalog records may reference the
// same file event; the stamped file_event_id finds all of them, and the
// source row's own link is included as a safety net.
func (u *DeletionUsecase) deleteFileMetadata(ctx context.Context, rec *domain.SourceRecord, fileEventID string) error {
	ids, err := u.oers.ListIDsByFileEvent(ctx, u.sourceName, fileEventID)
	if err != nil {
		return err
	}
	if rec.OERID != nil && !containsID(ids, *rec.OERID) {
		ids = append(ids, *rec.OERID)
	}
	if len(ids) > 0 {
		if err := u.oers.ClearFileFields(ctx, ids); err != nil {
			return err
		}
	}
	return u.sources.Delete(ctx, rec.ID)
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// deleteCatalogRecord removes the source row and, when it was the catalog
// record's last remaining contributing source, the catalog record itself.
func (u *DeletionUsecase) deleteCatalogRecord(ctx context.Context, rec *domain.SourceRecord) error {
	if err := u.sources.Delete(ctx, rec.ID); err != nil {
		return err
	}
	if rec.OERID == nil {
		return nil
	}
	remaining, err := u.sources.CountByOER(ctx, *rec.OERID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	slog.Info("removing catalog record with no remaining sources",
		slog.Uint64("oer_id", uint64(*rec.OERID)),
		slog.String("module", "deletion"),
	)
	return u.oers.Delete(ctx, *rec.OERID)
}
