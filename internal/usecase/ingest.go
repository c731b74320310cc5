package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

// IngestUsecase persists validated events as pending source records,
// deduplicating by event identity.
type IngestUsecase struct {
	sources    SourceRepository
	seen       SeenCache
	sourceName string
}

func NewIngestUsecase(sources SourceRepository, seen SeenCache, sourceName string) *IngestUsecase {
	if sourceName == "" {
		sourceName = domain.DefaultSourceName
	}
	return &IngestUsecase{
		sources:    sources,
		seen:       seen,
		sourceName: sourceName,
	}
}

// SaveEvent stores the event if its identity is new. A concurrent insert of
// the same identity is reclassified as a duplicate outcome, never surfaced as
// an error. Only non-duplicate storage faults return err.
func (u *IngestUsecase) SaveEvent(ctx context.Context, ev *nostr.Event, relayURL string) (*domain.SourceRecord, domain.SaveOutcome, error) {
	ctx, span := tracer.Start(ctx, "Ingest.SaveEvent")
	defer span.End()

	identifier := domain.SourceIdentifier(ev.ID)

	// A cache hit means the row very likely exists: look it up first and
	// fall through to the insert only when the hit was stale. On a miss the
	// insert goes straight to the unique index, which arbitrates.
	if u.seen != nil && u.seen.Seen(ctx, ev.ID) {
		existing, err := u.sources.GetByIdentifier(ctx, u.sourceName, identifier)
		if err == nil {
			return existing, domain.SaveOutcomeDuplicate, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			return nil, domain.SaveOutcomeUnknown, err
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		span.RecordError(err)
		return nil, domain.SaveOutcomeUnknown, errors.Wrap(err, "failed to encode event payload")
	}

	rec := &domain.SourceRecord{
		SourceName:       u.sourceName,
		SourceIdentifier: identifier,
		SourceURI:        relayURL,
		SourceTimestamp:  int64(ev.CreatedAt),
		SourceRecordType: domain.RecordType(ev.Kind),
		Status:           domain.StatusPending,
		Payload:          string(payload),
	}

	err = u.sources.Create(ctx, rec)
	if errors.Is(err, domain.ErrDuplicate) {
		// The row already exists, whether from an earlier delivery or a
		// concurrent one from another relay.
		u.markSeen(ctx, ev.ID)
		existing, getErr := u.sources.GetByIdentifier(ctx, u.sourceName, identifier)
		if getErr != nil {
			span.RecordError(getErr)
			return nil, domain.SaveOutcomeUnknown, getErr
		}
		return existing, domain.SaveOutcomeDuplicate, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, domain.SaveOutcomeUnknown, err
	}

	u.markSeen(ctx, ev.ID)
	slog.Debug("stored event",
		slog.String("id", ev.ID),
		slog.Int("kind", ev.Kind),
		slog.String("relay", relayURL),
		slog.String("module", "ingest"),
	)
	return rec, domain.SaveOutcomeCreated, nil
}

func (u *IngestUsecase) markSeen(ctx context.Context, eventID string) {
	if u.seen != nil {
		u.seen.MarkSeen(ctx, eventID)
	}
}
