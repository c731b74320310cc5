package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/usecase"
)

var tracer = otel.Tracer("feed")

// DefaultReconnectDelay is applied when no reconnect delay is configured.
const DefaultReconnectDelay = 5000 * time.Millisecond

// Ingestor persists validated events as source records.
type Ingestor interface {
	SaveEvent(ctx context.Context, ev *nostr.Event, relayURL string) (*domain.SourceRecord, domain.SaveOutcome, error)
}

// DeletionProcessor applies a stored deletion request.
type DeletionProcessor interface {
	ProcessRecord(ctx context.Context, rec *domain.SourceRecord) error
}

// Extractor turns stored catalog events into catalog records.
type Extractor interface {
	Extract(ctx context.Context, rec *domain.SourceRecord) (*domain.OER, error)
	RetryMissingFileMetadata(ctx context.Context) error
}

// CursorStore supplies resume cursors and the backfill work list.
type CursorStore interface {
	MaxTimestamp(ctx context.Context, sourceName, relayURL string, types []string) (int64, error)
	ListPendingByTypes(ctx context.Context, sourceName string, types []string) ([]domain.SourceRecord, error)
}

// FeedOptions configures the relay feed.
type FeedOptions struct {
	Relays         []string
	ReconnectDelay time.Duration
	SourceName     string
}

// relayState tracks one relay connection. lastEventTimestamp is the
// in-memory sync cursor: a monotonic max over the created_at of every valid
// event, advanced before dedup so redelivery still converges it forward.
type relayState struct {
	url                string
	relay              *nostr.Relay
	lastEventTimestamp int64
}

// FeedService owns one connection per configured relay and routes inbound
// events through validation, ingestion, deletion and extraction. Each relay
// is driven by its own goroutine; the registry map is the only shared
// mutable structure and is guarded by mu.
type FeedService struct {
	opts       FeedOptions
	ingest     Ingestor
	deletion   DeletionProcessor
	extraction Extractor
	cursors    CursorStore
	validate   func(*nostr.Event) (bool, string)

	mu     sync.Mutex
	relays map[string]*relayState

	ready        atomic.Bool
	shuttingDown atomic.Bool
	backfillMu   sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventsReceived     int64
	eventsInvalid      int64
	eventsStored       int64
	eventsDuplicate    int64
	deletionsProcessed int64
	recordsExtracted   int64
	reconnects         int64
}

// RelayStatus is a snapshot of one relay connection.
type RelayStatus struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
	Cursor    int64  `json:"cursor"`
}

// FeedStats holds runtime counters for the feed.
type FeedStats struct {
	Ready              bool          `json:"ready"`
	EventsReceived     int64         `json:"events_received"`
	EventsInvalid      int64         `json:"events_invalid"`
	EventsStored       int64         `json:"events_stored"`
	EventsDuplicate    int64         `json:"events_duplicate"`
	DeletionsProcessed int64         `json:"deletions_processed"`
	RecordsExtracted   int64         `json:"records_extracted"`
	Reconnects         int64         `json:"reconnects"`
	Relays             []RelayStatus `json:"relays"`
}

func NewFeedService(opts FeedOptions, ingest Ingestor, deletion DeletionProcessor, extraction Extractor, cursors CursorStore) *FeedService {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SourceName == "" {
		opts.SourceName = domain.DefaultSourceName
	}
	return &FeedService{
		opts:       opts,
		ingest:     ingest,
		deletion:   deletion,
		extraction: extraction,
		cursors:    cursors,
		validate:   usecase.ValidateSignature,
		relays:     make(map[string]*relayState),
	}
}

// Start loads the per-relay resume cursors from storage and launches one
// connection goroutine per relay. A cursor query failure falls back to a
// full (unbounded) sync for that relay.
func (s *FeedService) Start(ctx context.Context) error {
	urls := make([]string, 0, len(s.opts.Relays))
	for _, url := range s.opts.Relays {
		url = strings.TrimSpace(url)
		if url != "" {
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		return errors.New("no relays configured")
	}

	ctx, s.cancel = context.WithCancel(ctx)

	for _, url := range urls {
		st := &relayState{url: url}
		ts, err := s.cursors.MaxTimestamp(ctx, s.opts.SourceName, url, domain.FeedRecordTypes())
		if err != nil {
			slog.Warn("failed to load resume cursor, starting full sync",
				slog.String("relay", url),
				slog.String("error", err.Error()),
				slog.String("module", "feed"),
			)
		} else {
			st.lastEventTimestamp = ts
		}

		s.mu.Lock()
		s.relays[url] = st
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runRelay(ctx, st)
	}
	return nil
}

// Stop sets the shutdown flag, cancels all connection goroutines and waits
// for them to exit.
func (s *FeedService) Stop() {
	s.shuttingDown.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.relays {
		if st.relay != nil {
			_ = st.relay.Close()
			st.relay = nil
		}
	}
}

// Ready reports whether the historical backfill has completed and live
// catalog events extract immediately.
func (s *FeedService) Ready() bool {
	return s.ready.Load()
}

// Stats returns a snapshot of the feed counters and relay states.
func (s *FeedService) Stats() FeedStats {
	stats := FeedStats{
		Ready:              s.ready.Load(),
		EventsReceived:     atomic.LoadInt64(&s.eventsReceived),
		EventsInvalid:      atomic.LoadInt64(&s.eventsInvalid),
		EventsStored:       atomic.LoadInt64(&s.eventsStored),
		EventsDuplicate:    atomic.LoadInt64(&s.eventsDuplicate),
		DeletionsProcessed: atomic.LoadInt64(&s.deletionsProcessed),
		RecordsExtracted:   atomic.LoadInt64(&s.recordsExtracted),
		Reconnects:         atomic.LoadInt64(&s.reconnects),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.relays {
		stats.Relays = append(stats.Relays, RelayStatus{
			URL:       st.url,
			Connected: st.relay != nil && st.relay.IsConnected(),
			Cursor:    st.lastEventTimestamp,
		})
	}
	return stats
}

func (s *FeedService) cursor(url string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.relays[url]; ok {
		return st.lastEventTimestamp
	}
	return 0
}

// advanceCursor applies a monotonic max; out-of-order and replayed events
// never move the cursor backwards. Cursors are strictly per relay.
func (s *FeedService) advanceCursor(url string, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.relays[url]; ok && ts > st.lastEventTimestamp {
		st.lastEventTimestamp = ts
	}
}

// handleEvent routes one inbound event: validate, advance the cursor,
// ingest, then dispatch by kind. Duplicates stop after the cursor advance
// and the dedup check.
func (s *FeedService) handleEvent(ctx context.Context, relayURL string, ev *nostr.Event) {
	if ev == nil {
		return
	}
	ctx, span := tracer.Start(ctx, "Feed.handleEvent")
	defer span.End()

	atomic.AddInt64(&s.eventsReceived, 1)

	if ok, reason := s.validate(ev); !ok {
		atomic.AddInt64(&s.eventsInvalid, 1)
		slog.Warn("dropping event with invalid signature",
			slog.String("id", ev.ID),
			slog.String("relay", relayURL),
			slog.String("reason", reason),
			slog.String("module", "feed"),
		)
		return
	}

	// Every valid event advances the cursor, before the dedup check, so a
	// relay replaying events at-least-once still converges it forward.
	s.advanceCursor(relayURL, int64(ev.CreatedAt))

	rec, outcome, err := s.ingest.SaveEvent(ctx, ev, relayURL)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to store event",
			slog.String("id", ev.ID),
			slog.String("relay", relayURL),
			slog.String("error", err.Error()),
			slog.String("module", "feed"),
		)
		return
	}
	if outcome == domain.SaveOutcomeDuplicate {
		atomic.AddInt64(&s.eventsDuplicate, 1)
		return
	}
	atomic.AddInt64(&s.eventsStored, 1)

	switch ev.Kind {
	case domain.KindDeletionRequest:
		if err := s.deletion.ProcessRecord(ctx, rec); err != nil {
			slog.Error("failed to process deletion request",
				slog.String("id", ev.ID),
				slog.String("error", err.Error()),
				slog.String("module", "feed"),
			)
			return
		}
		atomic.AddInt64(&s.deletionsProcessed, 1)
	case domain.KindCatalogRecord:
		if !s.ready.Load() {
			// Left pending; the backfill after EOSE picks it up.
			return
		}
		if _, err := s.extraction.Extract(ctx, rec); err != nil {
			slog.Error("failed to extract catalog record",
				slog.String("id", ev.ID),
				slog.String("error", err.Error()),
				slog.String("module", "feed"),
			)
			return
		}
		atomic.AddInt64(&s.recordsExtracted, 1)
	}
}

// handleEOSE runs the historical backfill and flips the ready flag so live
// catalog events extract immediately from then on.
func (s *FeedService) handleEOSE(ctx context.Context, relayURL string) {
	slog.Info("end of stored events",
		slog.String("relay", relayURL),
		slog.String("module", "feed"),
	)
	if err := s.backfill(ctx); err != nil {
		slog.Error("backfill failed",
			slog.String("relay", relayURL),
			slog.String("error", err.Error()),
			slog.String("module", "feed"),
		)
		return
	}
	s.ready.Store(true)
}

// backfill processes all pending catalog and deletion records across history
// in timestamp order, then retries file-metadata resolution for catalog
// records still missing it. One backfill runs at a time; a failure on one
// record never aborts the rest.
func (s *FeedService) backfill(ctx context.Context) error {
	s.backfillMu.Lock()
	defer s.backfillMu.Unlock()

	ctx, span := tracer.Start(ctx, "Feed.backfill")
	defer span.End()

	deletionType := domain.RecordType(domain.KindDeletionRequest)
	types := []string{domain.RecordType(domain.KindCatalogRecord), deletionType}

	recs, err := s.cursors.ListPendingByTypes(ctx, s.opts.SourceName, types)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(recs) > 0 {
		slog.Info("backfilling pending records",
			slog.Int("count", len(recs)),
			slog.String("module", "feed"),
		)
	}

	for i := range recs {
		rec := recs[i]
		if rec.SourceRecordType == deletionType {
			if err := s.deletion.ProcessRecord(ctx, &rec); err != nil {
				slog.Error("backfill deletion failed",
					slog.String("identifier", rec.SourceIdentifier),
					slog.String("error", err.Error()),
					slog.String("module", "feed"),
				)
				continue
			}
			atomic.AddInt64(&s.deletionsProcessed, 1)
			continue
		}
		if _, err := s.extraction.Extract(ctx, &rec); err != nil {
			slog.Error("backfill extraction failed",
				slog.String("identifier", rec.SourceIdentifier),
				slog.String("error", err.Error()),
				slog.String("module", "feed"),
			)
			continue
		}
		atomic.AddInt64(&s.recordsExtracted, 1)
	}

	return s.extraction.RetryMissingFileMetadata(ctx)
}
