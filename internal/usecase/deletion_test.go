package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

func seedStoredEvent(t *testing.T, repo *memSourceRepo, ev *nostr.Event, oerID *uint) *domain.SourceRecord {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return repo.seed(domain.SourceRecord{
		SourceName:       "edufeed",
		SourceIdentifier: domain.SourceIdentifier(ev.ID),
		SourceURI:        "wss://relay.example.org",
		SourceTimestamp:  int64(ev.CreatedAt),
		SourceRecordType: domain.RecordType(ev.Kind),
		Status:           domain.StatusProcessed,
		Payload:          string(payload),
		OERID:            oerID,
	})
}

func deletionEvent(pubkey string, targets ...string) *nostr.Event {
	tags := nostr.Tags{}
	for _, id := range targets {
		tags = append(tags, nostr.Tag{"e", id})
	}
	return &nostr.Event{
		ID:        "del1",
		PubKey:    pubkey,
		CreatedAt: 1700000500,
		Kind:      domain.KindDeletionRequest,
		Tags:      tags,
	}
}

func TestDeletionRequiresMatchingAuthor(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	oer := oers.seed(domain.OER{URL: "https://example.org/r", SourceName: "edufeed"})
	target := &nostr.Event{ID: "cat1", PubKey: "author-a", Kind: domain.KindCatalogRecord}
	seedStoredEvent(t, sources, target, &oer.ID)

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-b", "cat1"))

	if _, err := sources.GetByIdentifier(context.Background(), "edufeed", "event:cat1"); err != nil {
		t.Error("unauthorized deletion removed the target record")
	}
	if _, ok := oers.byID[oer.ID]; !ok {
		t.Error("unauthorized deletion removed the catalog record")
	}
}

func TestDeletionRemovesLastCatalogSource(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	oer := oers.seed(domain.OER{URL: "https://example.org/r", SourceName: "edufeed"})
	target := &nostr.Event{ID: "cat1", PubKey: "author-a", Kind: domain.KindCatalogRecord}
	seedStoredEvent(t, sources, target, &oer.ID)

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a", "cat1"))

	if _, err := sources.GetByIdentifier(context.Background(), "edufeed", "event:cat1"); err == nil {
		t.Error("source record should be deleted")
	}
	if _, ok := oers.byID[oer.ID]; ok {
		t.Error("catalog record with no remaining sources should be deleted")
	}
}

func TestDeletionKeepsSharedCatalogRecord(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	oer := oers.seed(domain.OER{URL: "https://example.org/r", SourceName: "edufeed"})
	seedStoredEvent(t, sources, &nostr.Event{ID: "cat1", PubKey: "author-a", Kind: domain.KindCatalogRecord}, &oer.ID)
	seedStoredEvent(t, sources, &nostr.Event{ID: "cat2", PubKey: "author-a", Kind: domain.KindCatalogRecord}, &oer.ID)

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a", "cat1"))

	if _, ok := oers.byID[oer.ID]; !ok {
		t.Error("catalog record still has a contributing source and must remain")
	}
	if _, err := sources.GetByIdentifier(context.Background(), "edufeed", "event:cat2"); err != nil {
		t.Error("unrelated source record was removed")
	}
}

func TestDeletionClearsFileFields(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	mime, dim := "image/png", "800x600"
	size := int64(1024)
	oer := oers.seed(domain.OER{
		URL:          "https://example.org/r",
		SourceName:   "edufeed",
		Name:         "Resource",
		FileMimeType: &mime,
		FileDim:      &dim,
		FileSize:     &size,
	})
	file := &nostr.Event{ID: "file1", PubKey: "author-a", Kind: domain.KindFileMetadata}
	seedStoredEvent(t, sources, file, &oer.ID)
	// A catalog source keeps the record alive after the file event goes away.
	seedStoredEvent(t, sources, &nostr.Event{ID: "cat1", PubKey: "author-a", Kind: domain.KindCatalogRecord}, &oer.ID)

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a", "file1"))

	got := oers.byID[oer.ID]
	if got == nil {
		t.Fatal("catalog record should remain")
	}
	if got.FileMimeType != nil || got.FileDim != nil || got.FileSize != nil || got.FileAlt != nil {
		t.Error("file-derived fields should be cleared")
	}
	if got.Name != "Resource" {
		t.Error("non-file fields must be untouched")
	}
	if _, err := sources.GetByIdentifier(context.Background(), "edufeed", "event:file1"); err == nil {
		t.Error("file source record should be deleted")
	}
}

func TestDeletionClearsFileFieldsOnAllReferencingRecords(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	seedStoredEvent(t, sources, &nostr.Event{
		ID:     "file1",
		PubKey: "author-a",
		Kind:   domain.KindFileMetadata,
		Tags:   nostr.Tags{{"m", "image/png"}},
	}, nil)

	// Two resources carry the same file event; both pick up its fields.
	extraction := NewExtractionUsecase(sources, oers, "edufeed")
	for _, ev := range []*nostr.Event{
		catalogEvent("cat-a", nostr.Tag{"d", "https://example.org/a"}, nostr.Tag{"e", "file1"}),
		catalogEvent("cat-b", nostr.Tag{"d", "https://example.org/b"}, nostr.Tag{"e", "file1"}),
	} {
		rec := seedPendingCatalog(t, sources, ev)
		if _, err := extraction.Extract(context.Background(), rec); err != nil {
			t.Fatalf("Extract %s: %v", ev.ID, err)
		}
	}

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a", "file1"))

	for _, url := range []string{"https://example.org/a", "https://example.org/b"} {
		oer, err := oers.GetByURLAndSource(context.Background(), url, "edufeed")
		if err != nil {
			t.Fatalf("lookup %s: %v", url, err)
		}
		if oer.FileMimeType != nil {
			t.Errorf("%s keeps file mime after the file event was deleted", url)
		}
	}
	if _, err := sources.GetByIdentifier(context.Background(), "edufeed", "event:file1"); err == nil {
		t.Error("file source record should be deleted")
	}
}

func TestDeletionUnknownTargetIsNoop(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	seedStoredEvent(t, sources, &nostr.Event{ID: "cat1", PubKey: "author-a", Kind: domain.KindCatalogRecord}, nil)

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a", "missing"))

	if len(sources.records) != 1 {
		t.Error("unknown target must not affect stored records")
	}
}

func TestDeletionWithoutTargetsIsNoop(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	seedStoredEvent(t, sources, &nostr.Event{ID: "cat1", PubKey: "author-a", Kind: domain.KindCatalogRecord}, nil)

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a"))

	if len(sources.records) != 1 {
		t.Error("deletion without references must be a no-op")
	}
}

func TestDeletionIsolatesTargetFailures(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	first := seedStoredEvent(t, sources, &nostr.Event{ID: "note1", PubKey: "author-a", Kind: 1}, nil)
	seedStoredEvent(t, sources, &nostr.Event{ID: "note2", PubKey: "author-a", Kind: 1}, nil)
	sources.failDelete = map[uint]error{first.ID: domain.ErrNotFound}

	u := NewDeletionUsecase(sources, oers, "edufeed")
	u.Process(context.Background(), deletionEvent("author-a", "note1", "note2"))

	if _, err := sources.GetByIdentifier(context.Background(), "edufeed", "event:note2"); err == nil {
		return
	}
	t.Error("failure on one target must not abort the remaining targets")
}

func TestProcessRecordMarksProcessed(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	del := deletionEvent("author-a", "missing")
	rec := seedStoredEvent(t, sources, del, nil)
	rec.Status = domain.StatusPending

	u := NewDeletionUsecase(sources, oers, "edufeed")
	if err := u.ProcessRecord(context.Background(), rec); err != nil {
		t.Fatalf("ProcessRecord: %v", err)
	}
	if got := sources.byID(rec.ID).Status; got != domain.StatusProcessed {
		t.Errorf("status = %q, want processed", got)
	}
}

func TestProcessRecordCorruptPayload(t *testing.T) {
	sources := newMemSourceRepo()
	oers := newMemOERRepo()
	rec := sources.seed(domain.SourceRecord{
		SourceName:       "edufeed",
		SourceIdentifier: "event:bad",
		SourceRecordType: domain.RecordType(domain.KindDeletionRequest),
		Status:           domain.StatusPending,
		Payload:          "{not json",
	})

	u := NewDeletionUsecase(sources, oers, "edufeed")
	if err := u.ProcessRecord(context.Background(), rec); err == nil {
		t.Fatal("corrupt payload must return an error")
	}
	if got := sources.byID(rec.ID).Status; got != domain.StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
}
