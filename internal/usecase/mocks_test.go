package usecase

import (
	"context"
	"sort"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

// memSourceRepo is an in-memory SourceRepository for tests.
type memSourceRepo struct {
	nextID  uint
	records map[string]*domain.SourceRecord

	getCalls     int
	createErr    error
	raceOnCreate bool
	failDelete   map[uint]error
}

func newMemSourceRepo() *memSourceRepo {
	return &memSourceRepo{records: map[string]*domain.SourceRecord{}}
}

func (r *memSourceRepo) key(sourceName, identifier string) string {
	return sourceName + "|" + identifier
}

func (r *memSourceRepo) seed(rec domain.SourceRecord) *domain.SourceRecord {
	r.nextID++
	rec.ID = r.nextID
	r.records[r.key(rec.SourceName, rec.SourceIdentifier)] = &rec
	return &rec
}

func (r *memSourceRepo) byID(id uint) *domain.SourceRecord {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *memSourceRepo) Create(ctx context.Context, rec *domain.SourceRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	k := r.key(rec.SourceName, rec.SourceIdentifier)
	if _, ok := r.records[k]; ok {
		return domain.ErrDuplicate
	}
	if r.raceOnCreate {
		// Another writer wins the unique-index race just before our insert.
		r.raceOnCreate = false
		r.seed(*rec)
		return domain.ErrDuplicate
	}
	r.nextID++
	rec.ID = r.nextID
	stored := *rec
	r.records[k] = &stored
	return nil
}

func (r *memSourceRepo) GetByIdentifier(ctx context.Context, sourceName, identifier string) (*domain.SourceRecord, error) {
	r.getCalls++
	rec, ok := r.records[r.key(sourceName, identifier)]
	if !ok {
		return nil, domain.NotFoundError{Resource: "source record"}
	}
	cp := *rec
	return &cp, nil
}

func (r *memSourceRepo) MaxTimestamp(ctx context.Context, sourceName, relayURL string, types []string) (int64, error) {
	var max int64
	for _, rec := range r.records {
		if rec.SourceName != sourceName || rec.SourceURI != relayURL {
			continue
		}
		if !containsString(types, rec.SourceRecordType) {
			continue
		}
		if rec.SourceTimestamp > max {
			max = rec.SourceTimestamp
		}
	}
	return max, nil
}

func (r *memSourceRepo) ListPendingByTypes(ctx context.Context, sourceName string, types []string) ([]domain.SourceRecord, error) {
	var out []domain.SourceRecord
	for _, rec := range r.records {
		if rec.SourceName != sourceName || rec.Status != domain.StatusPending {
			continue
		}
		if !containsString(types, rec.SourceRecordType) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceTimestamp < out[j].SourceTimestamp })
	return out, nil
}

func (r *memSourceRepo) ListByOER(ctx context.Context, oerID uint) ([]domain.SourceRecord, error) {
	var out []domain.SourceRecord
	for _, rec := range r.records {
		if rec.OERID != nil && *rec.OERID == oerID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memSourceRepo) CountByOER(ctx context.Context, oerID uint) (int64, error) {
	var n int64
	for _, rec := range r.records {
		if rec.OERID != nil && *rec.OERID == oerID {
			n++
		}
	}
	return n, nil
}

func (r *memSourceRepo) LinkOER(ctx context.Context, id uint, oerID uint) error {
	rec := r.byID(id)
	if rec == nil {
		return domain.NotFoundError{Resource: "source record"}
	}
	rec.OERID = &oerID
	rec.Status = domain.StatusProcessed
	return nil
}

func (r *memSourceRepo) MarkStatus(ctx context.Context, id uint, status string) error {
	rec := r.byID(id)
	if rec == nil {
		return domain.NotFoundError{Resource: "source record"}
	}
	rec.Status = status
	return nil
}

func (r *memSourceRepo) Delete(ctx context.Context, id uint) error {
	if err, ok := r.failDelete[id]; ok {
		return err
	}
	for k, rec := range r.records {
		if rec.ID == id {
			delete(r.records, k)
			return nil
		}
	}
	return nil
}

// memOERRepo is an in-memory OERRepository for tests.
type memOERRepo struct {
	nextID  uint
	byID    map[uint]*domain.OER
	updates int

	// raceExisting, when set, makes the next Create behave as if a
	// concurrent insert already won the unique index: the winner's row is
	// returned instead of inserting a new one.
	raceExisting *domain.OER
}

func newMemOERRepo() *memOERRepo {
	return &memOERRepo{byID: map[uint]*domain.OER{}}
}

func (r *memOERRepo) seed(o domain.OER) *domain.OER {
	r.nextID++
	o.ID = r.nextID
	r.byID[o.ID] = &o
	return &o
}

func (r *memOERRepo) GetByURLAndSource(ctx context.Context, url, sourceName string) (*domain.OER, error) {
	for _, o := range r.byID {
		if o.URL == url && o.SourceName == sourceName {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.NotFoundError{Resource: "oer"}
}

func (r *memOERRepo) Create(ctx context.Context, o *domain.OER) (*domain.OER, error) {
	if r.raceExisting != nil {
		winner := r.raceExisting
		r.raceExisting = nil
		r.byID[winner.ID] = winner
		cp := *winner
		return &cp, nil
	}
	r.nextID++
	o.ID = r.nextID
	stored := *o
	r.byID[o.ID] = &stored
	cp := stored
	return &cp, nil
}

func (r *memOERRepo) Update(ctx context.Context, o *domain.OER) error {
	if _, ok := r.byID[o.ID]; !ok {
		return domain.NotFoundError{Resource: "oer"}
	}
	stored := *o
	r.byID[o.ID] = &stored
	r.updates++
	return nil
}

func (r *memOERRepo) Delete(ctx context.Context, id uint) error {
	delete(r.byID, id)
	return nil
}

func (r *memOERRepo) ClearFileFields(ctx context.Context, ids []uint) error {
	for _, id := range ids {
		if o, ok := r.byID[id]; ok {
			o.FileMimeType = nil
			o.FileDim = nil
			o.FileSize = nil
			o.FileAlt = nil
			o.FileEventID = nil
		}
	}
	return nil
}

func (r *memOERRepo) ListIDsByFileEvent(ctx context.Context, sourceName, fileEventID string) ([]uint, error) {
	var ids []uint
	for _, o := range r.byID {
		if o.SourceName == sourceName && o.FileEventID != nil && *o.FileEventID == fileEventID {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memOERRepo) ListMissingFileMetadata(ctx context.Context, sourceName string) ([]domain.OER, error) {
	var out []domain.OER
	for _, o := range r.byID {
		if o.SourceName == sourceName && o.FileMimeType == nil {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeSeenCache records marks and reports pre-seeded hits.
type fakeSeenCache struct {
	seen   map[string]bool
	marked []string
	probes int
}

func newFakeSeenCache() *fakeSeenCache {
	return &fakeSeenCache{seen: map[string]bool{}}
}

func (c *fakeSeenCache) Seen(ctx context.Context, eventID string) bool {
	c.probes++
	return c.seen[eventID]
}

func (c *fakeSeenCache) MarkSeen(ctx context.Context, eventID string) {
	c.seen[eventID] = true
	c.marked = append(c.marked, eventID)
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
