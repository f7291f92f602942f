package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/park285/cheese-rooms/internal/room"
)

type flakyStore struct {
	Store
	fail  int
	calls int
}

func (f *flakyStore) InsertGameRecord(ctx context.Context, rec Record) (string, error) {
	f.calls++
	if f.fail > 0 {
		f.fail--
		return "", errors.New("disk full")
	}
	return f.Store.InsertGameRecord(ctx, rec)
}

type recordingOutbox struct{ ids []string }

func (o *recordingOutbox) Enqueue(_ context.Context, rec Record) error {
	o.ids = append(o.ids, rec.ID)
	return nil
}

func TestPipelineArchivesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	out := &recordingOutbox{}
	p := NewPipeline(store, out, nil)

	if rec, ok, err := p.Archive(ctx, room.NewState("R1", room.Mode1v1)); rec != nil || ok || err != nil {
		t.Fatalf("lobby archived: %v %v %v", rec, ok, err)
	}

	s := finishedState("R1", 9, 123, "0-1")
	rec, ok, err := p.Archive(ctx, s)
	if err != nil || !ok || rec == nil {
		t.Fatalf("first archive: %v %v %v", rec, ok, err)
	}
	if _, ok, _ := p.Archive(ctx, s.Clone()); ok {
		t.Fatalf("duplicate delivery archived again")
	}
	list, _ := store.ListGameRecords(ctx, 10, 0)
	if len(list) != 1 || len(out.ids) != 1 {
		t.Fatalf("rows=%d outbox=%d", len(list), len(out.ids))
	}
	got, _ := store.GetGameRecord(ctx, rec.ID)
	if got == nil || got.Result != "0-1" {
		t.Fatalf("get = %+v", got)
	}
}

func TestPipelineRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: NewMemoryStore(), fail: 1}
	p := NewPipeline(fs, nil, nil)
	s := finishedState("R1", 9, 123, "1-0")

	if _, _, err := p.Archive(ctx, s); err == nil {
		t.Fatalf("expected write failure")
	}
	if _, ok, err := p.Archive(ctx, s); err != nil || !ok {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
	if fs.calls != 2 {
		t.Fatalf("insert calls = %d", fs.calls)
	}
}

func TestPipelineMarkSkipsRestoredFinal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewPipeline(store, nil, nil)
	s := finishedState("R1", 9, 123, "1-0")
	p.Mark(s)
	if _, ok, _ := p.Archive(ctx, s); ok {
		t.Fatalf("marked snapshot archived")
	}
	if list, _ := store.ListGameRecords(ctx, 0, 0); len(list) != 0 {
		t.Fatalf("rows = %d", len(list))
	}
}

func TestPipelineDuplicateRowIsSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := finishedState("R1", 9, 123, "1-0")
	rec, _ := BuildRecord(s, time.Now())
	if _, err := store.InsertGameRecord(ctx, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := NewPipeline(store, nil, nil)
	if _, ok, err := p.Archive(ctx, s); err != nil || !ok {
		t.Fatalf("duplicate row: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "archive", "games.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	older, _ := BuildRecord(finishedState("R1", 5, 1_000, "1-0"), time.Now())
	newer, _ := BuildRecord(finishedState("R2", 6, 2_000, "0-1"), time.Now())
	for _, rec := range []Record{older, newer} {
		if _, err := store.InsertGameRecord(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}
	if _, err := store.InsertGameRecord(ctx, older); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert err = %v", err)
	}

	list, err := store.ListGameRecords(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("list order = %+v", list)
	}
	page, _ := store.ListGameRecords(ctx, 1, 1)
	if len(page) != 1 || page[0].ID != older.ID {
		t.Fatalf("page = %+v", page)
	}

	got, err := store.GetGameRecord(ctx, older.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.PGN != older.PGN || got.WhiteName != "Alice" || !got.CreatedAt.Equal(older.CreatedAt) {
		t.Fatalf("round trip = %+v", got)
	}
	if missing, err := store.GetGameRecord(ctx, "nope"); missing != nil || err != nil {
		t.Fatalf("missing = %v %v", missing, err)
	}
}

func TestMemoryStoreListPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := int64(1); i <= 3; i++ {
		rec, _ := BuildRecord(finishedState("R", i, i*1000, "1-0"), time.Now())
		_, _ = store.InsertGameRecord(ctx, rec)
	}
	list, _ := store.ListGameRecords(ctx, 2, 0)
	if len(list) != 2 || list[0].CreatedAt.UnixMilli() != 3000 {
		t.Fatalf("first page = %+v", list)
	}
	if rest, _ := store.ListGameRecords(ctx, 2, 5); len(rest) != 0 {
		t.Fatalf("past end = %+v", rest)
	}
}
