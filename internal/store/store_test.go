package store

import (
	"errors"
	"testing"
)

// openTestStore opens a Store backed by two in-memory shards.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	live, err := openDB(":memory:")
	if err != nil {
		t.Fatalf("open live: %v", err)
	}
	archive, err := openDB(":memory:")
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	// Each pooled connection to :memory: would see its own empty database.
	live.SetMaxOpenConns(1)
	archive.SetMaxOpenConns(1)
	s := &Store{live: live, archive: archive}
	if err := s.migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveItem_SequentialIDs(t *testing.T) {
	s := openTestStore(t)

	names := []string{"pepe trophy", "odd eye", "trout"}
	for want, name := range names {
		id, err := s.ResolveItem(name)
		if err != nil {
			t.Fatalf("ResolveItem(%q): %v", name, err)
		}
		if id != int64(want) {
			t.Errorf("ResolveItem(%q) = %d, want %d", name, id, want)
		}
	}

	// Resolving an existing name returns the same ID, no new allocation.
	id, err := s.ResolveItem("odd eye")
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("re-resolve = %d, want 1", id)
	}
	n, _ := s.ItemCount()
	if n != 3 {
		t.Errorf("ItemCount = %d, want 3", n)
	}
}

func TestRecordValue_AppendAndIconOnce(t *testing.T) {
	s := openTestStore(t)

	id, err := s.RecordValue("pepe trophy", "", HistoryPoint{T: 2000, V: 50})
	if err != nil {
		t.Fatalf("RecordValue: %v", err)
	}
	if id != 0 {
		t.Errorf("first item ID = %d, want 0", id)
	}

	// Backward scan discovers an older point next; insertion order is
	// discovery order, not timestamp order.
	if _, err := s.RecordValue("pepe trophy", "https://cdn/icon.webp", HistoryPoint{T: 1000, V: 40}); err != nil {
		t.Fatal(err)
	}
	// A later URL must not overwrite the first one recorded.
	if _, err := s.RecordValue("pepe trophy", "https://cdn/other.webp", HistoryPoint{T: 3000, V: 60}); err != nil {
		t.Fatal(err)
	}

	it, err := s.GetItem("pepe trophy")
	if err != nil || it == nil {
		t.Fatalf("GetItem: %v, %v", it, err)
	}
	if len(it.History) != 3 {
		t.Fatalf("history len = %d, want 3", len(it.History))
	}
	if it.History[0].T != 2000 || it.History[1].T != 1000 {
		t.Errorf("history not in insertion order: %+v", it.History)
	}
	if it.IconURL != "https://cdn/icon.webp" {
		t.Errorf("IconURL = %q, want first non-empty URL kept", it.IconURL)
	}
	if !it.HasTimestamp(1000) || it.HasTimestamp(1500) {
		t.Error("HasTimestamp misreporting")
	}
}

func TestInsertMany_PartialSuccessOnDuplicate(t *testing.T) {
	s := openTestStore(t)

	n, err := s.InsertMany([]Trade{
		{ExternalID: "A1", ItemID: 0, TS: 10, Price: 5, Qty: 1},
		{ExternalID: "A2", ItemID: 0, TS: 20, Price: 5, Qty: 1},
	})
	if err != nil || n != 2 {
		t.Fatalf("InsertMany = %d, %v", n, err)
	}

	n, err = s.InsertMany([]Trade{
		{ExternalID: "A3", ItemID: 0, TS: 30, Price: 5, Qty: 1},
		{ExternalID: "A2", ItemID: 0, TS: 20, Price: 5, Qty: 1}, // collision
		{ExternalID: "A4", ItemID: 0, TS: 40, Price: 5, Qty: 1},
	})
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateError", err)
	}
	if dup.ExternalID != "A2" {
		t.Errorf("duplicate ID = %q, want A2", dup.ExternalID)
	}
	if n != 2 {
		t.Errorf("partial insert count = %d, want 2 (unordered semantics)", n)
	}

	total, err := s.Count(AllTrades())
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 {
		t.Errorf("Count = %d, want 4", total)
	}
}

func seedShards(t *testing.T, s *Store) {
	t.Helper()
	// Archive: two old records; live: two recent ones.
	if _, err := insertManyInto(s.archive, []Trade{
		{ExternalID: "O1", ItemID: 1, TS: 100, Price: 10, Qty: 1},
		{ExternalID: "PVO2", ItemID: 1, TS: 200, Price: 12, Qty: 2, IsSell: true},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertMany([]Trade{
		{ExternalID: "N1", ItemID: 1, TS: 300, Price: 15, Qty: 1, IsSell: true},
		{ExternalID: "N2", ItemID: 2, TS: 400, Price: 20, Qty: 3},
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCount_SumsShards(t *testing.T) {
	s := openTestStore(t)
	seedShards(t, s)

	total, err := s.Count(AllTrades())
	if err != nil {
		t.Fatal(err)
	}
	liveN, _ := s.LiveCount()
	archiveN, _ := s.ArchiveCount()
	if total != liveN+archiveN || total != 4 {
		t.Errorf("Count = %d, shards = %d+%d", total, liveN, archiveN)
	}

	f := AllTrades()
	f.Side = "sell"
	if n, _ := s.Count(f); n != 2 {
		t.Errorf("sell count = %d, want 2", n)
	}
	f = AllTrades()
	f.ExcludePrivate = true
	if n, _ := s.Count(f); n != 3 {
		t.Errorf("public count = %d, want 3", n)
	}
	f = AllTrades()
	f.ItemID = 2
	if n, _ := s.Count(f); n != 1 {
		t.Errorf("item 2 count = %d, want 1", n)
	}
	f = AllTrades()
	f.StartMS, f.EndMS = 150, 350
	if n, _ := s.Count(f); n != 2 {
		t.Errorf("range count = %d, want 2", n)
	}
}

func TestFind_PaginationAcrossShards(t *testing.T) {
	s := openTestStore(t)
	seedShards(t, s)

	full, err := s.Find(AllTrades(), false, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 4 {
		t.Fatalf("full page len = %d", len(full))
	}
	for i := 1; i < len(full); i++ {
		if full[i-1].TS > full[i].TS {
			t.Fatalf("not ascending: %+v", full)
		}
	}

	// Two half pages must reproduce the full ordering split at index 2.
	p1, err := s.Find(AllTrades(), false, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Find(AllTrades(), false, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	got := append(p1, p2...)
	if len(got) != 4 {
		t.Fatalf("paged total = %d", len(got))
	}
	for i := range full {
		if got[i].ExternalID != full[i].ExternalID {
			t.Errorf("page split mismatch at %d: %s vs %s", i, got[i].ExternalID, full[i].ExternalID)
		}
	}
}

func TestFind_DescendingQueriesLiveFirst(t *testing.T) {
	s := openTestStore(t)
	seedShards(t, s)

	got, err := s.Find(AllTrades(), true, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"N2", "N1", "PVO2"}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, id := range want {
		if got[i].ExternalID != id {
			t.Errorf("desc[%d] = %s, want %s", i, got[i].ExternalID, id)
		}
	}
}

func TestFind_LimitWithinOneShard(t *testing.T) {
	s := openTestStore(t)
	seedShards(t, s)

	got, err := s.Find(AllTrades(), false, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ExternalID != "PVO2" {
		t.Errorf("got %+v, want the second archive record", got)
	}
}

func TestFind_SkipPastFirstShard(t *testing.T) {
	s := openTestStore(t)
	seedShards(t, s)

	// Skip 3 overshoots the two archive records; the leftover must carry
	// into the live shard.
	got, err := s.Find(AllTrades(), false, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ExternalID != "N2" {
		t.Errorf("got %+v, want just N2", got)
	}
}

func TestMigrateAndDelete(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertMany([]Trade{
		{ExternalID: "T1", ItemID: 0, TS: 100, Price: 1, Qty: 1},
		{ExternalID: "T2", ItemID: 0, TS: 200, Price: 1, Qty: 1},
		{ExternalID: "T3", ItemID: 0, TS: 300, Price: 1, Qty: 1},
	}); err != nil {
		t.Fatal(err)
	}

	copied, err := s.MigrateBefore(250, 2)
	if err != nil {
		t.Fatalf("MigrateBefore: %v", err)
	}
	if copied != 2 {
		t.Errorf("copied = %d, want 2", copied)
	}
	// Re-running skips records the archive already holds.
	copied, err = s.MigrateBefore(250, 2)
	if err != nil {
		t.Fatalf("MigrateBefore rerun: %v", err)
	}
	if copied != 0 {
		t.Errorf("rerun copied = %d, want 0", copied)
	}

	deleted, err := s.DeleteBefore(250)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("DeleteBefore = %d, want 2", deleted)
	}
	liveN, _ := s.LiveCount()
	archiveN, _ := s.ArchiveCount()
	if liveN != 1 || archiveN != 2 {
		t.Errorf("shards = %d/%d, want 1/2", liveN, archiveN)
	}
	if total, _ := s.Count(AllTrades()); total != 3 {
		t.Errorf("logical total = %d, want 3", total)
	}

	deleted, err = s.DeleteAfter(250)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("DeleteAfter = %d, want 1", deleted)
	}
}
