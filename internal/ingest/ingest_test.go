package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dankstats/internal/config"
	"dankstats/internal/discord"
	"dankstats/internal/parser"
	"dankstats/internal/store"
)

const testBotID = "270904126974590976"

// fakeSource replays a scripted sequence of history responses.
type fakeSource struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	msgs []discord.Message
	err  error
}

func (f *fakeSource) Messages(_ context.Context, _, _ string, _ int) ([]discord.Message, error) {
	if f.calls >= len(f.responses) {
		return nil, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r.msgs, r.err
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "live.db"), filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSyncer(src MessageSource, st *store.Store) *Syncer {
	p := parser.New(parser.Corrections(config.DefaultCorrections()))
	s := New(src, st, p, Options{BotID: testBotID, BatchSize: 2})
	s.sleep = func(time.Duration) {}
	return s
}

func valueMsg(id string, ts time.Time, name, value string) discord.Message {
	return discord.Message{
		ID:        id,
		Timestamp: ts,
		Author:    discord.Author{ID: testBotID},
		Embeds: []discord.Embed{{
			Title:       name,
			Description: value,
		}},
	}
}

func tradeMsg(id string, ts time.Time, title, desc, extID string) discord.Message {
	return discord.Message{
		ID:        id,
		Timestamp: ts,
		Author:    discord.Author{ID: testBotID},
		Embeds: []discord.Embed{{
			Title:       title,
			Description: desc,
			Footer:      &discord.EmbedFooter{Text: "ID: " + extID},
		}},
	}
}

func TestSyncValues_IngestsAndAssignsIDs(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{responses: []fakeResponse{
		{msgs: []discord.Message{
			valueMsg("3", base.Add(2*time.Minute), "**Pepe Trophy**", "⏣ 100 → ⏣ 250"),
			valueMsg("2", base.Add(time.Minute), "<:oe:55> **Odd Eye**", "⏣ 900,000"),
			{ID: "skip", Timestamp: base, Author: discord.Author{ID: "someone-else"}},
		}},
		{msgs: []discord.Message{
			valueMsg("1", base, "**Pepe Trophy**", "⏣ 100"),
		}},
	}}
	st := openTestStore(t)

	stats, err := newTestSyncer(src, st).SyncValues(context.Background(), "chan")
	if err != nil {
		t.Fatalf("SyncValues: %v", err)
	}
	if stats.Stop != StopExhausted {
		t.Errorf("Stop = %q, want exhausted", stats.Stop)
	}
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", stats.Inserted)
	}

	pepe, err := st.GetItem("pepe trophy")
	if err != nil || pepe == nil {
		t.Fatalf("pepe trophy missing: %v", err)
	}
	if pepe.ID != 0 {
		t.Errorf("first seen item ID = %d, want 0", pepe.ID)
	}
	if len(pepe.History) != 2 {
		t.Fatalf("pepe history len = %d", len(pepe.History))
	}
	if pepe.History[0].V != 250 {
		t.Errorf("latest value = %d, want last marker 250", pepe.History[0].V)
	}

	odd, _ := st.GetItem("odd eye")
	if odd == nil || odd.ID != 1 {
		t.Fatalf("odd eye = %+v, want ID 1", odd)
	}
	if odd.IconURL == "" {
		t.Error("odd eye icon URL should come from the emoji token")
	}
}

func TestSyncValues_SecondRunStopsOnDuplicate(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	page := []discord.Message{
		valueMsg("2", base.Add(time.Minute), "**Trout**", "⏣ 500"),
		valueMsg("1", base, "**Trout**", "⏣ 400"),
	}
	st := openTestStore(t)

	src := &fakeSource{responses: []fakeResponse{{msgs: page}}}
	if _, err := newTestSyncer(src, st).SyncValues(context.Background(), "chan"); err != nil {
		t.Fatal(err)
	}

	// Unchanged upstream: the rerun must stop on the very first message.
	src = &fakeSource{responses: []fakeResponse{{msgs: page}}}
	stats, err := newTestSyncer(src, st).SyncValues(context.Background(), "chan")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stop != StopDuplicate {
		t.Errorf("Stop = %q, want duplicate", stats.Stop)
	}
	if stats.Inserted != 0 {
		t.Errorf("rerun Inserted = %d, want 0", stats.Inserted)
	}
	if src.calls != 1 {
		t.Errorf("rerun fetched %d pages, want 1", src.calls)
	}

	it, _ := st.GetItem("trout")
	if len(it.History) != 2 {
		t.Errorf("history len = %d after rerun, want 2 (no duplicates)", len(it.History))
	}
}

func tradePages(base time.Time) []fakeResponse {
	return []fakeResponse{
		{msgs: []discord.Message{
			tradeMsg("9", base.Add(3*time.Minute), "Sell Offer Accepted", "2 x **Trout** *for* ⏣ 100", "TX3"),
			tradeMsg("8", base.Add(2*time.Minute), "Buy Offer Accepted", "⏣ 1,000 *for* 50 x **Trout**", "TX2"),
		}},
		{msgs: []discord.Message{
			tradeMsg("7", base.Add(time.Minute), "Sell Offer Accepted", "1 x **Trout** *for* ⏣ 60", "PVTX1"),
			tradeMsg("6", base, "Sell Offer Accepted", "1 x corgi pet *for* ⏣ 60", "TX0"),
		}},
	}
}

func TestSyncTrades_EndToEndIdempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := openTestStore(t)
	if _, err := st.ResolveItem("trout"); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{responses: tradePages(base)}
	stats, err := newTestSyncer(src, st).SyncTrades(context.Background(), "chan")
	if err != nil {
		t.Fatalf("SyncTrades: %v", err)
	}
	if stats.Stop != StopExhausted {
		t.Errorf("Stop = %q, want exhausted", stats.Stop)
	}
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3 (pet trade skipped)", stats.Inserted)
	}

	trades, err := st.Find(store.AllTrades(), false, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("stored %d trades", len(trades))
	}
	if trades[0].ExternalID != "PVTX1" || !trades[0].IsPrivate() {
		t.Errorf("oldest trade = %+v", trades[0])
	}
	if trades[1].ExternalID != "TX2" || trades[1].Price != 20 || trades[1].Qty != 50 || trades[1].IsSell {
		t.Errorf("buy trade = %+v", trades[1])
	}

	// Second run over the same history: duplicate on the first flush.
	src = &fakeSource{responses: tradePages(base)}
	stats, err = newTestSyncer(src, st).SyncTrades(context.Background(), "chan")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stop != StopDuplicate {
		t.Errorf("rerun Stop = %q, want duplicate", stats.Stop)
	}
	if stats.Inserted != 0 {
		t.Errorf("rerun Inserted = %d, want 0", stats.Inserted)
	}
	if total, _ := st.Count(store.AllTrades()); total != 3 {
		t.Errorf("total after rerun = %d, want 3", total)
	}
}

func TestSyncTrades_UnknownItemSkipped(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := openTestStore(t)

	src := &fakeSource{responses: []fakeResponse{{msgs: []discord.Message{
		tradeMsg("1", base, "Sell Offer Accepted", "1 x **Nonexistent Thing** *for* ⏣ 10", "TX9"),
	}}}}
	stats, err := newTestSyncer(src, st).SyncTrades(context.Background(), "chan")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 0 {
		t.Errorf("Inserted = %d, want 0 for unresolved item", stats.Inserted)
	}
}

func TestFetchPage_RateLimitHonorsRetryAfter(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{responses: []fakeResponse{
		{err: &discord.RateLimitError{RetryAfter: 1500 * time.Millisecond}},
		{msgs: []discord.Message{valueMsg("1", base, "**Trout**", "⏣ 10")}},
	}}
	st := openTestStore(t)

	var slept []time.Duration
	s := newTestSyncer(src, st)
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	stats, err := s.SyncValues(context.Background(), "chan")
	if err != nil {
		t.Fatalf("SyncValues: %v", err)
	}
	if stats.Inserted != 1 {
		t.Errorf("Inserted = %d", stats.Inserted)
	}
	if len(slept) == 0 || slept[0] != 1500*time.Millisecond {
		t.Errorf("slept = %v, first wait must equal retry-after", slept)
	}
}

func TestFetchPage_BoundedRetries(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{err: fmt.Errorf("should never get here")},
	}}
	st := openTestStore(t)

	s := newTestSyncer(src, st)
	s.retry = RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	s.sleep = func(time.Duration) {}

	stats, err := s.SyncValues(context.Background(), "chan")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if stats.Stop != StopError {
		t.Errorf("Stop = %q, want error", stats.Stop)
	}
	if src.calls != 3 {
		t.Errorf("attempts = %d, want 3", src.calls)
	}
}
