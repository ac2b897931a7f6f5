// Package ingest drives the incremental sync of bot messages into the store.
//
// Both feeds walk the channel history backward (newest first) and stop as
// soon as they touch data that was ingested by a previous run, which keeps
// repeated runs idempotent. The walk is strictly sequential: one page in
// flight, fully processed before the next fetch, because duplicate detection
// depends on reverse-chronological order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dankstats/internal/discord"
	"dankstats/internal/logger"
	"dankstats/internal/parser"
	"dankstats/internal/store"
)

// StopReason describes how a sync run ended.
type StopReason string

const (
	// StopDuplicate: the backward scan reached already-ingested data.
	StopDuplicate StopReason = "duplicate"
	// StopExhausted: the channel history ran out.
	StopExhausted StopReason = "exhausted"
	// StopError: an unrecoverable transport failure after retries.
	StopError StopReason = "error"
)

// Stats summarizes one sync run.
type Stats struct {
	Pages     int
	Processed int
	Inserted  int
	Stop      StopReason
}

// MessageSource fetches pages of channel history, newest first.
type MessageSource interface {
	Messages(ctx context.Context, channelID, before string, limit int) ([]discord.Message, error)
}

// Syncer feeds parsed bot messages into the store.
type Syncer struct {
	source    MessageSource
	store     *store.Store
	parser    *parser.Parser
	botID     string
	pageSize  int
	batchSize int
	throttle  time.Duration
	retry     RetryPolicy

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// Options configures a Syncer. Zero fields take defaults matching the
// upstream rate limits.
type Options struct {
	BotID     string
	PageSize  int
	BatchSize int
	Throttle  time.Duration
	Retry     RetryPolicy
}

// New creates a Syncer.
func New(source MessageSource, st *store.Store, p *parser.Parser, opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 250 * time.Millisecond
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Syncer{
		source:    source,
		store:     st,
		parser:    p,
		botID:     opts.BotID,
		pageSize:  opts.PageSize,
		batchSize: opts.BatchSize,
		throttle:  opts.Throttle,
		retry:     opts.Retry,
		sleep:     time.Sleep,
	}
}

// fetchPage requests one history page, honoring rate-limit waits exactly and
// retrying other transport errors on a bounded fixed-delay schedule.
func (s *Syncer) fetchPage(ctx context.Context, channelID, before string) ([]discord.Message, error) {
	attempts := 0
	for {
		msgs, err := s.source.Messages(ctx, channelID, before, s.pageSize)
		if err == nil {
			return msgs, nil
		}

		var rle *discord.RateLimitError
		if errors.As(err, &rle) {
			// Server-directed wait; does not count against the attempt budget.
			logger.Warn("Sync", fmt.Sprintf("Rate limited, retrying in %s", rle.RetryAfter))
			s.sleep(rle.RetryAfter)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempts++
		if attempts >= s.retry.MaxAttempts {
			return nil, fmt.Errorf("fetch page (after %d attempts): %w", attempts, err)
		}
		logger.Warn("Sync", fmt.Sprintf("Fetch failed (%v), retrying in %s", err, s.retry.Delay))
		s.sleep(s.retry.Delay)
	}
}

// SyncValues ingests the value-update feed: each parseable message appends a
// history point to its item, creating items on first sight. The run stops
// cleanly at the first timestamp the store already holds.
func (s *Syncer) SyncValues(ctx context.Context, channelID string) (Stats, error) {
	var stats Stats
	before := ""

	for {
		msgs, err := s.fetchPage(ctx, channelID, before)
		if err != nil {
			stats.Stop = StopError
			return stats, err
		}
		if len(msgs) == 0 {
			stats.Stop = StopExhausted
			return stats, nil
		}
		stats.Pages++

		for i := range msgs {
			m := &msgs[i]
			if m.Author.ID != s.botID {
				continue
			}
			content, ok := m.Normalize()
			if !ok {
				continue
			}
			vu := s.parser.ValueUpdate(content.Title, content.Body)
			if vu == nil {
				continue
			}
			stats.Processed++

			ts := m.Timestamp.UTC().UnixMilli()
			item, err := s.store.GetItem(vu.Name)
			if err != nil {
				stats.Stop = StopError
				return stats, err
			}
			if item != nil && item.HasTimestamp(ts) {
				// The scan caught up with a previous run; everything older
				// is already present.
				logger.Info("Sync", fmt.Sprintf("Stopping at duplicate timestamp for %q", vu.Name))
				stats.Stop = StopDuplicate
				return stats, nil
			}

			if _, err := s.store.RecordValue(vu.Name, vu.IconURL, store.HistoryPoint{T: ts, V: vu.Value}); err != nil {
				stats.Stop = StopError
				return stats, fmt.Errorf("record %q: %w", vu.Name, err)
			}
			stats.Inserted++
		}

		before = msgs[len(msgs)-1].ID
		s.sleep(s.throttle)
	}
}

// SyncTrades ingests the trade-offer feed. Parsed offers are buffered and
// flushed in unordered batches; an external-ID collision during a flush ends
// the run after reporting the batch's partial success, since it means the
// cursor has re-entered already-synced territory.
func (s *Syncer) SyncTrades(ctx context.Context, channelID string) (Stats, error) {
	var stats Stats
	before := ""
	buffer := make([]store.Trade, 0, s.batchSize)

	flush := func() (StopReason, error) {
		if len(buffer) == 0 {
			return "", nil
		}
		n, err := s.store.InsertMany(buffer)
		stats.Inserted += n
		buffer = buffer[:0]
		if err != nil {
			var dup *store.DuplicateError
			if errors.As(err, &dup) {
				logger.Warn("Sync", fmt.Sprintf("Inserted %d before duplicate %s, stopping", n, dup.ExternalID))
				return StopDuplicate, nil
			}
			return StopError, err
		}
		logger.Info("Sync", fmt.Sprintf("Inserted %d trades", n))
		return "", nil
	}

	for {
		msgs, err := s.fetchPage(ctx, channelID, before)
		if err != nil {
			stats.Stop = StopError
			return stats, err
		}
		if len(msgs) == 0 {
			if reason, err := flush(); err != nil {
				stats.Stop = StopError
				return stats, err
			} else if reason == StopDuplicate {
				stats.Stop = StopDuplicate
				return stats, nil
			}
			stats.Stop = StopExhausted
			return stats, nil
		}
		stats.Pages++

		for i := range msgs {
			m := &msgs[i]
			before = m.ID
			if m.Author.ID != s.botID {
				continue
			}
			if len(m.Embeds) == 0 {
				continue
			}
			e := &m.Embeds[0]
			var footer string
			if e.Footer != nil {
				footer = e.Footer.Text
			}
			offer := s.parser.TradeOffer(e.Title, e.Description, footer)
			if offer == nil {
				continue
			}
			stats.Processed++

			item, err := s.store.GetItem(offer.Item)
			if err != nil {
				stats.Stop = StopError
				return stats, err
			}
			if item == nil {
				logger.Warn("Sync", fmt.Sprintf("Unknown item %q, skipping trade %s", offer.Item, offer.ExternalID))
				continue
			}

			buffer = append(buffer, store.Trade{
				ExternalID: offer.ExternalID,
				ItemID:     item.ID,
				TS:         m.Timestamp.UTC().UnixMilli(),
				Price:      offer.PricePerUnit,
				Qty:        offer.Quantity,
				IsSell:     offer.IsSell,
			})
			if len(buffer) >= s.batchSize {
				reason, err := flush()
				if err != nil {
					stats.Stop = StopError
					return stats, err
				}
				if reason == StopDuplicate {
					stats.Stop = StopDuplicate
					return stats, nil
				}
			}
		}

		s.sleep(s.throttle)
	}
}
