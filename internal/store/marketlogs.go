package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Trade is one observed buy/sell offer. TS is Unix milliseconds.
type Trade struct {
	ExternalID string
	ItemID     int64
	TS         int64
	Price      int64
	Qty        int64
	IsSell     bool
}

// IsPrivate reports the external-ID prefix convention for private trades.
func (t *Trade) IsPrivate() bool {
	return strings.HasPrefix(t.ExternalID, "PV")
}

// DuplicateError reports a uniqueness violation on an external trade ID.
type DuplicateError struct {
	ExternalID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate trade id %s", e.ExternalID)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// TradeFilter restricts Count/Find. Zero value matches everything.
type TradeFilter struct {
	ItemID         int64  // item ID to match; negative matches all
	Side           string // "buy", "sell", or "" for both
	ExcludePrivate bool   // drop PV-prefixed external IDs
	StartMS        int64  // inclusive lower bound, 0 = unbounded
	EndMS          int64  // inclusive upper bound, 0 = unbounded
}

// AllTrades is a filter matching every trade.
func AllTrades() TradeFilter {
	return TradeFilter{ItemID: -1}
}

func (f TradeFilter) where() (string, []interface{}) {
	clauses := []string{"1=1"}
	var args []interface{}
	if f.ItemID >= 0 {
		clauses = append(clauses, "item_id = ?")
		args = append(args, f.ItemID)
	}
	switch f.Side {
	case "sell":
		clauses = append(clauses, "is_sell = 1")
	case "buy":
		clauses = append(clauses, "is_sell = 0")
	}
	if f.ExcludePrivate {
		clauses = append(clauses, "ext_id NOT LIKE 'PV%'")
	}
	if f.StartMS > 0 {
		clauses = append(clauses, "ts >= ?")
		args = append(args, f.StartMS)
	}
	if f.EndMS > 0 {
		clauses = append(clauses, "ts <= ?")
		args = append(args, f.EndMS)
	}
	return strings.Join(clauses, " AND "), args
}

// InsertMany performs an unordered bulk insert into the live shard. Every
// record is attempted; the returned count is the number actually inserted.
// When one or more records collide on external ID the first collision is
// returned as a *DuplicateError alongside the partial count.
func (s *Store) InsertMany(trades []Trade) (int, error) {
	return insertManyInto(s.live, trades)
}

// Count returns the number of matching trades across both shards.
// Shard counts run in parallel and are summed.
func (s *Store) Count(f TradeFilter) (int64, error) {
	where, args := f.where()
	query := "SELECT COUNT(*) FROM marketlogs WHERE " + where

	var liveN, archiveN int64
	var g errgroup.Group
	g.Go(func() error {
		return s.live.QueryRow(query, args...).Scan(&liveN)
	})
	g.Go(func() error {
		return s.archive.QueryRow(query, args...).Scan(&archiveN)
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return liveN + archiveN, nil
}

func shardCount(db *sql.DB, f TradeFilter) (int64, error) {
	where, args := f.where()
	var n int64
	err := db.QueryRow("SELECT COUNT(*) FROM marketlogs WHERE "+where, args...).Scan(&n)
	return n, err
}

// Find returns one page of matching trades ordered by timestamp.
//
// Contract: the shard at the head of the sort order (archive when ascending,
// live when descending) is queried first with the full skip and limit. If it
// returns fewer than limit rows the other shard is queried for the remainder,
// with any skip the first shard could not consume; results are merged,
// re-sorted, and truncated. Pages are exact across the shard boundary.
func (s *Store) Find(f TradeFilter, desc bool, skip, limit int) ([]Trade, error) {
	if limit <= 0 {
		return []Trade{}, nil
	}
	if skip < 0 {
		skip = 0
	}

	first, second := s.archive, s.live
	if desc {
		first, second = s.live, s.archive
	}

	trades, err := findShard(first, f, desc, skip, limit)
	if err != nil {
		return nil, err
	}
	if len(trades) < limit {
		// An empty page with a nonzero skip means the offset overshot the
		// first shard; carry the remainder into the second.
		skipLeft := 0
		if len(trades) == 0 && skip > 0 {
			n, err := shardCount(first, f)
			if err != nil {
				return nil, err
			}
			if skipLeft = skip - int(n); skipLeft < 0 {
				skipLeft = 0
			}
		}
		more, err := findShard(second, f, desc, skipLeft, limit-len(trades))
		if err != nil {
			return nil, err
		}
		trades = append(trades, more...)
		sort.Slice(trades, func(i, j int) bool {
			if desc {
				return trades[i].TS > trades[j].TS
			}
			return trades[i].TS < trades[j].TS
		})
		if len(trades) > limit {
			trades = trades[:limit]
		}
	}
	return trades, nil
}

func findShard(db *sql.DB, f TradeFilter, desc bool, skip, limit int) ([]Trade, error) {
	where, args := f.where()
	order := "ASC"
	if desc {
		order = "DESC"
	}
	query := fmt.Sprintf(
		"SELECT ext_id, item_id, ts, price, qty, is_sell FROM marketlogs WHERE %s ORDER BY ts %s LIMIT ? OFFSET ?",
		where, order,
	)
	args = append(args, limit, skip)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []Trade{}
	for rows.Next() {
		var t Trade
		var isSell int
		if err := rows.Scan(&t.ExternalID, &t.ItemID, &t.TS, &t.Price, &t.Qty, &isSell); err != nil {
			return nil, err
		}
		t.IsSell = isSell != 0
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// LiveCount and ArchiveCount report per-shard totals, for status reporting.
func (s *Store) LiveCount() (int64, error) {
	var n int64
	err := s.live.QueryRow("SELECT COUNT(*) FROM marketlogs").Scan(&n)
	return n, err
}

func (s *Store) ArchiveCount() (int64, error) {
	var n int64
	err := s.archive.QueryRow("SELECT COUNT(*) FROM marketlogs").Scan(&n)
	return n, err
}

// MigrateBefore copies trades older than cutoff from the live shard into the
// archive shard in fixed-size batches, skipping records the archive already
// holds. Returns the number of records copied. The live copies are left in
// place; use DeleteBefore afterwards for a full move.
func (s *Store) MigrateBefore(cutoffMS int64, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	rows, err := s.live.Query(
		"SELECT ext_id, item_id, ts, price, qty, is_sell FROM marketlogs WHERE ts < ? ORDER BY ts",
		cutoffMS,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var copied int64
	batch := make([]Trade, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := insertManyInto(s.archive, batch)
		copied += int64(n)
		batch = batch[:0]
		// Records the archive already holds are expected on re-runs.
		var dup *DuplicateError
		if err != nil && !errors.As(err, &dup) {
			return err
		}
		return nil
	}

	for rows.Next() {
		var t Trade
		var isSell int
		if err := rows.Scan(&t.ExternalID, &t.ItemID, &t.TS, &t.Price, &t.Qty, &isSell); err != nil {
			return copied, err
		}
		t.IsSell = isSell != 0
		batch = append(batch, t)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return copied, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return copied, err
	}
	if err := flush(); err != nil {
		return copied, err
	}
	return copied, nil
}

// DeleteBefore removes trades older than cutoff from the live shard,
// typically after MigrateBefore has copied them out.
func (s *Store) DeleteBefore(cutoffMS int64) (int64, error) {
	res, err := s.live.Exec("DELETE FROM marketlogs WHERE ts < ?", cutoffMS)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAfter removes trades newer than cutoff from the live shard
// (administrative range deletion, e.g. rolling back a bad sync run).
func (s *Store) DeleteAfter(cutoffMS int64) (int64, error) {
	res, err := s.live.Exec("DELETE FROM marketlogs WHERE ts > ?", cutoffMS)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func insertManyInto(db *sql.DB, trades []Trade) (int, error) {
	inserted := 0
	var dup *DuplicateError
	for i := range trades {
		t := &trades[i]
		_, err := db.Exec(
			"INSERT INTO marketlogs (ext_id, item_id, ts, price, qty, is_sell) VALUES (?, ?, ?, ?, ?, ?)",
			t.ExternalID, t.ItemID, t.TS, t.Price, t.Qty, boolToInt(t.IsSell),
		)
		if err != nil {
			if isUniqueViolation(err) {
				if dup == nil {
					dup = &DuplicateError{ExternalID: t.ExternalID}
				}
				continue
			}
			return inserted, err
		}
		inserted++
	}
	if dup != nil {
		return inserted, dup
	}
	return inserted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
