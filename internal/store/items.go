package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// HistoryPoint is one valuation observation. T is Unix milliseconds.
type HistoryPoint struct {
	T int64 `json:"t"`
	V int64 `json:"v"`
}

// Item is one tradeable entity with its embedded value history.
//
// History is append-only and ordered by discovery, not by timestamp: the
// syncer scans backward in time, so callers must sort by T before use.
type Item struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	IconURL string         `json:"url,omitempty"`
	History []HistoryPoint `json:"history"`
}

// HasTimestamp reports whether the history already holds an entry at exactly
// t. The syncer uses this as its caught-up stop signal.
func (it *Item) HasTimestamp(t int64) bool {
	for _, p := range it.History {
		if p.T == t {
			return true
		}
	}
	return false
}

// GetItem returns the item with the given canonical name, or nil.
func (s *Store) GetItem(name string) (*Item, error) {
	row := s.live.QueryRow("SELECT name, id, COALESCE(url, ''), history FROM items WHERE name = ?", name)
	return scanItem(row)
}

// GetItemByID returns the item with the given ID, or nil.
func (s *Store) GetItemByID(id int64) (*Item, error) {
	row := s.live.QueryRow("SELECT name, id, COALESCE(url, ''), history FROM items WHERE id = ?", id)
	return scanItem(row)
}

func scanItem(row *sql.Row) (*Item, error) {
	var it Item
	var history string
	if err := row.Scan(&it.Name, &it.ID, &it.IconURL, &history); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &it.History); err != nil {
		return nil, fmt.Errorf("item %q history: %w", it.Name, err)
	}
	return &it, nil
}

// ResolveItem maps a corrected name to a stable item ID, creating the item
// with an empty history on first sight. IDs are assigned max(existing)+1,
// starting at 0. Safe only under the syncer's single-writer model.
func (s *Store) ResolveItem(name string) (int64, error) {
	it, err := s.GetItem(name)
	if err != nil {
		return 0, err
	}
	if it != nil {
		return it.ID, nil
	}

	id, err := s.nextItemID()
	if err != nil {
		return 0, err
	}
	_, err = s.live.Exec("INSERT INTO items (name, id, url, history) VALUES (?, ?, NULL, '[]')", name, id)
	if err != nil {
		return 0, fmt.Errorf("create item %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) nextItemID() (int64, error) {
	var maxID sql.NullInt64
	if err := s.live.QueryRow("SELECT MAX(id) FROM items").Scan(&maxID); err != nil {
		return 0, err
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64 + 1, nil
}

// RecordValue appends a history point to an item, creating the item if
// needed, and fills in the icon URL once from the first message that carries
// one. Returns the item's ID.
func (s *Store) RecordValue(name, iconURL string, p HistoryPoint) (int64, error) {
	tx, err := s.live.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	var url sql.NullString
	var historyRaw string
	err = tx.QueryRow("SELECT id, url, history FROM items WHERE name = ?", name).Scan(&id, &url, &historyRaw)
	switch err {
	case nil:
		var history []HistoryPoint
		if err := json.Unmarshal([]byte(historyRaw), &history); err != nil {
			return 0, fmt.Errorf("item %q history: %w", name, err)
		}
		history = append(history, p)
		raw, _ := json.Marshal(history)
		if !url.Valid || url.String == "" {
			if iconURL != "" {
				url = sql.NullString{String: iconURL, Valid: true}
			}
		}
		if _, err := tx.Exec("UPDATE items SET history = ?, url = ? WHERE name = ?", string(raw), url, name); err != nil {
			return 0, err
		}
	case sql.ErrNoRows:
		var maxID sql.NullInt64
		if err := tx.QueryRow("SELECT MAX(id) FROM items").Scan(&maxID); err != nil {
			return 0, err
		}
		if maxID.Valid {
			id = maxID.Int64 + 1
		}
		raw, _ := json.Marshal([]HistoryPoint{p})
		var urlVal interface{}
		if iconURL != "" {
			urlVal = iconURL
		}
		if _, err := tx.Exec("INSERT INTO items (name, id, url, history) VALUES (?, ?, ?, ?)", name, id, urlVal, string(raw)); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListItems returns all items with their full histories, ordered by ID.
func (s *Store) ListItems() ([]Item, error) {
	rows, err := s.live.Query("SELECT name, id, COALESCE(url, ''), history FROM items ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		var history string
		if err := rows.Scan(&it.Name, &it.ID, &it.IconURL, &history); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(history), &it.History); err != nil {
			return nil, fmt.Errorf("item %q history: %w", it.Name, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ItemCount returns the number of known items.
func (s *Store) ItemCount() (int64, error) {
	var n int64
	err := s.live.QueryRow("SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}
