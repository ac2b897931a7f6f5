package store

import (
	"database/sql"
	"fmt"

	"dankstats/internal/logger"
	_ "modernc.org/sqlite"
)

// Store wraps the two trade-log shards and the items collection.
//
// Trade records are partitioned across two physical databases by a fixed
// historical cutoff: the live shard holds recent records and receives all
// writes from the syncer, the archive shard holds records migrated out of the
// live shard. Queries treat the pair as one logical ordered set. Items live
// in the live database only.
type Store struct {
	live    *sql.DB
	archive *sql.DB
}

// Open opens (or creates) both shard databases and runs migrations.
func Open(livePath, archivePath string) (*Store, error) {
	live, err := openDB(livePath)
	if err != nil {
		return nil, fmt.Errorf("open live shard: %w", err)
	}
	archive, err := openDB(archivePath)
	if err != nil {
		live.Close()
		return nil, fmt.Errorf("open archive shard: %w", err)
	}

	s := &Store{live: live, archive: archive}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened shards %s, %s", livePath, archivePath))
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes both shard connections.
func (s *Store) Close() error {
	err1 := s.live.Close()
	err2 := s.archive.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) migrate() error {
	if err := migrateShard(s.live, true); err != nil {
		return fmt.Errorf("live shard: %w", err)
	}
	if err := migrateShard(s.archive, false); err != nil {
		return fmt.Errorf("archive shard: %w", err)
	}
	return nil
}

func migrateShard(db *sql.DB, withItems bool) error {
	version := 0
	db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS marketlogs (
				ext_id  TEXT PRIMARY KEY,
				item_id INTEGER NOT NULL,
				ts      INTEGER NOT NULL,
				price   INTEGER NOT NULL,
				qty     INTEGER NOT NULL,
				is_sell INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_marketlogs_item_ts ON marketlogs(item_id, ts);
			CREATE INDEX IF NOT EXISTS idx_marketlogs_ts ON marketlogs(ts);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		if withItems {
			_, err = db.Exec(`
				CREATE TABLE IF NOT EXISTS items (
					name    TEXT PRIMARY KEY,
					id      INTEGER NOT NULL UNIQUE,
					url     TEXT,
					history TEXT NOT NULL DEFAULT '[]'
				);
			`)
			if err != nil {
				return fmt.Errorf("migration v1 items: %w", err)
			}
		}
		logger.Info("DB", "Applied migration v1")
	}

	return nil
}
