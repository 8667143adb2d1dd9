package idmap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/bitharbor/annex/canonical"
	"github.com/bitharbor/annex/rowset"
)

// Compile-time check that SQLiteMap satisfies the Map interface.
var _ Map = (*SQLiteMap)(nil)

// SQLiteMap is a persistent Map backed by a SQLite database.
type SQLiteMap struct {
	db   *sql.DB
	path string
}

// NewSQLiteMap opens (or creates) a map database at the given path.
func NewSQLiteMap(path string) (*SQLiteMap, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("idmap: open database: %w", err)
	}

	m := &SQLiteMap{db: db, path: path}
	if err := m.init(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMap) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := m.db.Exec(p); err != nil {
			return fmt.Errorf("idmap: pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS id_map (
			row_id      INTEGER PRIMARY KEY,
			vector_hash TEXT NOT NULL,
			media_id    TEXT NOT NULL,
			UNIQUE (vector_hash, media_id)
		);
		CREATE INDEX IF NOT EXISTS idx_id_map_media ON id_map (media_id);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("idmap: schema creation failed: %w", err)
	}
	return nil
}

// Insert records a new mapping.
func (m *SQLiteMap) Insert(ctx context.Context, e Entry) error {
	_, err := m.db.ExecContext(ctx,
		"INSERT INTO id_map (row_id, vector_hash, media_id) VALUES (?, ?, ?)",
		int64(e.RowID), e.VectorHash.Hex(), e.MediaID)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		// Disambiguate which constraint fired.
		var exists int
		row := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM id_map WHERE row_id = ?", int64(e.RowID))
		if scanErr := row.Scan(&exists); scanErr == nil && exists > 0 {
			return &ErrDuplicateRow{RowID: e.RowID}
		}
		return &ErrDuplicateMapping{MediaID: e.MediaID, VectorHash: e.VectorHash}
	}
	return fmt.Errorf("idmap: insert: %w", err)
}

// Resolve returns the entries for the given row ids in a single batched
// query. Unmapped row ids are omitted.
func (m *SQLiteMap) Resolve(ctx context.Context, rowIDs []uint32) (map[uint32]Entry, error) {
	out := make(map[uint32]Entry, len(rowIDs))
	if len(rowIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(rowIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = int64(id)
	}

	query := "SELECT row_id, vector_hash, media_id FROM id_map WHERE row_id IN (" + placeholders + ")"
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("idmap: resolve: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowID   int64
			hashHex string
			mediaID string
		)
		if err := rows.Scan(&rowID, &hashHex, &mediaID); err != nil {
			return nil, fmt.Errorf("idmap: resolve scan: %w", err)
		}
		h, err := canonical.ParseHash(hashHex)
		if err != nil {
			return nil, fmt.Errorf("idmap: resolve row %d: %w", rowID, err)
		}
		out[uint32(rowID)] = Entry{RowID: uint32(rowID), VectorHash: h, MediaID: mediaID}
	}
	return out, rows.Err()
}

// Lookup returns the row id for the (media, vector hash) pair.
func (m *SQLiteMap) Lookup(ctx context.Context, mediaID string, h canonical.Hash) (uint32, bool, error) {
	var rowID int64
	err := m.db.QueryRowContext(ctx,
		"SELECT row_id FROM id_map WHERE vector_hash = ? AND media_id = ?",
		h.Hex(), mediaID).Scan(&rowID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("idmap: lookup: %w", err)
	}
	return uint32(rowID), true, nil
}

// DeleteMedia removes every mapping for the media item.
func (m *SQLiteMap) DeleteMedia(ctx context.Context, mediaID string) ([]uint32, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("idmap: delete: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT row_id FROM id_map WHERE media_id = ?", mediaID)
	if err != nil {
		return nil, fmt.Errorf("idmap: delete select: %w", err)
	}
	var freed []uint32
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("idmap: delete scan: %w", err)
		}
		freed = append(freed, uint32(rowID))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM id_map WHERE media_id = ?", mediaID); err != nil {
		return nil, fmt.Errorf("idmap: delete exec: %w", err)
	}
	return freed, tx.Commit()
}

// LiveRows returns the set of all mapped row ids.
func (m *SQLiteMap) LiveRows(ctx context.Context) (*rowset.Set, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT row_id FROM id_map")
	if err != nil {
		return nil, fmt.Errorf("idmap: live rows: %w", err)
	}
	defer rows.Close()

	set := rowset.New()
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			return nil, fmt.Errorf("idmap: live rows scan: %w", err)
		}
		set.Add(uint32(rowID))
	}
	return set, rows.Err()
}

// Close closes the database connection.
func (m *SQLiteMap) Close() error {
	return m.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
