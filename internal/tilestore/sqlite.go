package tilestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"tilestream/internal/common/fsutil"
	"tilestream/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const sqliteFile = "tiles.db"

// SQLite keeps a whole tile pyramid library in one database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) <dir>/tiles.db.
func NewSQLite(dir string) (*SQLite, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite store: empty directory")
	}
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dir, sqliteFile)

	// WAL lets tile reads proceed while an ingestion transaction is open.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Commit(ctx context.Context, desc types.ImageDescriptor, tiles []EncodedTile) error {
	if err := validateCommit(desc, tiles); err != nil {
		return err
	}
	b, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE image_id = ?`, desc.ImageID).Scan(&n); err != nil {
		return fmt.Errorf("checking image: %w", err)
	}
	if n > 0 {
		return ErrExists
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tiles (image_id, level, x, y, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, t := range tiles {
		if _, err := stmt.ExecContext(ctx, t.ID.ImageID, t.ID.Level, t.ID.X, t.ID.Y, t.Data); err != nil {
			return fmt.Errorf("inserting tile %s: %w", t.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO images (image_id, descriptor, committed_at) VALUES (?, ?, ?)`,
		desc.ImageID, string(b), time.Now().Unix()); err != nil {
		return fmt.Errorf("inserting descriptor: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Descriptor(ctx context.Context, imageID string) (types.ImageDescriptor, error) {
	var d types.ImageDescriptor
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT descriptor FROM images WHERE image_id = ?`, imageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("query descriptor: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("descriptor %s: %w", imageID, err)
	}
	return d, nil
}

func (s *SQLite) Tile(ctx context.Context, id types.TileID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM tiles WHERE image_id = ? AND level = ? AND x = ? AND y = ?`,
		id.ImageID, id.Level, id.X, id.Y).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tile: %w", err)
	}
	return data, nil
}

func (s *SQLite) List(ctx context.Context) ([]types.ImageDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT descriptor FROM images ORDER BY image_id`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()
	var out []types.ImageDescriptor
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d types.ImageDescriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
