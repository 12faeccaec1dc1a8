package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite stores tiles in a single database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens or creates the database at path and applies migrations.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("storage: sqlite store needs a path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("storage: sqlite migrations: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("storage: sqlite migrations: %w", err)
	}
	return nil
}

func (s *SQLite) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	const query = `SELECT data FROM tiles
	WHERE layer = ? AND face = ? AND level = ? AND x = ? AND y = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, t.String(), node.Face(), node.Level(), node.X(), node.Y()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: sqlite read %s %s: %w", t, node, err)
	}
	return data, true, nil
}

func (s *SQLite) WriteTile(ctx context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	const query = `INSERT INTO tiles (layer, face, level, x, y, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(layer, face, level, x, y) DO UPDATE SET data = excluded.data`

	if _, err := s.db.ExecContext(ctx, query, t.String(), node.Face(), node.Level(), node.X(), node.Y(), data); err != nil {
		return fmt.Errorf("storage: sqlite write %s %s: %w", t, node, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
