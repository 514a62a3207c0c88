package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/domdiff/dbopen"
	"github.com/hazyhaar/domdiff/vnode"
)

// Schema is the DDL of the SQLite snapshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS component_snapshots (
    component_id TEXT PRIMARY KEY,
    tree         TEXT NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON component_snapshots(updated_at);
`

// SQLite is a Store backed by a database/sql handle. Trees are stored in
// their compact wire form.
type SQLite struct {
	DB  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at path and applies Schema.
func OpenSQLite(path string, opts ...dbopen.Option) (*SQLite, error) {
	all := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an open database that already carries Schema.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db, now: time.Now}
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

func (s *SQLite) Get(ctx context.Context, componentID string) (vnode.Node, error) {
	var data string
	err := s.DB.QueryRowContext(ctx,
		`SELECT tree FROM component_snapshots WHERE component_id = ?`, componentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w", componentID, err)
	}
	tree, err := vnode.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", componentID, err)
	}
	return tree, nil
}

func (s *SQLite) Put(ctx context.Context, componentID string, tree vnode.Node) error {
	data, err := vnode.Marshal(tree)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", componentID, err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO component_snapshots (component_id, tree, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(component_id) DO UPDATE SET tree = excluded.tree, updated_at = excluded.updated_at`,
		componentID, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("snapshot: put %s: %w", componentID, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, componentID string) error {
	if _, err := dbopen.Exec(ctx, s.DB, `DELETE FROM component_snapshots WHERE component_id = ?`, componentID); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", componentID, err)
	}
	return nil
}

// Prune deletes snapshots not replaced within olderThan and returns how
// many went.
func (s *SQLite) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM component_snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prune: %w", err)
	}
	return res.RowsAffected()
}
