package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/mbd888/pullpay/internal/record"
)

// SQLiteStore implements TxStore with an embedded SQLite database, for
// single-node deployments that want durability without running Postgres.
// Schema matches the Postgres backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and provisions
// the schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// The sqlite driver serializes writes per connection; a single
	// connection makes transactions serialize instead of erroring
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already-open sqlite database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			address     TEXT PRIMARY KEY,
			kind        INTEGER NOT NULL,
			data        BLOB NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, addr Address) (record.Record, error) {
	return liteGet(ctx, s.db, addr)
}

func (s *SQLiteStore) Create(ctx context.Context, addr Address, rec record.Record) error {
	return liteCreate(ctx, s.db, addr, rec)
}

func (s *SQLiteStore) Put(ctx context.Context, addr Address, rec record.Record) error {
	return litePut(ctx, s.db, addr, rec)
}

func (s *SQLiteStore) Delete(ctx context.Context, addr Address) error {
	return liteDelete(ctx, s.db, addr)
}

// WithinTx runs fn in a database transaction. SQLite transactions are
// serializable by default.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := fn(&liteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

var _ TxStore = (*SQLiteStore)(nil)

type liteTx struct {
	tx *sql.Tx
}

func (t *liteTx) Get(ctx context.Context, addr Address) (record.Record, error) {
	return liteGet(ctx, t.tx, addr)
}

func (t *liteTx) Create(ctx context.Context, addr Address, rec record.Record) error {
	return liteCreate(ctx, t.tx, addr, rec)
}

func (t *liteTx) Put(ctx context.Context, addr Address, rec record.Record) error {
	return litePut(ctx, t.tx, addr, rec)
}

func (t *liteTx) Delete(ctx context.Context, addr Address) error {
	return liteDelete(ctx, t.tx, addr)
}

func liteGet(ctx context.Context, q querier, addr Address) (record.Record, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM records WHERE address = ?`, addr.String(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record: %w", err)
	}
	return record.Unmarshal(data)
}

func liteCreate(ctx context.Context, q querier, addr Address, rec record.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO records (address, kind, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address) DO NOTHING`,
		addr.String(), int(rec.Kind()), data, time.Now().UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: create record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: create record: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func litePut(ctx context.Context, q querier, addr Address, rec record.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (address, kind, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		addr.String(), int(rec.Kind()), data, time.Now().UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: put record: %w", err)
	}
	return nil
}

func liteDelete(ctx context.Context, q querier, addr Address) error {
	res, err := q.ExecContext(ctx, `DELETE FROM records WHERE address = ?`, addr.String())
	if err != nil {
		return fmt.Errorf("store: delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
