package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/pullpay/internal/record"
)

// PostgresStore implements TxStore with PostgreSQL.
//
// Records live in a single table keyed by hex address. The kind column
// duplicates the codec tag so operators can query by record type; the
// codec remains the source of truth on read.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the records table. cmd/migrate's goose migrations are the
// production path; this exists so tests and demo mode can self-provision.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			address     VARCHAR(64) PRIMARY KEY,
			kind        SMALLINT NOT NULL,
			data        BYTEA NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	`)
	return err
}

// querier is the subset of sql.DB / sql.Tx the store uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) Get(ctx context.Context, addr Address) (record.Record, error) {
	return pgGet(ctx, p.db, addr)
}

func (p *PostgresStore) Create(ctx context.Context, addr Address, rec record.Record) error {
	return pgCreate(ctx, p.db, addr, rec)
}

func (p *PostgresStore) Put(ctx context.Context, addr Address, rec record.Record) error {
	return pgPut(ctx, p.db, addr, rec)
}

func (p *PostgresStore) Delete(ctx context.Context, addr Address) error {
	return pgDelete(ctx, p.db, addr)
}

// WithinTx runs fn in a serializable transaction. Serializable isolation is
// what turns the debit's read-modify-write into the required atomic unit:
// two debits against the same delegate record cannot interleave, one of
// them fails and the caller may retry.
func (p *PostgresStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

var _ TxStore = (*PostgresStore)(nil)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Get(ctx context.Context, addr Address) (record.Record, error) {
	return pgGet(ctx, t.tx, addr)
}

func (t *pgTx) Create(ctx context.Context, addr Address, rec record.Record) error {
	return pgCreate(ctx, t.tx, addr, rec)
}

func (t *pgTx) Put(ctx context.Context, addr Address, rec record.Record) error {
	return pgPut(ctx, t.tx, addr, rec)
}

func (t *pgTx) Delete(ctx context.Context, addr Address) error {
	return pgDelete(ctx, t.tx, addr)
}

func pgGet(ctx context.Context, q querier, addr Address) (record.Record, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM records WHERE address = $1`, addr.String(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record: %w", err)
	}
	return record.Unmarshal(data)
}

func pgCreate(ctx context.Context, q querier, addr Address, rec record.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO records (address, kind, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (address) DO NOTHING`,
		addr.String(), int16(rec.Kind()), data, time.Now().UTC(),
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

func pgPut(ctx context.Context, q querier, addr Address, rec record.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (address, kind, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (address) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		addr.String(), int16(rec.Kind()), data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: put record: %w", err)
	}
	return nil
}

func pgDelete(ctx context.Context, q querier, addr Address) error {
	res, err := q.ExecContext(ctx, `DELETE FROM records WHERE address = $1`, addr.String())
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
