package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/pullpay/internal/identity"
	"github.com/mbd888/pullpay/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL. Balances are NUMERIC
// with a non-negative check constraint; the Move update is conditional on
// sufficient balance so concurrent debits cannot overdraw.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables. cmd/migrate's goose migrations are the
// production path; this exists so tests and demo mode can self-provision.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			token       VARCHAR(64) NOT NULL,
			account     VARCHAR(64) NOT NULL,
			amount      NUMERIC(20,0) NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (token, account),
			CONSTRAINT chk_amount_nonneg CHECK (amount >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id            VARCHAR(36) PRIMARY KEY,
			token         VARCHAR(64) NOT NULL,
			account       VARCHAR(64) NOT NULL,
			type          VARCHAR(20) NOT NULL,
			amount        NUMERIC(20,0) NOT NULL,
			counterparty  VARCHAR(64),
			reference     VARCHAR(255),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_entries_account ON ledger_entries(token, account);
		CREATE INDEX IF NOT EXISTS idx_entries_created ON ledger_entries(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context, token, account identity.Identity) (uint64, error) {
	var amount uint64
	err := p.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE token = $1 AND account = $2`,
		token.String(), account.String(),
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: get balance: %w", err)
	}
	return amount, nil
}

func (p *PostgresStore) Deposit(ctx context.Context, token, account identity.Identity, amount uint64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (token, account, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token, account) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		token.String(), account.String(), amount,
	)
	if err != nil {
		return fmt.Errorf("ledger: deposit: %w", err)
	}

	if err := insertEntry(ctx, tx, &Entry{
		Token:   token.String(),
		Account: account.String(),
		Type:    "deposit",
		Amount:  amount,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Move(ctx context.Context, token, from, to identity.Identity, amount uint64, reference string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Conditional decrement; zero rows means the balance was too low
	// (or the account unknown, which is the same thing here).
	res, err := tx.ExecContext(ctx, `
		UPDATE balances SET amount = amount - $3, updated_at = NOW()
		WHERE token = $1 AND account = $2 AND amount >= $3`,
		token.String(), from.String(), amount,
	)
	if err != nil {
		return fmt.Errorf("ledger: move: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: move: %w", err)
	}
	if n == 0 {
		return ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (token, account, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token, account) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		token.String(), to.String(), amount,
	)
	if err != nil {
		return fmt.Errorf("ledger: move: %w", err)
	}

	out := &Entry{
		Token: token.String(), Account: from.String(), Type: "debit_out",
		Amount: amount, Counterparty: to.String(), Reference: reference,
	}
	in := &Entry{
		Token: token.String(), Account: to.String(), Type: "debit_in",
		Amount: amount, Counterparty: from.String(), Reference: reference,
	}
	if err := insertEntry(ctx, tx, out); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, in); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) History(ctx context.Context, token, account identity.Identity, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, amount, COALESCE(counterparty, ''), COALESCE(reference, ''), created_at
		FROM ledger_entries
		WHERE token = $1 AND account = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		token.String(), account.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{Token: token.String(), Account: account.String()}
		if err := rows.Scan(&e.ID, &e.Type, &e.Amount, &e.Counterparty, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: history: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, token, account, type, amount, counterparty, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`,
		idgen.WithPrefix("led_"), e.Token, e.Account, e.Type, e.Amount,
		e.Counterparty, e.Reference, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
