// Package store persists authorization records behind a key-value
// interface keyed by derived addresses.
//
// Three backends: in-memory (tests, demo mode), PostgreSQL (production),
// and SQLite (single-node embedded). All three persist the record codec's
// tagged binary form and validate the tag on read.
//
// WithinTx is the unit-of-work the debit path runs under: every read and
// write inside the callback commits atomically or not at all, and two
// transactions touching the same record are serialized by the backend.
package store

import (
	"context"
	"errors"

	"github.com/mbd888/pullpay/internal/record"
)

var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadyExists = errors.New("store: record already exists")
	ErrBadAddress    = errors.New("store: address must be 64 hex characters")
)

// Store is the record-store interface the authorization core writes through.
type Store interface {
	// Get reads and decodes the record at addr. ErrNotFound if absent.
	Get(ctx context.Context, addr Address) (record.Record, error)

	// Create writes a new record. ErrAlreadyExists if addr is occupied.
	Create(ctx context.Context, addr Address, rec record.Record) error

	// Put creates or overwrites the record at addr.
	Put(ctx context.Context, addr Address, rec record.Record) error

	// Delete removes the record at addr, reclaiming its storage.
	// ErrNotFound if absent.
	Delete(ctx context.Context, addr Address) error
}

// TxStore is a Store that can run a callback as one atomic unit.
type TxStore interface {
	Store

	// WithinTx runs fn against a transactional view. If fn returns an
	// error the view's writes are discarded; otherwise they commit as
	// one unit.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
