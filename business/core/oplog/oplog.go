// Package oplog keeps the decrypted operations of owned clouds in the node's
// database. It is the replay store of the node service.
package oplog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/replay"
)

//go:embed schema.sql
var schemaSQL string

// MaxOperations is the most operations a query returns.
const MaxOperations = 512

// ErrOutOfOrder is returned when an operation does not follow the last one
// applied for its cloud.
var ErrOutOfOrder = errors.New("operation out of order")

// Operation is one decrypted payload as it was applied.
type Operation struct {
	CloudID   identity.CloudID `json:"cloud_id"`
	Index     uint64           `json:"index"`
	Payload   []byte           `json:"payload"`
	AppliedAt time.Time        `json:"applied_at"`
}

// Log manages the operations tables.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// New constructs the log over the database and applies its schema.
func New(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Log{db: db, now: time.Now}, nil
}

// Sink returns the replay store for the specified cloud.
func (l *Log) Sink(cloudID identity.CloudID) replay.Store {
	return &Sink{log: l, cloudID: cloudID}
}

// Next returns the next index to apply for the cloud.
func (l *Log) Next(ctx context.Context, cloudID identity.CloudID) (uint64, error) {
	return next(ctx, l.db, cloudID)
}

// ApplyAt stores the operation and moves the cloud's next index in one
// transaction. An index already applied is skipped.
func (l *Log) ApplyAt(ctx context.Context, cloudID identity.CloudID, payload []byte, index uint64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := next(ctx, tx, cloudID)
	if err != nil {
		return err
	}

	switch {
	case index < n:
		return nil
	case index > n:
		return fmt.Errorf("cloud %s: index %d, next %d: %w", cloudID.Short(), index, n, ErrOutOfOrder)
	}

	const insOp = `INSERT INTO operations (cloud_id, idx, payload, applied_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insOp, cloudID[:], int64(index), payload, l.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("storing operation[%d]: %w", index, err)
	}

	const upNext = `INSERT INTO replay_next (cloud_id, next) VALUES (?, ?)
	ON CONFLICT (cloud_id) DO UPDATE SET next = excluded.next`
	if _, err := tx.ExecContext(ctx, upNext, cloudID[:], int64(index+1)); err != nil {
		return fmt.Errorf("moving next: %w", err)
	}

	return tx.Commit()
}

// Operations returns up to limit operations of the cloud starting at from.
func (l *Log) Operations(ctx context.Context, cloudID identity.CloudID, from uint64, limit int) ([]Operation, error) {
	if limit <= 0 || limit > MaxOperations {
		limit = MaxOperations
	}

	const q = `SELECT idx, payload, applied_at FROM operations
	WHERE cloud_id = ? AND idx >= ? ORDER BY idx LIMIT ?`

	rows, err := l.db.QueryContext(ctx, q, cloudID[:], int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var idx int64
		var at string
		op := Operation{CloudID: cloudID}

		if err := rows.Scan(&idx, &op.Payload, &at); err != nil {
			return nil, err
		}

		op.Index = uint64(idx)
		if op.AppliedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("operation[%d]: applied at: %w", idx, err)
		}

		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// =============================================================================

// Sink is the replay store of one cloud. This implements the
// replay.AtomicStore interface.
type Sink struct {
	log     *Log
	cloudID identity.CloudID
}

// Apply stores the operation for the sink's cloud.
func (s *Sink) Apply(ctx context.Context, payload []byte, index uint64) error {
	return s.log.ApplyAt(ctx, s.cloudID, payload, index)
}

// ApplyAt implements the replay.AtomicStore interface.
func (s *Sink) ApplyAt(ctx context.Context, cloudID identity.CloudID, payload []byte, index uint64) error {
	return s.log.ApplyAt(ctx, cloudID, payload, index)
}

// Next implements the replay.AtomicStore interface.
func (s *Sink) Next(ctx context.Context, cloudID identity.CloudID) (uint64, error) {
	return s.log.Next(ctx, cloudID)
}

// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func next(ctx context.Context, q querier, cloudID identity.CloudID) (uint64, error) {
	var n int64

	err := q.QueryRowContext(ctx, "SELECT next FROM replay_next WHERE cloud_id = ?", cloudID[:]).Scan(&n)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, err
	}

	return uint64(n), nil
}
