package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/store"
)

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// InsertTx writes a transaction record. The first insert wins: a
// conflicting tx id leaves first_seen_at untouched, which is what makes
// the stored value a sound fairness anchor under re-delivery.
func (r *TransactionRepo) InsertTx(ctx context.Context, tx *sql.Tx, t *model.TransactionRecord) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (tx_id, block_hash, sender, payload, first_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_id) DO NOTHING
	`, t.TxID, t.BlockHash, t.Sender, t.Payload, t.FirstSeenAt)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert transaction rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *TransactionRepo) Get(ctx context.Context, txID string) (*model.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var t model.TransactionRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT tx_id, block_hash, sender, payload, first_seen_at
		FROM transactions WHERE tx_id = $1
	`, txID).Scan(&t.TxID, &t.BlockHash, &t.Sender, &t.Payload, &t.FirstSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &t, nil
}

func (r *TransactionRepo) ListFirstSeen(ctx context.Context) ([]store.FirstSeenEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_id, first_seen_at
		FROM transactions
		ORDER BY first_seen_at, tx_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list first seen: %w", err)
	}
	defer rows.Close()

	var entries []store.FirstSeenEntry
	for rows.Next() {
		var e store.FirstSeenEntry
		if err := rows.Scan(&e.TxID, &e.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan first seen: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListFinalizedTxIDs returns the deterministic accumulator leaf
// sequence: transactions in blocks at or below hardHeight, ordered by
// first_seen_at with tx_id as tiebreak.
func (r *TransactionRepo) ListFinalizedTxIDs(ctx context.Context, hardHeight int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.tx_id
		FROM transactions t
		JOIN blocks b ON b.hash = t.block_hash
		WHERE b.height <= $1
		ORDER BY t.first_seen_at, t.tx_id
	`, hardHeight)
	if err != nil {
		return nil, fmt.Errorf("list finalized tx ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan finalized tx id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *TransactionRepo) ListPendingLeaves(ctx context.Context, hardHeight int64) ([]store.PendingLeaf, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.tx_id, b.height, t.first_seen_at
		FROM transactions t
		JOIN blocks b ON b.hash = t.block_hash
		WHERE b.height > $1
		ORDER BY t.first_seen_at, t.tx_id
	`, hardHeight)
	if err != nil {
		return nil, fmt.Errorf("list pending leaves: %w", err)
	}
	defer rows.Close()

	var leaves []store.PendingLeaf
	for rows.Next() {
		var l store.PendingLeaf
		if err := rows.Scan(&l.TxID, &l.Height, &l.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan pending leaf: %w", err)
		}
		leaves = append(leaves, l)
	}
	return leaves, rows.Err()
}

func (r *TransactionRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}
