package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

// FirstSeenEntry pairs a transaction id with its fairness anchor.
type FirstSeenEntry struct {
	TxID        string
	FirstSeenAt time.Time
}

// PendingLeaf is a tracked transaction whose block has not reached hard
// finality yet, ordered by ingestion.
type PendingLeaf struct {
	TxID        string
	Height      int64
	FirstSeenAt time.Time
}

// EventWriter persists one observed chain event atomically: the block
// record plus its transactions, all or nothing.
type EventWriter interface {
	// PersistEvent writes block and txs in a single database
	// transaction. blockIsNew is false when the block hash was already
	// recorded, in which case nothing is written. newTxIDs lists the
	// transactions that were genuinely first seen, in insertion order.
	PersistEvent(ctx context.Context, block *model.BlockRecord, txs []*model.TransactionRecord) (blockIsNew bool, newTxIDs []string, err error)
}

// BlockRepository provides access to observed block records.
type BlockRepository interface {
	// InsertTx writes a block record inside tx. Re-inserting an already
	// observed hash is a no-op; the returned bool reports whether the
	// record was actually new.
	InsertTx(ctx context.Context, tx *sql.Tx, b *model.BlockRecord) (bool, error)
	GetByHash(ctx context.Context, hash string) (*model.BlockRecord, error)
	// MaxHeight returns the highest observed height of any kind (the
	// soft height baseline), or 0 when no blocks are stored.
	MaxHeight(ctx context.Context) (int64, error)
	// MaxBurnHeight returns the highest observed burn block height (the
	// hard height baseline), or 0 when no burn blocks are stored.
	MaxBurnHeight(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// TransactionRepository provides access to observed transaction records.
type TransactionRepository interface {
	// InsertTx writes a transaction record inside tx. The first insert
	// wins: a conflicting tx id leaves the stored first_seen_at
	// untouched. The returned bool reports whether the record was new.
	InsertTx(ctx context.Context, tx *sql.Tx, t *model.TransactionRecord) (bool, error)
	Get(ctx context.Context, txID string) (*model.TransactionRecord, error)
	// ListFirstSeen returns every (tx_id, first_seen_at) pair in
	// ingestion order, used to rebuild the tracker cache on startup.
	ListFirstSeen(ctx context.Context) ([]FirstSeenEntry, error)
	// ListFinalizedTxIDs returns the ids of transactions in blocks at or
	// below hardHeight, in ingestion order. This is the accumulator's
	// deterministic leaf sequence.
	ListFinalizedTxIDs(ctx context.Context, hardHeight int64) ([]string, error)
	// ListPendingLeaves returns transactions in blocks above hardHeight,
	// in ingestion order, used to rebuild the finalization queue.
	ListPendingLeaves(ctx context.Context, hardHeight int64) ([]PendingLeaf, error)
	Count(ctx context.Context) (int64, error)
}

// StateRootRepository provides access to the append-only root history.
type StateRootRepository interface {
	// Insert records a root for a height. A root already recorded for
	// that height is kept; history is never rewritten.
	Insert(ctx context.Context, root *model.StateRoot) error
	Latest(ctx context.Context) (*model.StateRoot, error)
	GetByHeight(ctx context.Context, height int64) (*model.StateRoot, error)
}
