package postgres

import (
	"context"
	"fmt"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

// EventStore persists one observed chain event atomically: the block
// record and its transactions commit together or not at all.
type EventStore struct {
	db     *DB
	blocks *BlockRepo
	txs    *TransactionRepo
}

func NewEventStore(db *DB, blocks *BlockRepo, txs *TransactionRepo) *EventStore {
	return &EventStore{db: db, blocks: blocks, txs: txs}
}

// PersistEvent implements store.EventWriter. A block hash that was
// already recorded leaves the database untouched and reports
// blockIsNew=false; transaction conflicts keep the stored first_seen_at
// and are excluded from newTxIDs.
func (s *EventStore) PersistEvent(ctx context.Context, block *model.BlockRecord, txs []*model.TransactionRecord) (bool, []string, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("persist event: begin: %w", err)
	}
	defer dbTx.Rollback()

	blockIsNew, err := s.blocks.InsertTx(ctx, dbTx, block)
	if err != nil {
		return false, nil, fmt.Errorf("persist event: %w", err)
	}
	if !blockIsNew {
		return false, nil, nil
	}

	var newTxIDs []string
	for _, t := range txs {
		isNew, err := s.txs.InsertTx(ctx, dbTx, t)
		if err != nil {
			return false, nil, fmt.Errorf("persist event: %w", err)
		}
		if isNew {
			newTxIDs = append(newTxIDs, t.TxID)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return false, nil, fmt.Errorf("persist event: commit: %w", err)
	}
	return true, newTxIDs, nil
}
