package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

type BlockRepo struct {
	db *DB
}

func NewBlockRepo(db *DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// InsertTx writes a block record. Duplicate hashes are ignored; the
// returned bool reports whether a new row was written.
func (r *BlockRepo) InsertTx(ctx context.Context, tx *sql.Tx, b *model.BlockRecord) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (hash, height, kind, finality, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING
	`, b.Hash, b.Height, string(b.Kind), string(b.Finality), b.ObservedAt)
	if err != nil {
		return false, fmt.Errorf("insert block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert block rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *BlockRepo) GetByHash(ctx context.Context, hash string) (*model.BlockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var b model.BlockRecord
	var kind, finality string
	err := r.db.QueryRowContext(ctx, `
		SELECT hash, height, kind, finality, observed_at
		FROM blocks WHERE hash = $1
	`, hash).Scan(&b.Hash, &b.Height, &kind, &finality, &b.ObservedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	b.Kind = model.BlockKind(kind)
	b.Finality = model.Finality(finality)
	return &b, nil
}

func (r *BlockRepo) MaxHeight(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var height sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("max height: %w", err)
	}
	return height.Int64, nil
}

func (r *BlockRepo) MaxBurnHeight(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var height sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(height) FROM blocks WHERE kind = $1
	`, string(model.BlockKindBurnBlock)).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("max burn height: %w", err)
	}
	return height.Int64, nil
}

func (r *BlockRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return count, nil
}
