package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

type StateRootRepo struct {
	db *DB
}

func NewStateRootRepo(db *DB) *StateRootRepo {
	return &StateRootRepo{db: db}
}

// Insert records a root for a height. The history is append-only: a
// height that already has a root keeps it.
func (r *StateRootRepo) Insert(ctx context.Context, root *model.StateRoot) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO state_roots (height, root_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (height) DO NOTHING
	`, root.Height, root.RootHash, root.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert state root: %w", err)
	}
	return nil
}

func (r *StateRootRepo) Latest(ctx context.Context) (*model.StateRoot, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var root model.StateRoot
	err := r.db.QueryRowContext(ctx, `
		SELECT height, root_hash, created_at
		FROM state_roots
		ORDER BY height DESC
		LIMIT 1
	`).Scan(&root.Height, &root.RootHash, &root.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest state root: %w", err)
	}
	return &root, nil
}

func (r *StateRootRepo) GetByHeight(ctx context.Context, height int64) (*model.StateRoot, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var root model.StateRoot
	err := r.db.QueryRowContext(ctx, `
		SELECT height, root_hash, created_at
		FROM state_roots WHERE height = $1
	`, height).Scan(&root.Height, &root.RootHash, &root.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state root by height: %w", err)
	}
	return &root, nil
}
