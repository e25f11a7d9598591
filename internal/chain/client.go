package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested block does not exist yet.
var ErrNotFound = errors.New("block not found")

// Client abstracts the upstream chain API so the poller and the safety
// monitor operate against a single narrow surface.
type Client interface {
	// TipHeight returns the latest anchored block height on the chain.
	TipHeight(ctx context.Context) (int64, error)

	// BlockByHeight fetches the anchored block at the given height.
	BlockByHeight(ctx context.Context, height int64) (*Block, error)

	// TransactionsByHeight fetches the transactions confirmed at the
	// given height, oldest first.
	TransactionsByHeight(ctx context.Context, height int64) ([]Tx, error)
}

// Block is an anchored block header as reported by the upstream API.
// BurnBlockHash identifies the burn-chain anchor that makes the block
// irreversible once enough confirmations accumulate on top of it.
type Block struct {
	Hash          string
	Height        int64
	ParentHash    string
	BurnBlockHash string
	Time          time.Time
}

// Tx is a confirmed transaction reference.
type Tx struct {
	TxID    string
	Sender  string
	Payload string
}

// APIError is a non-2xx response from the upstream API. The retry
// classifier inspects the status code to decide between backoff and
// giving up.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chain api: http status %d: %s", e.StatusCode, e.Body)
}
