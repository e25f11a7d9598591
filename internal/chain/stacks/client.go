package stacks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Conxian/conxian-nexus/internal/cache"
	"github.com/Conxian/conxian-nexus/internal/chain"
	"github.com/Conxian/conxian-nexus/internal/circuitbreaker"
	"github.com/Conxian/conxian-nexus/internal/metrics"
)

const (
	defaultRequestTimeout = 15 * time.Second
	blockCacheCapacity    = 256
	blockCacheTTL         = 30 * time.Second
)

// Client talks to a Stacks-style extended HTTP API. All calls go
// through a circuit breaker; anchored block lookups are cached briefly
// because the poller and the safety heartbeat request the same heights
// within one interval.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *circuitbreaker.Breaker
	blockCache *cache.LRU[int64, *chain.Block]
	txCache    *cache.LRU[int64, []chain.Tx]
	logger     *slog.Logger
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				metrics.ChainBreakerState.Set(float64(to))
				logger.Warn("chain client breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
		blockCache: cache.NewLRU[int64, *chain.Block](blockCacheCapacity, blockCacheTTL),
		txCache:    cache.NewLRU[int64, []chain.Tx](blockCacheCapacity, blockCacheTTL),
		logger:     logger.With("component", "chain_client"),
	}
}

// TipHeight implements chain.Client.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var resp blockListResponse
	if err := c.get(ctx, "tip_height", "/extended/v1/block?limit=1", &resp); err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 {
		return 0, fmt.Errorf("tip height: empty block list")
	}
	return resp.Results[0].Height, nil
}

// BlockByHeight implements chain.Client.
func (c *Client) BlockByHeight(ctx context.Context, height int64) (*chain.Block, error) {
	if blk, ok := c.blockCache.Get(height); ok {
		return blk, nil
	}

	var resp blockResponse
	path := fmt.Sprintf("/extended/v1/block/by_height/%d", height)
	if err := c.get(ctx, "block_by_height", path, &resp); err != nil {
		return nil, err
	}

	blk := &chain.Block{
		Hash:          resp.Hash,
		Height:        resp.Height,
		ParentHash:    resp.ParentBlockHash,
		BurnBlockHash: resp.BurnBlockHash,
		Time:          parseBlockTime(resp.BurnBlockTime),
	}
	c.blockCache.Put(height, blk)
	return blk, nil
}

// TransactionsByHeight implements chain.Client.
func (c *Client) TransactionsByHeight(ctx context.Context, height int64) ([]chain.Tx, error) {
	if txs, ok := c.txCache.Get(height); ok {
		return txs, nil
	}

	var resp txListResponse
	path := fmt.Sprintf("/extended/v1/tx/block_height/%d", height)
	if err := c.get(ctx, "tx_by_height", path, &resp); err != nil {
		return nil, err
	}

	txs := make([]chain.Tx, 0, len(resp.Results))
	for _, tx := range resp.Results {
		txs = append(txs, chain.Tx{
			TxID:    tx.TxID,
			Sender:  tx.SenderAddress,
			Payload: tx.TxType,
		})
	}
	c.txCache.Put(height, txs)
	return txs, nil
}

func (c *Client) get(ctx context.Context, method, path string, out any) error {
	if err := c.breaker.Allow(); err != nil {
		metrics.ChainRequestsTotal.WithLabelValues(method, "breaker_open").Inc()
		return err
	}

	start := time.Now()
	err := c.doGet(ctx, path, out)
	metrics.ChainRequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ChainRequestsTotal.WithLabelValues(method, "error").Inc()
		c.breaker.RecordFailure()
		return err
	}
	metrics.ChainRequestsTotal.WithLabelValues(method, "ok").Inc()
	c.breaker.RecordSuccess()
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return chain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &chain.APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// parseBlockTime decodes the ISO timestamp the API reports for anchored
// blocks. A missing or malformed value yields the zero time; callers
// substitute their own clock.
func parseBlockTime(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
