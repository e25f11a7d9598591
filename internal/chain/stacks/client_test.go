package stacks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Conxian/conxian-nexus/internal/chain"
	"github.com/Conxian/conxian-nexus/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTipHeight(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extended/v1/block", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"results":[{"hash":"0xabc","height":120}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	height, err := c.TipHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(120), height)
}

func TestTipHeightEmptyList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.TipHeight(context.Background())
	assert.Error(t, err)
}

func TestBlockByHeight(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/extended/v1/block/by_height/7", r.URL.Path)
		fmt.Fprint(w, `{"hash":"0xb7","height":7,"parent_block_hash":"0xb6","burn_block_time_iso":"2026-01-02T03:04:05.000Z"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	blk, err := c.BlockByHeight(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "0xb7", blk.Hash)
	assert.Equal(t, int64(7), blk.Height)
	assert.Equal(t, "0xb6", blk.ParentHash)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), blk.Time)

	// Second lookup is served from cache.
	_, err = c.BlockByHeight(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestBlockByHeightNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such block", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.BlockByHeight(context.Background(), 9999)
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestTransactionsByHeight(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extended/v1/tx/block_height/7", r.URL.Path)
		fmt.Fprint(w, `{"results":[
			{"tx_id":"0xt1","sender_address":"SP1","tx_type":"token_transfer"},
			{"tx_id":"0xt2","sender_address":"SP2","tx_type":"contract_call"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	txs, err := c.TransactionsByHeight(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, chain.Tx{TxID: "0xt1", Sender: "SP1", Payload: "token_transfer"}, txs[0])
	assert.Equal(t, chain.Tx{TxID: "0xt2", Sender: "SP2", Payload: "contract_call"}, txs[1])
}

func TestServerErrorSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.TipHeight(context.Background())

	var apiErr *chain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	for i := 0; i < 5; i++ {
		_, err := c.TipHeight(context.Background())
		require.Error(t, err)
	}

	_, err := c.TipHeight(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestParseBlockTime(t *testing.T) {
	t.Parallel()

	assert.True(t, parseBlockTime("").IsZero())
	assert.True(t, parseBlockTime("garbage").IsZero())
	assert.Equal(t,
		time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
		parseBlockTime("2026-08-27T12:00:00Z"),
	)
}
