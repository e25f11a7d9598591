package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Conxian/conxian-nexus/internal/chain"
	"github.com/Conxian/conxian-nexus/internal/chain/mocks"
)

// fakeChain serves a synthetic chain of the given tip height: block
// b{h} with parent b{h-1}, burn anchor bb{h}, and one transaction
// tx{h} per height.
type fakeChain struct {
	tip    int64
	tipErr error
}

func (f *fakeChain) TipHeight(context.Context) (int64, error) {
	if f.tipErr != nil {
		return 0, f.tipErr
	}
	return f.tip, nil
}

func (f *fakeChain) BlockByHeight(_ context.Context, height int64) (*chain.Block, error) {
	if height > f.tip {
		return nil, chain.ErrNotFound
	}
	return &chain.Block{
		Hash:          fmt.Sprintf("b%d", height),
		Height:        height,
		ParentHash:    fmt.Sprintf("b%d", height-1),
		BurnBlockHash: fmt.Sprintf("bb%d", height),
	}, nil
}

func (f *fakeChain) TransactionsByHeight(_ context.Context, height int64) ([]chain.Tx, error) {
	if height > f.tip {
		return nil, chain.ErrNotFound
	}
	return []chain.Tx{{TxID: fmt.Sprintf("tx%d", height), Sender: "SP1", Payload: "token_transfer"}}, nil
}

func TestPollStreamsThenAnchors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tr := newTestTracker(newFakeStore())
	upstream := &fakeChain{tip: 3}
	p := NewPoller(upstream, tr, WithConfirmationDepth(1))

	require.NoError(t, p.poll(ctx))

	snap := tr.HeightSnapshot()
	assert.Equal(t, int64(3), snap.Soft)
	assert.Equal(t, int64(2), snap.Hard, "tip minus confirmation depth")

	// Transactions at or below the hard height are in the accumulator,
	// the tip transaction is still pending.
	_, ok := tr.FirstSeen("tx3")
	assert.True(t, ok)
	assert.Equal(t, 1, tr.PendingCount())
}

func TestPollAdvancesWithTheTip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tr := newTestTracker(newFakeStore())
	upstream := &fakeChain{tip: 2}
	p := NewPoller(upstream, tr, WithConfirmationDepth(1))

	require.NoError(t, p.poll(ctx))
	rootBefore := tr.Root()

	upstream.tip = 4
	require.NoError(t, p.poll(ctx))

	snap := tr.HeightSnapshot()
	assert.Equal(t, int64(4), snap.Soft)
	assert.Equal(t, int64(3), snap.Hard)
	assert.NotEqual(t, rootBefore, tr.Root())
}

func TestPollBoundsWorkPerTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tr := newTestTracker(newFakeStore())
	upstream := &fakeChain{tip: 10}
	p := NewPoller(upstream, tr, WithConfirmationDepth(1), WithMaxBlocksPerTick(4))

	require.NoError(t, p.poll(ctx))
	assert.Equal(t, int64(4), tr.HeightSnapshot().Soft, "one tick does at most the configured work")

	// Subsequent ticks catch up.
	for i := 0; i < 5; i++ {
		require.NoError(t, p.poll(ctx))
	}
	snap := tr.HeightSnapshot()
	assert.Equal(t, int64(10), snap.Soft)
	assert.Equal(t, int64(9), snap.Hard)
}

func TestPollTipFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tr := newTestTracker(newFakeStore())
	upstream := &fakeChain{tip: 3, tipErr: errors.New("connection refused")}
	p := NewPoller(upstream, tr)

	require.Error(t, p.poll(ctx))
	assert.Equal(t, int64(0), tr.HeightSnapshot().Soft)

	upstream.tipErr = nil
	require.NoError(t, p.poll(ctx))
	assert.Equal(t, int64(3), tr.HeightSnapshot().Soft)
}

func TestPollStopsAtFirstFetchFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().TipHeight(gomock.Any()).Return(int64(3), nil)
	client.EXPECT().BlockByHeight(gomock.Any(), int64(1)).Return(&chain.Block{
		Hash: "b1", Height: 1, ParentHash: "b0", BurnBlockHash: "bb1",
	}, nil)
	client.EXPECT().TransactionsByHeight(gomock.Any(), int64(1)).Return([]chain.Tx{{TxID: "tx1"}}, nil)
	client.EXPECT().BlockByHeight(gomock.Any(), int64(2)).Return(nil, errors.New("upstream 502"))

	tr := newTestTracker(newFakeStore())
	p := NewPoller(client, tr, WithConfirmationDepth(1))

	err := p.poll(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(1), tr.HeightSnapshot().Soft, "work before the failure sticks")
	assert.Equal(t, int64(0), tr.HeightSnapshot().Hard, "hard pass never ran")
}

func TestNextDelayStretchesWithTransientStreak(t *testing.T) {
	t.Parallel()

	p := NewPoller(&fakeChain{}, newTestTracker(newFakeStore()), WithPollInterval(time.Second))

	assert.Equal(t, time.Second, p.nextDelay(0), "healthy loop keeps the base cadence")
	assert.Equal(t, 2*time.Second, p.nextDelay(1))
	assert.Equal(t, 4*time.Second, p.nextDelay(2))
	assert.Equal(t, 8*time.Second, p.nextDelay(3), "cap reached")
	assert.Equal(t, 8*time.Second, p.nextDelay(4))
	assert.Equal(t, 8*time.Second, p.nextDelay(64))
}

func TestPollIsIdempotentAcrossTicks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)
	upstream := &fakeChain{tip: 2}
	p := NewPoller(upstream, tr, WithConfirmationDepth(1))

	require.NoError(t, p.poll(ctx))
	root := tr.Root()

	// A stalled tip re-fetches the same heights; nothing may change.
	require.NoError(t, p.poll(ctx))
	require.NoError(t, p.poll(ctx))

	assert.Equal(t, root, tr.Root())
	assert.Len(t, fs.txs, 2)
}
