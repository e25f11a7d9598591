package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conxian/conxian-nexus/internal/domain/event"
	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/merkle"
	"github.com/Conxian/conxian-nexus/internal/store"
)

// fakeStore is an in-memory stand-in for the postgres layer with the
// same conflict semantics: first insert wins, duplicates are no-ops.
type fakeStore struct {
	mu       sync.Mutex
	blocks   map[string]*model.BlockRecord
	txs      map[string]*model.TransactionRecord
	order    []string
	roots    map[int64]*model.StateRoot
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks: make(map[string]*model.BlockRecord),
		txs:    make(map[string]*model.TransactionRecord),
		roots:  make(map[int64]*model.StateRoot),
	}
}

func (f *fakeStore) PersistEvent(_ context.Context, block *model.BlockRecord, txs []*model.TransactionRecord) (bool, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return false, nil, err
	}

	if _, dup := f.blocks[block.Hash]; dup {
		return false, nil, nil
	}
	f.blocks[block.Hash] = block

	var newIDs []string
	for _, t := range txs {
		if _, dup := f.txs[t.TxID]; dup {
			continue
		}
		f.txs[t.TxID] = t
		f.order = append(f.order, t.TxID)
		newIDs = append(newIDs, t.TxID)
	}
	return true, newIDs, nil
}

func (f *fakeStore) MaxHeight(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, b := range f.blocks {
		if b.Height > max {
			max = b.Height
		}
	}
	return max, nil
}

func (f *fakeStore) MaxBurnHeight(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, b := range f.blocks {
		if b.Kind == model.BlockKindBurnBlock && b.Height > max {
			max = b.Height
		}
	}
	return max, nil
}

func (f *fakeStore) ListFirstSeen(context.Context) ([]store.FirstSeenEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]store.FirstSeenEntry, 0, len(f.order))
	for _, id := range f.order {
		entries = append(entries, store.FirstSeenEntry{TxID: id, FirstSeenAt: f.txs[id].FirstSeenAt})
	}
	return entries, nil
}

func (f *fakeStore) ListFinalizedTxIDs(_ context.Context, hardHeight int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, id := range f.order {
		if f.blocks[f.txs[id].BlockHash].Height <= hardHeight {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListPendingLeaves(_ context.Context, hardHeight int64) ([]store.PendingLeaf, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var leaves []store.PendingLeaf
	for _, id := range f.order {
		t := f.txs[id]
		height := f.blocks[t.BlockHash].Height
		if height > hardHeight {
			leaves = append(leaves, store.PendingLeaf{TxID: id, Height: height, FirstSeenAt: t.FirstSeenAt})
		}
	}
	return leaves, nil
}

func (f *fakeStore) Insert(_ context.Context, root *model.StateRoot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.roots[root.Height]; exists {
		return nil
	}
	f.roots[root.Height] = root
	return nil
}

func (f *fakeStore) GetByHeight(_ context.Context, height int64) (*model.StateRoot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roots[height], nil
}

type fakePublisher struct {
	mu    sync.Mutex
	roots []string
	err   error
}

func (p *fakePublisher) PublishStateRoot(_ context.Context, root string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.roots = append(p.roots, root)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(fs *fakeStore, opts ...TrackerOption) *Tracker {
	return NewTracker(fs, fs, fs, fs, merkle.NewAccumulator(), opts...)
}

func microblock(hash string, height int64, parent string, txIDs ...string) event.Microblock {
	mb := event.Microblock{Hash: hash, Height: height, ParentHash: parent}
	for _, id := range txIDs {
		mb.Txs = append(mb.Txs, event.TxRef{TxID: id, Sender: "SP" + id, Payload: "token_transfer"})
	}
	return mb
}

func burnBlock(hash string, height int64, txIDs ...string) event.BurnBlock {
	bb := event.BurnBlock{Hash: hash, Height: height}
	for _, id := range txIDs {
		bb.Txs = append(bb.Txs, event.TxRef{TxID: id, Sender: "SP" + id, Payload: "token_transfer"})
	}
	return bb
}

func TestIngestMicroblockThenBurnBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	pub := &fakePublisher{}
	tr := newTestTracker(fs, WithRootPublisher(pub))

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "txb", "txa")))

	snap := tr.HeightSnapshot()
	assert.Equal(t, int64(1), snap.Soft)
	assert.Equal(t, int64(0), snap.Hard)
	assert.Equal(t, merkle.ZeroRoot, tr.Root(), "soft transactions must not enter the accumulator")
	assert.Equal(t, 2, tr.PendingCount())

	require.NoError(t, tr.Ingest(ctx, burnBlock("bb1", 1)))

	snap = tr.HeightSnapshot()
	assert.Equal(t, int64(1), snap.Hard)
	assert.NotEqual(t, merkle.ZeroRoot, tr.Root())
	assert.Equal(t, 0, tr.PendingCount())

	// Root history records the root at the hard height and the publisher
	// saw the same value.
	stored := fs.roots[1]
	require.NotNil(t, stored)
	assert.Equal(t, tr.Root(), stored.RootHash)
	require.Len(t, pub.roots, 1)
	assert.Equal(t, tr.Root(), pub.roots[0])

	// Transactions inside one event are ordered by id.
	want := merkle.NewAccumulator()
	want.Append("txa", "txb")
	assert.Equal(t, want.Root(), tr.Root())
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	clock := newTestClock()
	tr := newTestTracker(fs, WithTrackerClock(clock.Now))

	ev := microblock("mb1", 1, "", "tx1")
	require.NoError(t, tr.Ingest(ctx, ev))
	first, ok := tr.FirstSeen("tx1")
	require.True(t, ok)

	clock.Advance(time.Minute)
	require.NoError(t, tr.Ingest(ctx, ev))

	assert.Len(t, fs.blocks, 1)
	assert.Len(t, fs.txs, 1)
	assert.Equal(t, 1, tr.PendingCount())

	again, ok := tr.FirstSeen("tx1")
	require.True(t, ok)
	assert.Equal(t, first, again, "re-delivery must not move the fairness anchor")
}

func TestFirstSeenSurvivesReappearance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	clock := newTestClock()
	tr := newTestTracker(fs, WithTrackerClock(clock.Now))

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "tx1")))
	first, ok := tr.FirstSeen("tx1")
	require.True(t, ok)

	clock.Advance(time.Hour)
	require.NoError(t, tr.Ingest(ctx, burnBlock("bb1", 1, "tx1")))

	anchor, ok := tr.FirstSeen("tx1")
	require.True(t, ok)
	assert.Equal(t, first, anchor)
	assert.Equal(t, first, fs.txs["tx1"].FirstSeenAt)
}

func TestHeightsAreMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tr := newTestTracker(newFakeStore())

	require.NoError(t, tr.Ingest(ctx, burnBlock("bb5", 5)))
	require.NoError(t, tr.Ingest(ctx, burnBlock("bb3", 3)))
	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "")))

	snap := tr.HeightSnapshot()
	assert.Equal(t, int64(5), snap.Soft)
	assert.Equal(t, int64(5), snap.Hard)
}

func TestInconsistentParentLinkageDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "")))
	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "not-mb1", "tx1")))

	assert.Equal(t, int64(1), tr.HeightSnapshot().Soft, "malformed event must not advance heights")
	assert.Len(t, fs.blocks, 1, "malformed event must not be persisted")
	_, ok := tr.FirstSeen("tx1")
	assert.False(t, ok)

	// The same height with correct linkage is accepted.
	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "mb1", "tx1")))
	assert.Equal(t, int64(2), tr.HeightSnapshot().Soft)
}

func TestLateTransactionsFinalizeOnNextBurnBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tr := newTestTracker(newFakeStore())

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "tx1")))
	require.NoError(t, tr.Ingest(ctx, burnBlock("bb1", 1)))
	rootAfterOne := tr.Root()

	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "mb1", "tx2")))
	assert.Equal(t, rootAfterOne, tr.Root(), "soft tx at height 2 must not change the root")

	require.NoError(t, tr.Ingest(ctx, burnBlock("bb2", 2)))
	assert.NotEqual(t, rootAfterOne, tr.Root())
	assert.Equal(t, 0, tr.PendingCount())
}

func TestEventsAtOrBelowHardHeightAreDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "tx1")))
	require.NoError(t, tr.Ingest(ctx, burnBlock("bb2", 2)))
	rootAfterBurn := tr.Root()
	require.Equal(t, 0, tr.PendingCount())

	// A microblock for an already-hard height arrives after the burn
	// block that settled it. Admitting it would finalize tx2 out of
	// first-seen order, so it is settled history and must be refused.
	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "mb1", "tx2")))

	assert.Equal(t, rootAfterBurn, tr.Root())
	assert.Equal(t, 0, tr.PendingCount())
	_, ok := tr.FirstSeen("tx2")
	assert.False(t, ok, "settled history must not mint a fairness anchor")
	assert.NotContains(t, fs.blocks, "mb2", "settled history must not be persisted")
}

func TestRebuildAgreesAfterLateDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "tx1")))
	require.NoError(t, tr.Ingest(ctx, burnBlock("bb2", 2)))
	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "mb1", "tx2")))

	// A restart replays the persisted records; the recomputed root must
	// match the one stored at the hard height or the node refuses to
	// start, so late deliveries must leave nothing behind to disagree on.
	rebuilt := newTestTracker(fs)
	require.NoError(t, rebuilt.Rebuild(ctx))

	assert.Equal(t, tr.Root(), rebuilt.Root())
	assert.Equal(t, tr.HeightSnapshot(), rebuilt.HeightSnapshot())
	assert.Equal(t, tr.PendingCount(), rebuilt.PendingCount())
}

func TestPersistFailureIsRetryable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)

	fs.failNext = errors.New("connection reset by peer")
	err := tr.Ingest(ctx, microblock("mb1", 1, "", "tx1"))
	require.Error(t, err)
	assert.Equal(t, int64(0), tr.HeightSnapshot().Soft)

	// The same event succeeds on redelivery.
	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "tx1")))
	assert.Equal(t, int64(1), tr.HeightSnapshot().Soft)
}

func TestPublisherFailureDoesNotFailIngestion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	pub := &fakePublisher{err: errors.New("redis down")}
	tr := newTestTracker(fs, WithRootPublisher(pub))

	require.NoError(t, tr.Ingest(ctx, burnBlock("bb1", 1, "tx1")))
	assert.Equal(t, int64(1), tr.HeightSnapshot().Hard)
	require.NotNil(t, fs.roots[1], "root history is written even when the broadcast fails")
}

func TestRebuildReproducesState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)

	require.NoError(t, tr.Ingest(ctx, microblock("mb1", 1, "", "tx1", "tx2")))
	require.NoError(t, tr.Ingest(ctx, burnBlock("bb1", 1)))
	require.NoError(t, tr.Ingest(ctx, microblock("mb2", 2, "mb1", "tx3")))

	rebuilt := newTestTracker(fs)
	require.NoError(t, rebuilt.Rebuild(ctx))

	assert.Equal(t, tr.HeightSnapshot(), rebuilt.HeightSnapshot())
	assert.Equal(t, tr.Root(), rebuilt.Root())
	assert.Equal(t, tr.PendingCount(), rebuilt.PendingCount())

	anchor, ok := rebuilt.FirstSeen("tx3")
	assert.True(t, ok)
	assert.False(t, anchor.IsZero())
}

func TestRebuildDetectsTamperedHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newFakeStore()
	tr := newTestTracker(fs)

	require.NoError(t, tr.Ingest(ctx, burnBlock("bb1", 1, "tx1")))
	fs.roots[1].RootHash = "0xbad"

	rebuilt := newTestTracker(fs)
	err := rebuilt.Rebuild(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match stored root")
}
