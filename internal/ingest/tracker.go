package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Conxian/conxian-nexus/internal/domain/event"
	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/merkle"
	"github.com/Conxian/conxian-nexus/internal/metrics"
	"github.com/Conxian/conxian-nexus/internal/store"
)

// RootPublisher broadcasts accumulator roots to external consumers.
// Broadcasting is best effort: a failed publish never fails ingestion.
type RootPublisher interface {
	PublishStateRoot(ctx context.Context, root string) error
}

// HeightReader reads persisted height baselines on rebuild.
type HeightReader interface {
	MaxHeight(ctx context.Context) (int64, error)
	MaxBurnHeight(ctx context.Context) (int64, error)
}

// LeafReader reads persisted transaction orderings on rebuild.
type LeafReader interface {
	ListFirstSeen(ctx context.Context) ([]store.FirstSeenEntry, error)
	ListFinalizedTxIDs(ctx context.Context, hardHeight int64) ([]string, error)
	ListPendingLeaves(ctx context.Context, hardHeight int64) ([]store.PendingLeaf, error)
}

// RootHistory records and reads the append-only root history.
type RootHistory interface {
	Insert(ctx context.Context, root *model.StateRoot) error
	GetByHeight(ctx context.Context, height int64) (*model.StateRoot, error)
}

// Tracker ingests chain events and maintains the node's view of soft
// and hard finality. Events are delivered at least once; every path
// through Ingest is idempotent. Transactions enter the accumulator only
// when the hard height reaches their block, in first-seen order.
type Tracker struct {
	events store.EventWriter
	blocks HeightReader
	txs    LeafReader
	roots  RootHistory
	acc    *merkle.Accumulator

	publisher RootPublisher
	logger    *slog.Logger
	nowFn     func() time.Time

	mu        sync.RWMutex
	soft      int64
	hard      int64
	firstSeen map[string]time.Time
	pending   []store.PendingLeaf
	microHash map[int64]string
}

type TrackerOption func(*Tracker)

// WithRootPublisher broadcasts every new root over the given publisher.
func WithRootPublisher(p RootPublisher) TrackerOption {
	return func(t *Tracker) { t.publisher = p }
}

func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l.With("component", "tracker") }
}

// WithTrackerClock overrides the clock, for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.nowFn = now }
}

func NewTracker(
	events store.EventWriter,
	blocks HeightReader,
	txs LeafReader,
	roots RootHistory,
	acc *merkle.Accumulator,
	opts ...TrackerOption,
) *Tracker {
	t := &Tracker{
		events:    events,
		blocks:    blocks,
		txs:       txs,
		roots:     roots,
		acc:       acc,
		logger:    slog.Default().With("component", "tracker"),
		nowFn:     time.Now,
		firstSeen: make(map[string]time.Time),
		microHash: make(map[int64]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Rebuild restores the tracker and the accumulator from persisted
// records. The accumulator is a pure function of the persisted leaf
// sequence, so the recomputed root must match the stored one; a
// mismatch means the database was tampered with or corrupted and the
// node refuses to start.
func (t *Tracker) Rebuild(ctx context.Context) error {
	hard, err := t.blocks.MaxBurnHeight(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: max burn height: %w", err)
	}
	soft, err := t.blocks.MaxHeight(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: max height: %w", err)
	}
	if soft < hard {
		soft = hard
	}

	entries, err := t.txs.ListFirstSeen(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: list first seen: %w", err)
	}
	leaves, err := t.txs.ListFinalizedTxIDs(ctx, hard)
	if err != nil {
		return fmt.Errorf("rebuild: list finalized: %w", err)
	}
	pending, err := t.txs.ListPendingLeaves(ctx, hard)
	if err != nil {
		return fmt.Errorf("rebuild: list pending: %w", err)
	}

	root := t.acc.Reset(leaves)

	if hard > 0 || len(leaves) > 0 {
		stored, err := t.roots.GetByHeight(ctx, hard)
		if err != nil {
			return fmt.Errorf("rebuild: stored root: %w", err)
		}
		if stored != nil && stored.RootHash != root {
			return fmt.Errorf("rebuild: recomputed root %s does not match stored root %s at height %d",
				root, stored.RootHash, hard)
		}
		if stored == nil {
			err := t.roots.Insert(ctx, &model.StateRoot{
				Height:    hard,
				RootHash:  root,
				CreatedAt: t.nowFn().UTC(),
			})
			if err != nil {
				return fmt.Errorf("rebuild: insert root: %w", err)
			}
		}
	}

	t.mu.Lock()
	t.soft = soft
	t.hard = hard
	t.firstSeen = make(map[string]time.Time, len(entries))
	for _, e := range entries {
		t.firstSeen[e.TxID] = e.FirstSeenAt
	}
	t.pending = pending
	t.microHash = make(map[int64]string)
	t.mu.Unlock()

	metrics.SoftHeight.Set(float64(soft))
	metrics.HardHeight.Set(float64(hard))
	metrics.StateLeaves.Set(float64(t.acc.Size()))

	t.logger.Info("tracker rebuilt",
		"soft_height", soft,
		"hard_height", hard,
		"leaves", len(leaves),
		"pending", len(pending),
		"root", root,
	)
	return nil
}

// Ingest processes one observed chain event. Re-delivered events are
// detected by block hash and ignored; events with inconsistent parent
// linkage are dropped. Events at or below the tracked hard height
// reference settled history: they are dropped without persisting, which
// keeps the accumulator a pure function of the persisted leaf sequence
// (a straggler admitted below the hard height would finalize out of
// first-seen order and break rebuild). Tracked heights only move
// forward.
func (t *Tracker) Ingest(ctx context.Context, ev event.ChainEvent) error {
	start := time.Now()
	defer func() {
		metrics.IngestLatency.Observe(time.Since(start).Seconds())
	}()

	if !t.linkageConsistent(ev) {
		metrics.IngestMalformedTotal.Inc()
		t.logger.Warn("dropping event with inconsistent parent linkage",
			"block_hash", ev.BlockHash(),
			"height", ev.BlockHeight(),
		)
		return nil
	}

	if hard := t.HeightSnapshot().Hard; ev.BlockHeight() <= hard {
		metrics.IngestStaleTotal.Inc()
		t.logger.Warn("dropping event at or below the hard height",
			"block_hash", ev.BlockHash(),
			"height", ev.BlockHeight(),
			"hard_height", hard,
		)
		return nil
	}

	now := t.nowFn().UTC()
	newLeaves, isNew, err := t.persist(ctx, ev, now)
	if err != nil {
		metrics.IngestErrorsTotal.Inc()
		return err
	}
	if !isNew {
		metrics.IngestDuplicatesTotal.Inc()
		t.logger.Debug("ignoring re-delivered event", "block_hash", ev.BlockHash())
		return nil
	}

	newRoot, rootHeight := t.apply(ev, newLeaves)
	metrics.IngestEventsTotal.WithLabelValues(ev.Kind().String()).Inc()

	if newRoot != "" {
		if err := t.recordRoot(ctx, rootHeight, newRoot, now); err != nil {
			metrics.IngestErrorsTotal.Inc()
			return err
		}
	}

	t.logger.Info("event ingested",
		"kind", ev.Kind().String(),
		"block_hash", ev.BlockHash(),
		"height", ev.BlockHeight(),
		"new_txs", len(newLeaves),
	)
	return nil
}

// persist writes the block and its transactions atomically. It returns
// the leaves that were genuinely new and whether the block itself was
// new.
func (t *Tracker) persist(ctx context.Context, ev event.ChainEvent, now time.Time) ([]store.PendingLeaf, bool, error) {
	rec := &model.BlockRecord{
		Hash:       ev.BlockHash(),
		Height:     ev.BlockHeight(),
		Kind:       ev.Kind(),
		Finality:   model.FinalityForKind(ev.Kind()),
		ObservedAt: now,
	}

	// All transactions in one event share a first-seen timestamp, so the
	// persisted ingestion order falls back to the tx id tie-break.
	// Inserting in that order keeps the in-memory queue aligned with it.
	refs := sortedRefs(ev)
	records := make([]*model.TransactionRecord, 0, len(refs))
	for _, ref := range refs {
		records = append(records, &model.TransactionRecord{
			TxID:        ref.TxID,
			BlockHash:   ev.BlockHash(),
			Sender:      ref.Sender,
			Payload:     ref.Payload,
			FirstSeenAt: now,
		})
	}

	blockIsNew, newTxIDs, err := t.events.PersistEvent(ctx, rec, records)
	if err != nil {
		return nil, false, fmt.Errorf("ingest: %w", err)
	}
	if !blockIsNew {
		return nil, false, nil
	}

	newLeaves := make([]store.PendingLeaf, 0, len(newTxIDs))
	for _, id := range newTxIDs {
		newLeaves = append(newLeaves, store.PendingLeaf{
			TxID:        id,
			Height:      ev.BlockHeight(),
			FirstSeenAt: now,
		})
	}
	return newLeaves, true, nil
}

// apply folds a committed event into the in-memory state. When the hard
// height advances it drains the finalization queue into the accumulator
// and returns the new root with the height it belongs to.
func (t *Tracker) apply(ev event.ChainEvent, newLeaves []store.PendingLeaf) (string, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, leaf := range newLeaves {
		t.firstSeen[leaf.TxID] = leaf.FirstSeenAt
		t.pending = append(t.pending, leaf)
	}
	if ev.Kind() == model.BlockKindMicroblock {
		t.microHash[ev.BlockHeight()] = ev.BlockHash()
	}

	if h := ev.BlockHeight(); h > t.soft {
		t.soft = h
		metrics.SoftHeight.Set(float64(h))
	}

	if ev.Kind() != model.BlockKindBurnBlock || ev.BlockHeight() <= t.hard {
		return "", 0
	}

	t.hard = ev.BlockHeight()
	metrics.HardHeight.Set(float64(t.hard))

	finalized := make([]string, 0, len(t.pending))
	remaining := t.pending[:0]
	for _, leaf := range t.pending {
		if leaf.Height <= t.hard {
			finalized = append(finalized, leaf.TxID)
		} else {
			remaining = append(remaining, leaf)
		}
	}
	t.pending = remaining

	for h := range t.microHash {
		if h <= t.hard {
			delete(t.microHash, h)
		}
	}

	rootStart := time.Now()
	root := t.acc.Append(finalized...)
	metrics.StateRootRecomputeLatency.Observe(time.Since(rootStart).Seconds())
	metrics.StateRootRecomputationsTotal.Inc()
	metrics.StateLeaves.Set(float64(t.acc.Size()))

	return root, t.hard
}

func (t *Tracker) recordRoot(ctx context.Context, height int64, root string, now time.Time) error {
	err := t.roots.Insert(ctx, &model.StateRoot{
		Height:    height,
		RootHash:  root,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("ingest: record root at height %d: %w", height, err)
	}

	if t.publisher != nil {
		if err := t.publisher.PublishStateRoot(ctx, root); err != nil {
			t.logger.Warn("state root broadcast failed", "error", err)
		}
	}

	t.logger.Info("state root advanced", "height", height, "root", root)
	return nil
}

// linkageConsistent checks a microblock's parent hash against the
// tracked hash at the previous height, when both are known.
func (t *Tracker) linkageConsistent(ev event.ChainEvent) bool {
	mb, ok := ev.(event.Microblock)
	if !ok || mb.ParentHash == "" {
		return true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	prev, tracked := t.microHash[mb.Height-1]
	return !tracked || prev == mb.ParentHash
}

// FirstSeen returns the fairness anchor recorded when txID was first
// ingested. The second return is false for unknown transactions.
func (t *Tracker) FirstSeen(txID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.firstSeen[txID]
	return ts, ok
}

// HeightSnapshot returns an atomic view of both tracked heights.
func (t *Tracker) HeightSnapshot() model.HeightSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return model.HeightSnapshot{Soft: t.soft, Hard: t.hard}
}

// Root returns the current accumulator root.
func (t *Tracker) Root() string {
	return t.acc.Root()
}

// PendingCount returns the number of tracked transactions awaiting hard
// finality.
func (t *Tracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

func sortedRefs(ev event.ChainEvent) []event.TxRef {
	var refs []event.TxRef
	switch e := ev.(type) {
	case event.Microblock:
		refs = append(refs, e.Txs...)
	case event.BurnBlock:
		refs = append(refs, e.Txs...)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].TxID < refs[j].TxID })
	return refs
}
