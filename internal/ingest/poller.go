package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Conxian/conxian-nexus/internal/chain"
	"github.com/Conxian/conxian-nexus/internal/domain/event"
	"github.com/Conxian/conxian-nexus/internal/metrics"
	"github.com/Conxian/conxian-nexus/internal/retry"
)

const (
	defaultPollInterval      = 5 * time.Second
	defaultConfirmationDepth = 1
	defaultMaxBlocksPerTick  = 64

	// maxBackoffFactor caps how far consecutive transient failures can
	// stretch the poll interval.
	maxBackoffFactor = 8
)

// Poller drives the tracker from a polled chain API. Each tick it
// streams newly observed blocks as soft microblock events and, once a
// block has enough confirmations on top of it, re-emits it as a hard
// burn block event. The tracker's idempotence makes re-fetching safe.
type Poller struct {
	client  chain.Client
	tracker *Tracker
	logger  *slog.Logger

	interval      time.Duration
	confirmations int64
	maxPerTick    int
}

type PollerOption func(*Poller)

func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithConfirmationDepth sets how many blocks must exist on top of a
// block before it is treated as irreversible.
func WithConfirmationDepth(n int64) PollerOption {
	return func(p *Poller) {
		if n >= 0 {
			p.confirmations = n
		}
	}
}

// WithMaxBlocksPerTick bounds how much catch-up work a single tick may
// do, keeping ticks short after long downtime.
func WithMaxBlocksPerTick(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxPerTick = n
		}
	}
}

func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l.With("component", "poller") }
}

func NewPoller(client chain.Client, tracker *Tracker, opts ...PollerOption) *Poller {
	p := &Poller{
		client:        client,
		tracker:       tracker,
		logger:        slog.Default().With("component", "poller"),
		interval:      defaultPollInterval,
		confirmations: defaultConfirmationDepth,
		maxPerTick:    defaultMaxBlocksPerTick,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled; only context cancellation ends the
// loop. Consecutive transient upstream failures stretch the next tick
// exponentially up to maxBackoffFactor times the interval, easing off a
// struggling upstream before the circuit breaker has to open. A
// successful tick or a terminal error returns to the base cadence.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"interval", p.interval,
		"confirmation_depth", p.confirmations,
	)

	streak := 0
	for {
		if err := p.poll(ctx); err != nil {
			metrics.PollErrorsTotal.Inc()
			decision := retry.Classify(err)
			if decision.IsTransient() {
				streak++
				p.logger.Warn("poll failed, backing off",
					"error", err, "reason", decision.Reason,
					"next_poll_in", p.nextDelay(streak))
			} else {
				streak = 0
				p.logger.Error("poll failed",
					"error", err, "reason", decision.Reason)
			}
		} else {
			streak = 0
		}

		timer := time.NewTimer(p.nextDelay(streak))
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextDelay doubles the poll interval per consecutive transient
// failure, capped at maxBackoffFactor times the base interval. A zero
// streak is the base interval.
func (p *Poller) nextDelay(streak int) time.Duration {
	max := p.interval * maxBackoffFactor
	d := p.interval
	for i := 0; i < streak && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

func (p *Poller) poll(ctx context.Context) error {
	metrics.PollTicksTotal.Inc()

	tip, err := p.client.TipHeight(ctx)
	if err != nil {
		return fmt.Errorf("poll: tip height: %w", err)
	}
	metrics.RemoteTipHeight.Set(float64(tip))

	snap := p.tracker.HeightSnapshot()
	budget := p.maxPerTick

	// Soft pass: stream every block we have not seen yet.
	for h := snap.Soft + 1; h <= tip && budget > 0; h++ {
		if err := p.emitMicroblock(ctx, h); err != nil {
			return err
		}
		budget--
	}

	// Hard pass: anchor blocks buried under enough confirmations.
	confirmed := tip - p.confirmations
	for h := snap.Hard + 1; h <= confirmed && budget > 0; h++ {
		if err := p.emitBurnBlock(ctx, h); err != nil {
			return err
		}
		budget--
	}

	metrics.IngestLagBlocks.Set(float64(tip - p.tracker.HeightSnapshot().Hard))
	return nil
}

func (p *Poller) emitMicroblock(ctx context.Context, height int64) error {
	blk, txs, err := p.fetch(ctx, height)
	if err != nil {
		return err
	}
	return p.tracker.Ingest(ctx, event.Microblock{
		Hash:       blk.Hash,
		Height:     blk.Height,
		ParentHash: blk.ParentHash,
		Txs:        txs,
		Time:       blk.Time,
	})
}

func (p *Poller) emitBurnBlock(ctx context.Context, height int64) error {
	blk, txs, err := p.fetch(ctx, height)
	if err != nil {
		return err
	}
	if blk.BurnBlockHash == "" {
		// Without an anchor hash the block cannot be recorded as a burn
		// event; leave the hard height where it is.
		return retry.Terminal(fmt.Errorf("poll: block %d has no burn block hash", height))
	}
	return p.tracker.Ingest(ctx, event.BurnBlock{
		Hash:   blk.BurnBlockHash,
		Height: blk.Height,
		Txs:    txs,
		Time:   blk.Time,
	})
}

func (p *Poller) fetch(ctx context.Context, height int64) (*chain.Block, []event.TxRef, error) {
	blk, err := p.client.BlockByHeight(ctx, height)
	if err != nil {
		return nil, nil, fmt.Errorf("poll: block %d: %w", height, err)
	}

	txs, err := p.client.TransactionsByHeight(ctx, height)
	if err != nil {
		return nil, nil, fmt.Errorf("poll: transactions at %d: %w", height, err)
	}

	refs := make([]event.TxRef, 0, len(txs))
	for _, tx := range txs {
		refs = append(refs, event.TxRef{TxID: tx.TxID, Sender: tx.Sender, Payload: tx.Payload})
	}
	return blk, refs, nil
}
