package model

import "time"

// BlockKind identifies how a block was produced on the upstream chain.
type BlockKind string

const (
	// BlockKindMicroblock is a streamed block with soft (provisional) finality.
	BlockKindMicroblock BlockKind = "microblock"
	// BlockKindBurnBlock is an anchored block with hard (irreversible) finality.
	BlockKindBurnBlock BlockKind = "burn_block"
)

func (k BlockKind) String() string { return string(k) }

// Finality is the degree of irreversibility of an observed block.
type Finality string

const (
	FinalitySoft Finality = "soft"
	FinalityHard Finality = "hard"
)

func (f Finality) String() string { return string(f) }

// BlockRecord is the persisted projection of an observed chain event.
// Records are immutable once written: a microblock written with soft
// finality keeps that value forever, and hard finality for its
// transactions is derived from the tracked hard height instead of
// rewriting history.
type BlockRecord struct {
	Hash       string
	Height     int64
	Kind       BlockKind
	Finality   Finality
	ObservedAt time.Time
}

// FinalityForKind returns the finality a freshly observed block of the
// given kind is written with. Burn blocks are final by construction.
func FinalityForKind(kind BlockKind) Finality {
	if kind == BlockKindBurnBlock {
		return FinalityHard
	}
	return FinalitySoft
}

// HeightSnapshot is an atomic view of the tracked chain heights.
type HeightSnapshot struct {
	Soft int64
	Hard int64
}
