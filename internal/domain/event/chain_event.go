package event

import (
	"time"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

// ChainEvent is a block observed on the upstream chain. Delivery is
// at-least-once; consumers deduplicate by block hash.
type ChainEvent interface {
	BlockHash() string
	BlockHeight() int64
	Kind() model.BlockKind
}

// TxRef is a transaction carried inside a chain event.
type TxRef struct {
	TxID    string
	Sender  string
	Payload string
}

// Microblock is a streamed block with soft finality.
type Microblock struct {
	Hash       string
	Height     int64
	ParentHash string
	Txs        []TxRef
	Time       time.Time
}

func (m Microblock) BlockHash() string     { return m.Hash }
func (m Microblock) BlockHeight() int64    { return m.Height }
func (m Microblock) Kind() model.BlockKind { return model.BlockKindMicroblock }

// BurnBlock is an anchored block with hard finality. Ingesting it
// upgrades every tracked transaction at or below its height to hard.
type BurnBlock struct {
	Hash   string
	Height int64
	Txs    []TxRef
	Time   time.Time
}

func (b BurnBlock) BlockHash() string     { return b.Hash }
func (b BurnBlock) BlockHeight() int64    { return b.Height }
func (b BurnBlock) Kind() model.BlockKind { return model.BlockKindBurnBlock }
