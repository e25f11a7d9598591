package model

import "time"

// StateRoot is one entry of the append-only accumulator root history.
// Exactly one root is recorded per hard height at which the accumulator
// was recomputed; the current root is the latest by height.
type StateRoot struct {
	Height    int64
	RootHash  string
	CreatedAt time.Time
}
