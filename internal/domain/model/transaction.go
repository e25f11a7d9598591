package model

import "time"

// TransactionRecord is a transaction observed on the upstream chain.
// FirstSeenAt is assigned exactly once, at first ingestion, and is the
// fairness anchor consulted by the sequencer. Later events referencing
// the same tx id never move it.
type TransactionRecord struct {
	TxID        string
	BlockHash   string
	Sender      string
	Payload     string
	FirstSeenAt time.Time
}
