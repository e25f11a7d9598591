package sequencer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/metrics"
)

// ExecutionRequest is a candidate transaction submitted for internal
// execution against a named resource.
type ExecutionRequest struct {
	ID          uuid.UUID `json:"id"`
	TxID        string    `json:"tx_id"`
	Resource    string    `json:"resource"`
	Sender      string    `json:"sender"`
	Payload     string    `json:"payload"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FirstSeenIndex is the tracker's first-seen read surface.
type FirstSeenIndex interface {
	FirstSeen(txID string) (time.Time, bool)
}

type claim struct {
	txID      string
	firstSeen time.Time
}

// Sequencer arbitrates execution requests under the first-seen-on-chain
// fairness rule. It is the sole arbiter: validation is sequential per
// instance, so the same request sequence always produces the same
// outcomes. Every outcome, acceptance or rejection, is counted.
type Sequencer struct {
	index  FirstSeenIndex
	logger *slog.Logger

	mu       sync.Mutex
	claims   map[string]claim
	accepted map[string]struct{}
}

type Option func(*Sequencer)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = l.With("component", "sequencer") }
}

func New(index FirstSeenIndex, opts ...Option) *Sequencer {
	s := &Sequencer{
		index:    index,
		logger:   slog.Default().With("component", "sequencer"),
		claims:   make(map[string]claim),
		accepted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate decides whether req may execute. Checks are applied in a
// fixed order so outcomes are deterministic:
//
//  1. a transaction that was already accepted is a duplicate;
//  2. a transaction never observed on chain has no fairness anchor;
//  3. a claimed submission time before the anchor is stale;
//  4. a resource with a pending claim belongs to the earlier-observed
//     holder until released.
//
// An accepted request claims its resource until Release is called.
func (s *Sequencer) Validate(req ExecutionRequest) model.Outcome {
	outcome := s.validate(req)

	metrics.SequencerOutcomesTotal.WithLabelValues(outcome.Kind()).Inc()
	if outcome.Accepted {
		s.logger.Info("execution request accepted",
			"request_id", req.ID,
			"tx_id", req.TxID,
			"resource", req.Resource,
		)
	} else {
		s.logger.Warn("execution request rejected",
			"request_id", req.ID,
			"tx_id", req.TxID,
			"resource", req.Resource,
			"reason", outcome.Reason.String(),
		)
	}
	return outcome
}

func (s *Sequencer) validate(req ExecutionRequest) model.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.accepted[req.TxID]; dup {
		return model.Reject(model.RejectDuplicateSubmission)
	}

	firstSeen, ok := s.index.FirstSeen(req.TxID)
	if !ok {
		return model.Reject(model.RejectNoFirstSeenRecord)
	}

	if req.SubmittedAt.Before(firstSeen) {
		return model.Reject(model.RejectStaleOrdering)
	}

	if _, held := s.claims[req.Resource]; held {
		return model.Reject(model.RejectConflictingPriorClaim)
	}

	s.claims[req.Resource] = claim{txID: req.TxID, firstSeen: firstSeen}
	s.accepted[req.TxID] = struct{}{}
	return model.Accept()
}

// Release completes the pending claim on resource, held by txID. It
// reports whether a claim was actually released. A released transaction
// stays in the accepted set, so resubmitting it is still a duplicate.
func (s *Sequencer) Release(resource, txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, held := s.claims[resource]
	if !held || c.txID != txID {
		return false
	}
	delete(s.claims, resource)
	return true
}

// PendingClaims returns the number of resources currently claimed.
func (s *Sequencer) PendingClaims() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}
