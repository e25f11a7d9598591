package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// ZeroRoot is the root of an empty accumulator.
const ZeroRoot = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ErrNotFound is returned when a proof is requested for a transaction
// that is not in the accumulator.
var ErrNotFound = errors.New("transaction not in accumulator")

// Step is one level of an inclusion proof. Left reports whether the
// node being proven is the left child at this level, i.e. the sibling
// hash goes on the right when recomputing.
type Step struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

// Proof is a sibling-hash path from a leaf to a root.
type Proof struct {
	Leaf string `json:"leaf"`
	Path []Step `json:"path"`
	Root string `json:"root"`
}

// Accumulator is a binary hash tree over an ordered sequence of
// transaction ids. Leaves hash as SHA-256(tx_id), internal nodes as
// SHA-256(left || right), and an odd node at any level is paired with
// itself. The tree is a pure function of the leaf sequence: rebuilding
// from the same persisted order reproduces the root bit for bit.
type Accumulator struct {
	mu     sync.RWMutex
	leaves []string
	index  map[string]int
	root   string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		index: make(map[string]int),
		root:  ZeroRoot,
	}
}

// Reset replaces the leaf sequence wholesale, used on startup to replay
// the persisted ingestion order. Returns the resulting root.
func (a *Accumulator) Reset(leaves []string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.leaves = make([]string, 0, len(leaves))
	a.index = make(map[string]int, len(leaves))
	for _, leaf := range leaves {
		if _, dup := a.index[leaf]; dup {
			continue
		}
		a.index[leaf] = len(a.leaves)
		a.leaves = append(a.leaves, leaf)
	}
	a.root = rootHex(a.leaves)
	return a.root
}

// Append incorporates newly finalized transaction ids in order and
// recomputes the root once. Ids already present are skipped, keeping
// the operation idempotent under re-delivered finality events.
func (a *Accumulator) Append(txIDs ...string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	appended := false
	for _, id := range txIDs {
		if _, dup := a.index[id]; dup {
			continue
		}
		a.index[id] = len(a.leaves)
		a.leaves = append(a.leaves, id)
		appended = true
	}
	if appended {
		a.root = rootHex(a.leaves)
	}
	return a.root
}

// Root returns the current root.
func (a *Accumulator) Root() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.root
}

// Size returns the number of leaves.
func (a *Accumulator) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.leaves)
}

// Contains reports whether txID is a leaf.
func (a *Accumulator) Contains(txID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.index[txID]
	return ok
}

// Prove returns the sibling path from txID's leaf to the current root.
func (a *Accumulator) Prove(txID string) (*Proof, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx, ok := a.index[txID]
	if !ok {
		return nil, ErrNotFound
	}

	level := leafHashes(a.leaves)
	var path []Step

	for len(level) > 1 {
		siblingIdx := idx ^ 1
		if siblingIdx >= len(level) {
			// Odd node at the end of the level pairs with itself.
			siblingIdx = idx
		}
		path = append(path, Step{
			Sibling: hashHex(level[siblingIdx]),
			Left:    idx%2 == 0,
		})
		level = nextLevel(level)
		idx /= 2
	}

	return &Proof{Leaf: txID, Path: path, Root: a.root}, nil
}

// Verify recomputes the path for txID hash by hash and compares the
// result to root. Any corruption of the id, the path, or the root makes
// it return false.
func Verify(txID string, proof *Proof, root string) bool {
	if proof == nil || txID == "" {
		return false
	}

	current := sha256.Sum256([]byte(txID))
	for _, step := range proof.Path {
		sibling, err := decodeHash(step.Sibling)
		if err != nil {
			return false
		}
		if step.Left {
			current = sha256.Sum256(append(current[:], sibling[:]...))
		} else {
			current = sha256.Sum256(append(sibling[:], current[:]...))
		}
	}
	return hashHex(current) == root
}

func leafHashes(leaves []string) [][32]byte {
	level := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = sha256.Sum256([]byte(leaf))
	}
	return level
}

func nextLevel(level [][32]byte) [][32]byte {
	next := make([][32]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, sha256.Sum256(append(left[:], right[:]...)))
	}
	return next
}

func rootHex(leaves []string) string {
	if len(leaves) == 0 {
		return ZeroRoot
	}
	level := leafHashes(leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return hashHex(level[0])
}

func hashHex(h [32]byte) string {
	return "0x" + hex.EncodeToString(h[:])
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, errors.New("hash must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}
