package safety

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

type fixedHeights struct {
	hard int64
}

func (f *fixedHeights) HeightSnapshot() model.HeightSnapshot {
	return model.HeightSnapshot{Soft: f.hard, Hard: f.hard}
}

type scriptedRemote struct {
	mu      sync.Mutex
	heights []int64
	errs    []error
	calls   int
}

func (r *scriptedRemote) TipHeight(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return 0, r.errs[i]
	}
	if i < len(r.heights) {
		return r.heights[i], nil
	}
	return r.heights[len(r.heights)-1], nil
}

type recordedStatus struct {
	mu     sync.Mutex
	states []model.SafetyStatus
	drifts []int64
}

func (p *recordedStatus) PublishSafetyStatus(_ context.Context, s model.SafetyStatus, drift int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
	p.drifts = append(p.drifts, drift)
	return nil
}

func TestDecideTransitions(t *testing.T) {
	t.Parallel()

	normal, safety := model.SafetyStatusNormal, model.SafetyStatusSafety

	tests := []struct {
		name       string
		status     model.SafetyStatus
		streak     int
		drift      int64
		wantStatus model.SafetyStatus
		wantStreak int
	}{
		{"normal stays within threshold", normal, 0, 2, normal, 0},
		{"normal enters on excess drift", normal, 0, 3, safety, 0},
		{"negative drift is fine", normal, 0, -1, normal, 0},
		{"safety holds below recovery count", safety, 0, 1, safety, 1},
		{"safety second good sample", safety, 1, 0, safety, 2},
		{"safety recovers on third good sample", safety, 2, 2, normal, 0},
		{"excess drift resets the streak", safety, 2, 5, safety, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, streak := decide(tt.status, tt.streak, tt.drift, DefaultDriftThreshold, DefaultRecoverySamples)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantStreak, streak)
		})
	}
}

func TestDriftAboveThresholdEntersSafetyMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	local := &fixedHeights{hard: 100}
	remote := &scriptedRemote{heights: []int64{103}}
	m := New(local, remote)

	m.Sample(ctx)

	assert.Equal(t, model.SafetyStatusSafety, m.Status())
	assert.True(t, m.DirectWithdrawalEnabled())
	drift, known := m.Drift()
	assert.True(t, known)
	assert.Equal(t, int64(3), drift)
	assert.False(t, m.LastTransition().IsZero())
}

func TestDriftAtThresholdStaysNormal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	local := &fixedHeights{hard: 100}
	remote := &scriptedRemote{heights: []int64{102}}
	m := New(local, remote)

	m.Sample(ctx)

	assert.Equal(t, model.SafetyStatusNormal, m.Status())
	assert.False(t, m.DirectWithdrawalEnabled())
}

func TestRecoveryRequiresConsecutiveSamples(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	local := &fixedHeights{hard: 100}
	// Enter on drift 5, then two good samples, one bad sample resetting
	// the streak, then three consecutive good samples recover.
	remote := &scriptedRemote{heights: []int64{105, 101, 101, 105, 101, 101, 101}}
	m := New(local, remote, WithRecoverySamples(3))

	m.Sample(ctx)
	require.Equal(t, model.SafetyStatusSafety, m.Status())

	m.Sample(ctx)
	m.Sample(ctx)
	require.Equal(t, model.SafetyStatusSafety, m.Status(), "two good samples are not enough")

	m.Sample(ctx)
	require.Equal(t, model.SafetyStatusSafety, m.Status(), "a bad sample resets the streak")

	m.Sample(ctx)
	m.Sample(ctx)
	require.Equal(t, model.SafetyStatusSafety, m.Status())
	m.Sample(ctx)
	assert.Equal(t, model.SafetyStatusNormal, m.Status(), "three consecutive good samples recover")
}

func TestRemoteFailureIsUnknownDriftNotMaximalDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	local := &fixedHeights{hard: 100}
	remote := &scriptedRemote{
		heights: []int64{101, 0, 0},
		errs:    []error{nil, errors.New("timeout"), errors.New("timeout")},
	}
	m := New(local, remote)

	m.Sample(ctx)
	require.Equal(t, model.SafetyStatusNormal, m.Status())
	_, known := m.Drift()
	require.True(t, known)

	m.Sample(ctx)
	m.Sample(ctx)

	assert.Equal(t, model.SafetyStatusNormal, m.Status(), "failures must not change the status")
	_, known = m.Drift()
	assert.False(t, known)
	assert.Len(t, m.RecentSamples(), 1, "no sample is recorded on failure")
}

func TestRepeatedFailuresSurfaceAsDegraded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	errScript := []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}
	remote := &scriptedRemote{heights: []int64{0, 0, 0, 101}, errs: errScript}
	m := New(&fixedHeights{hard: 100}, remote)

	m.Sample(ctx)
	m.Sample(ctx)
	assert.False(t, m.Degraded())

	m.Sample(ctx)
	assert.True(t, m.Degraded())

	// A successful sample clears the failure count.
	m.Sample(ctx)
	assert.False(t, m.Degraded())
}

func TestTransitionsAreBroadcast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pub := &recordedStatus{}
	remote := &scriptedRemote{heights: []int64{110, 100, 100, 100}}
	m := New(&fixedHeights{hard: 100}, remote,
		WithStatusPublisher(pub),
		WithRecoverySamples(3),
	)

	for i := 0; i < 4; i++ {
		m.Sample(ctx)
	}

	require.Len(t, pub.states, 2, "exactly one broadcast per transition")
	assert.Equal(t, model.SafetyStatusSafety, pub.states[0])
	assert.Equal(t, int64(10), pub.drifts[0])
	assert.Equal(t, model.SafetyStatusNormal, pub.states[1])
}

func TestSamplesAreRetainedBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := &scriptedRemote{heights: []int64{100}}
	m := New(&fixedHeights{hard: 100}, remote)

	for i := 0; i < sampleHistorySize+10; i++ {
		m.Sample(ctx)
	}
	assert.Len(t, m.RecentSamples(), sampleHistorySize)
}
