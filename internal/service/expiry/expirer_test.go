package expiry_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/service/expiry"
)

// fakeStore mirrors the expiry UPDATE's semantics: only live proposals
// whose deadline (sent_at falling back to proposed_at, plus the TTL) has
// passed are expired, so a second sweep over the same data is a no-op.
type fakeStore struct {
	mu         sync.Mutex
	proposals  map[uuid.UUID]model.AssignmentProposal
	orgTTL     map[uuid.UUID]int // per-org configured TTL in minutes
	notified   []string
	sweepCalls chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		proposals:  make(map[uuid.UUID]model.AssignmentProposal),
		orgTTL:     make(map[uuid.UUID]int),
		sweepCalls: make(chan struct{}, 16),
	}
}

func (f *fakeStore) ExpireStaleProposals(_ context.Context, defaultTTLMinutes int, now time.Time) ([]model.AssignmentProposal, error) {
	select {
	case f.sweepCalls <- struct{}{}:
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AssignmentProposal
	for id, p := range f.proposals {
		if !p.ProposalStatus.Respondable() {
			continue
		}
		ttl := defaultTTLMinutes
		if t, ok := f.orgTTL[p.OrganizationID]; ok {
			ttl = t
		}
		ref := p.ProposedAt
		if p.SentAt != nil {
			ref = *p.SentAt
		}
		if !ref.Add(time.Duration(ttl) * time.Minute).Before(now) {
			continue
		}
		p.ProposalStatus = model.ProposalStatusExpired
		at := now
		p.ExpiredAt = &at
		f.proposals[id] = p
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) Notify(_ context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, channel+" "+payload)
	return nil
}

func (f *fakeStore) status(id uuid.UUID) model.ProposalStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proposals[id].ProposalStatus
}

func (f *fakeStore) addProposal(orgID uuid.UUID, proposedAt time.Time, sentAt *time.Time) model.AssignmentProposal {
	p := model.AssignmentProposal{
		ID:             uuid.New(),
		OpenShiftID:    uuid.New(),
		VisitID:        uuid.New(),
		CaregiverID:    uuid.New(),
		OrganizationID: orgID,
		MatchScore:     75,
		MatchQuality:   model.QualityGood,
		ProposalStatus: model.ProposalStatusPending,
		ProposedAt:     proposedAt,
		SentAt:         sentAt,
	}
	if sentAt != nil {
		p.ProposalStatus = model.ProposalStatusSent
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals[p.ID] = p
	return p
}

type fakeRecorder struct {
	mu   sync.Mutex
	rows []model.MatchHistory
}

func (r *fakeRecorder) Record(_ context.Context, h model.MatchHistory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, h)
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweepExpiresOverdueProposalsOnce(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	clk := clock.NewMock()
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clk.Set(start)

	orgID := uuid.New()
	overdue := store.addProposal(orgID, start, nil)
	fresh := store.addProposal(orgID, start.Add(60*time.Minute), nil)

	e := expiry.New(store, recorder, clk, testLogger(), time.Minute, 120*time.Minute)

	// One minute past the first proposal's deadline.
	clk.Add(121 * time.Minute)
	n, err := e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.ProposalStatusExpired, store.status(overdue.ID))
	assert.Equal(t, model.ProposalStatusPending, store.status(fresh.ID))

	require.Equal(t, 1, recorder.count())
	recorder.mu.Lock()
	row := recorder.rows[0]
	recorder.mu.Unlock()
	assert.Equal(t, model.OutcomeExpired, row.Outcome)
	require.NotNil(t, row.ProposalID)
	assert.Equal(t, overdue.ID, *row.ProposalID)
	require.NotNil(t, row.CaregiverID)
	assert.Equal(t, overdue.CaregiverID, *row.CaregiverID)

	store.mu.Lock()
	notified := len(store.notified)
	store.mu.Unlock()
	assert.Equal(t, 1, notified)

	// The second sweep finds nothing: expiry is idempotent.
	n, err = e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, recorder.count(), "no duplicate history rows")
}

func TestSweepHonorsConfiguredTTL(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	clk := clock.NewMock()
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clk.Set(start)

	shortOrg := uuid.New()
	store.orgTTL[shortOrg] = 30
	defaultOrg := uuid.New()

	shortLived := store.addProposal(shortOrg, start, nil)
	longLived := store.addProposal(defaultOrg, start, nil)

	e := expiry.New(store, recorder, clk, testLogger(), time.Minute, 120*time.Minute)

	clk.Add(31 * time.Minute)
	n, err := e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the short-TTL org's proposal is overdue")
	assert.Equal(t, model.ProposalStatusExpired, store.status(shortLived.ID))
	assert.Equal(t, model.ProposalStatusPending, store.status(longLived.ID))
}

func TestSweepCountsFromSentAt(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	clk := clock.NewMock()
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clk.Set(start)

	sentAt := start.Add(60 * time.Minute)
	p := store.addProposal(uuid.New(), start, &sentAt)

	e := expiry.New(store, recorder, clk, testLogger(), time.Minute, 120*time.Minute)

	// 121 minutes after proposed, but only 61 after sent: not yet due.
	clk.Add(121 * time.Minute)
	n, err := e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, model.ProposalStatusSent, store.status(p.ID))

	clk.Add(60 * time.Minute)
	n, err = e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.ProposalStatusExpired, store.status(p.ID))
}

func TestRunSweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))

	e := expiry.New(store, recorder, clk, testLogger(), time.Minute, 120*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Run performs one sweep before entering its ticker loop.
	select {
	case <-store.sweepCalls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate sweep on startup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
