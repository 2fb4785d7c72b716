package matching_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/storage"
)

// fakeStore is an in-memory matching.Store with the same transition
// semantics as the Postgres layer: status CAS on shifts, conditional
// proposal transitions, supersede-on-accept. Every method checks the
// context first so budget and cancellation tests behave like real queries.
type fakeStore struct {
	mu sync.Mutex

	shifts     map[uuid.UUID]model.OpenShift
	proposals  map[uuid.UUID]model.AssignmentProposal
	caregivers map[uuid.UUID]model.Caregiver
	visits     map[uuid.UUID]model.Visit
	configs    map[uuid.UUID]model.MatchingConfiguration
	profiles   map[uuid.UUID]model.CaregiverPreferenceProfile

	certs         map[uuid.UUID][]model.Certification
	weekHours     map[uuid.UUID]float64
	conflicts     map[uuid.UUID][]model.VisitInterval
	clientHistory map[uuid.UUID]storage.ClientHistory
	rejections    map[uuid.UUID]int

	notifications []string // marshalled payloads, in emit order

	// onListRoster runs inside ListActiveCaregiversByBranch, before the
	// context check. Tests use it to cancel or stall mid-attempt.
	onListRoster func(ctx context.Context)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		shifts:        make(map[uuid.UUID]model.OpenShift),
		proposals:     make(map[uuid.UUID]model.AssignmentProposal),
		caregivers:    make(map[uuid.UUID]model.Caregiver),
		visits:        make(map[uuid.UUID]model.Visit),
		configs:       make(map[uuid.UUID]model.MatchingConfiguration),
		profiles:      make(map[uuid.UUID]model.CaregiverPreferenceProfile),
		certs:         make(map[uuid.UUID][]model.Certification),
		weekHours:     make(map[uuid.UUID]float64),
		conflicts:     make(map[uuid.UUID][]model.VisitInterval),
		clientHistory: make(map[uuid.UUID]storage.ClientHistory),
		rejections:    make(map[uuid.UUID]int),
	}
}

func (f *fakeStore) GetShift(ctx context.Context, orgID, id uuid.UUID) (model.OpenShift, error) {
	if err := ctx.Err(); err != nil {
		return model.OpenShift{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[id]
	if !ok || s.OrganizationID != orgID {
		return model.OpenShift{}, model.NewNotFound("open shift", id.String())
	}
	return s, nil
}

func (f *fakeStore) BeginMatching(ctx context.Context, orgID, id uuid.UUID) (model.OpenShift, model.ShiftStatus, error) {
	if err := ctx.Err(); err != nil {
		return model.OpenShift{}, "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[id]
	if !ok || s.OrganizationID != orgID {
		return model.OpenShift{}, "", model.NewNotFound("open shift", id.String())
	}
	switch s.MatchingStatus {
	case model.ShiftStatusAssigned:
		return model.OpenShift{}, "", model.NewStateError("open shift", string(s.MatchingStatus), string(model.ShiftStatusMatching))
	case model.ShiftStatusMatching:
		return model.OpenShift{}, "", model.NewConcurrency("shift %s is already being matched", id)
	}
	prior := s.MatchingStatus
	s.MatchingStatus = model.ShiftStatusMatching
	s.MatchAttempts++
	f.shifts[id] = s
	return s, prior, nil
}

func (f *fakeStore) RevertMatching(ctx context.Context, id uuid.UUID, prior model.ShiftStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[id]
	if !ok || s.MatchingStatus != model.ShiftStatusMatching {
		return nil
	}
	s.MatchingStatus = prior
	f.shifts[id] = s
	return nil
}

func (f *fakeStore) CompleteMatching(ctx context.Context, id uuid.UUID, to model.ShiftStatus, at time.Time) (model.OpenShift, error) {
	if err := ctx.Err(); err != nil {
		return model.OpenShift{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[id]
	if !ok || s.MatchingStatus != model.ShiftStatusMatching {
		return model.OpenShift{}, model.NewConcurrency("shift %s changed state during matching", id)
	}
	s.MatchingStatus = to
	s.LastMatchedAt = &at
	f.shifts[id] = s
	return s, nil
}

func (f *fakeStore) MarkShiftProposed(ctx context.Context, id uuid.UUID) (model.OpenShift, error) {
	if err := ctx.Err(); err != nil {
		return model.OpenShift{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[id]
	if !ok || s.MatchingStatus != model.ShiftStatusMatched {
		return model.OpenShift{}, model.NewConcurrency("shift %s changed state during matching", id)
	}
	s.MatchingStatus = model.ShiftStatusProposed
	f.shifts[id] = s
	return s, nil
}

func (f *fakeStore) BrowseShiftsForCaregiver(ctx context.Context, orgID, branchID, caregiverID uuid.UUID, from, to time.Time) ([]model.OpenShift, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	open := map[model.ShiftStatus]bool{
		model.ShiftStatusNew:      true,
		model.ShiftStatusNoMatch:  true,
		model.ShiftStatusMatched:  true,
		model.ShiftStatusProposed: true,
	}
	var out []model.OpenShift
	for _, s := range f.shifts {
		if s.OrganizationID != orgID || s.BranchID != branchID || !open[s.MatchingStatus] {
			continue
		}
		if s.IsBlocked(caregiverID) {
			continue
		}
		if s.ScheduledDate.Before(from) || !s.ScheduledDate.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (f *fakeStore) CreateProposals(ctx context.Context, ps []model.AssignmentProposal, _ bool) ([]model.AssignmentProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	created := make([]model.AssignmentProposal, 0, len(ps))
	for _, p := range ps {
		for _, existing := range f.proposals {
			if existing.OpenShiftID == p.OpenShiftID && existing.CaregiverID == p.CaregiverID &&
				existing.ProposalStatus.Respondable() {
				return nil, model.NewConflict(
					"caregiver %s already has a live proposal for shift %s", p.CaregiverID, p.OpenShiftID)
			}
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.Version = 1
		f.proposals[p.ID] = p
		created = append(created, p)
	}
	return created, nil
}

func (f *fakeStore) GetProposal(ctx context.Context, orgID, id uuid.UUID) (model.AssignmentProposal, error) {
	if err := ctx.Err(); err != nil {
		return model.AssignmentProposal{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok || p.OrganizationID != orgID {
		return model.AssignmentProposal{}, model.NewNotFound("proposal", id.String())
	}
	return p, nil
}

func (f *fakeStore) MarkProposalSent(ctx context.Context, id uuid.UUID, method *string, at time.Time) (model.AssignmentProposal, error) {
	if err := ctx.Err(); err != nil {
		return model.AssignmentProposal{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return model.AssignmentProposal{}, model.NewNotFound("proposal", id.String())
	}
	if p.ProposalStatus != model.ProposalStatusPending {
		return model.AssignmentProposal{}, model.NewStateError("proposal", string(p.ProposalStatus), string(model.ProposalStatusSent))
	}
	p.ProposalStatus = model.ProposalStatusSent
	p.SentAt = &at
	p.SentToCaregiver = true
	p.NotificationMethod = method
	p.Version++
	f.proposals[id] = p
	return p, nil
}

func (f *fakeStore) AcceptProposal(ctx context.Context, orgID, id, acceptedBy uuid.UUID, responseMethod, notes *string, at time.Time) (model.AssignmentProposal, []uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return model.AssignmentProposal{}, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok || p.OrganizationID != orgID {
		return model.AssignmentProposal{}, nil, model.NewNotFound("proposal", id.String())
	}
	shift, ok := f.shifts[p.OpenShiftID]
	if !ok {
		return model.AssignmentProposal{}, nil, model.NewNotFound("open shift", p.OpenShiftID.String())
	}
	if shift.MatchingStatus == model.ShiftStatusAssigned {
		return model.AssignmentProposal{}, nil, model.NewConflict("shift %s is already assigned", shift.ID)
	}
	if !p.ProposalStatus.Respondable() {
		return model.AssignmentProposal{}, nil, model.NewStateError("proposal", string(p.ProposalStatus), string(model.ProposalStatusAccepted))
	}

	p.ProposalStatus = model.ProposalStatusAccepted
	p.RespondedAt = &at
	p.AcceptedAt = &at
	p.AcceptedBy = &acceptedBy
	p.ResponseMethod = responseMethod
	p.Notes = notes
	p.Version++
	f.proposals[id] = p

	var superseded []uuid.UUID
	for sid, sib := range f.proposals {
		if sid == id || sib.OpenShiftID != p.OpenShiftID || !sib.ProposalStatus.Respondable() {
			continue
		}
		sib.ProposalStatus = model.ProposalStatusSuperseded
		sib.Version++
		f.proposals[sid] = sib
		superseded = append(superseded, sid)
	}

	if v, ok := f.visits[p.VisitID]; ok {
		v.AssignedCaregiverID = &p.CaregiverID
		v.Status = model.VisitStatusScheduled
		f.visits[p.VisitID] = v
	}
	shift.MatchingStatus = model.ShiftStatusAssigned
	f.shifts[shift.ID] = shift
	return p, superseded, nil
}

func (f *fakeStore) RejectProposal(ctx context.Context, orgID, id, respondedBy uuid.UUID, reason *string, category *model.RejectionCategory, responseMethod, notes *string, at time.Time) (model.AssignmentProposal, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.AssignmentProposal{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok || p.OrganizationID != orgID {
		return model.AssignmentProposal{}, false, model.NewNotFound("proposal", id.String())
	}
	if !p.ProposalStatus.Respondable() {
		return model.AssignmentProposal{}, false, model.NewStateError("proposal", string(p.ProposalStatus), string(model.ProposalStatusRejected))
	}
	p.ProposalStatus = model.ProposalStatusRejected
	p.RespondedAt = &at
	p.RejectedAt = &at
	p.RejectionReason = reason
	p.RejectionCategory = category
	p.ResponseMethod = responseMethod
	p.Notes = notes
	p.Version++
	f.proposals[id] = p

	liveLeft := 0
	for _, sib := range f.proposals {
		if sib.OpenShiftID == p.OpenShiftID && sib.ProposalStatus.Respondable() {
			liveLeft++
		}
	}
	reverted := false
	if liveLeft == 0 {
		if s, ok := f.shifts[p.OpenShiftID]; ok && s.MatchingStatus == model.ShiftStatusProposed {
			s.MatchingStatus = model.ShiftStatusMatched
			f.shifts[s.ID] = s
			reverted = true
		}
	}
	return p, reverted, nil
}

func (f *fakeStore) GetConfiguration(ctx context.Context, orgID, id uuid.UUID) (model.MatchingConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return model.MatchingConfiguration{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[id]
	if !ok || cfg.OrganizationID != orgID {
		return model.MatchingConfiguration{}, model.NewNotFound("matching configuration", id.String())
	}
	return cfg, nil
}

func (f *fakeStore) ResolveConfiguration(ctx context.Context, orgID uuid.UUID, branchID uuid.UUID) (model.MatchingConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return model.MatchingConfiguration{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var orgWide *model.MatchingConfiguration
	for _, cfg := range f.configs {
		if cfg.OrganizationID != orgID || !cfg.IsDefault || !cfg.IsActive {
			continue
		}
		if cfg.BranchID != nil && *cfg.BranchID == branchID {
			return cfg, nil
		}
		if cfg.BranchID == nil {
			c := cfg
			orgWide = &c
		}
	}
	if orgWide != nil {
		return *orgWide, nil
	}
	return model.MatchingConfiguration{}, model.NewNotFound("matching configuration", orgID.String())
}

func (f *fakeStore) GetPreferenceProfile(ctx context.Context, orgID, caregiverID uuid.UUID) (model.CaregiverPreferenceProfile, error) {
	if err := ctx.Err(); err != nil {
		return model.CaregiverPreferenceProfile{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[caregiverID]
	if !ok || p.OrganizationID != orgID {
		return model.CaregiverPreferenceProfile{}, model.NewNotFound("preference profile", caregiverID.String())
	}
	return p, nil
}

func (f *fakeStore) Notify(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, channel+" "+payload)
	return nil
}

func (f *fakeStore) GetCaregiver(ctx context.Context, orgID, id uuid.UUID) (model.Caregiver, error) {
	if err := ctx.Err(); err != nil {
		return model.Caregiver{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.caregivers[id]
	if !ok || c.OrganizationID != orgID {
		return model.Caregiver{}, model.NewNotFound("caregiver", id.String())
	}
	return c, nil
}

func (f *fakeStore) ListActiveCaregiversByBranch(ctx context.Context, orgID, branchID uuid.UUID, exclude []uuid.UUID) ([]model.Caregiver, error) {
	if f.onListRoster != nil {
		f.onListRoster(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	excluded := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []model.Caregiver
	for _, c := range f.caregivers {
		if c.OrganizationID != orgID || c.BranchID != branchID || !c.Active || excluded[c.ID] {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeStore) CertificationsByCaregiver(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.Certification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID][]model.Certification)
	for _, id := range ids {
		if cs, ok := f.certs[id]; ok {
			out[id] = cs
		}
	}
	return out, nil
}

func (f *fakeStore) WeeklyHoursByCaregiver(ctx context.Context, ids []uuid.UUID, _, _ time.Time) (map[uuid.UUID]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]float64)
	for _, id := range ids {
		if h, ok := f.weekHours[id]; ok {
			out[id] = h
		}
	}
	return out, nil
}

func (f *fakeStore) ConflictingVisitsByCaregiver(ctx context.Context, ids []uuid.UUID, _ time.Time, _, _ string) (map[uuid.UUID][]model.VisitInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID][]model.VisitInterval)
	for _, id := range ids {
		if vs, ok := f.conflicts[id]; ok {
			out[id] = vs
		}
	}
	return out, nil
}

func (f *fakeStore) ClientHistoryByCaregiver(ctx context.Context, ids []uuid.UUID, _ uuid.UUID) (map[uuid.UUID]storage.ClientHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]storage.ClientHistory)
	for _, id := range ids {
		if h, ok := f.clientHistory[id]; ok {
			out[id] = h
		}
	}
	return out, nil
}

func (f *fakeStore) RecentRejectionCountsByCaregiver(ctx context.Context, ids []uuid.UUID, _ time.Time) (map[uuid.UUID]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]int)
	for _, id := range ids {
		if n, ok := f.rejections[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (f *fakeStore) shiftStatus(id uuid.UUID) model.ShiftStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shifts[id].MatchingStatus
}

func (f *fakeStore) proposalByID(id uuid.UUID) model.AssignmentProposal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proposals[id]
}

func (f *fakeStore) proposalsForShift(shiftID uuid.UUID) []model.AssignmentProposal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AssignmentProposal
	for _, p := range f.proposals {
		if p.OpenShiftID == shiftID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchScore > out[j].MatchScore })
	return out
}

// fakeRecorder collects history rows synchronously.
type fakeRecorder struct {
	mu   sync.Mutex
	rows []model.MatchHistory
}

func (r *fakeRecorder) Record(_ context.Context, h model.MatchHistory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, h)
}

func (r *fakeRecorder) byOutcome(outcome model.MatchOutcome) []model.MatchHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.MatchHistory
	for _, h := range r.rows {
		if h.Outcome == outcome {
			out = append(out, h)
		}
	}
	return out
}

// fakeNotifier delivers offers in memory, optionally failing.
type fakeNotifier struct {
	mu     sync.Mutex
	sent   []uuid.UUID
	failWith error
}

func (n *fakeNotifier) SendProposalOffer(_ context.Context, p model.AssignmentProposal) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return "", n.failWith
	}
	n.sent = append(n.sent, p.ID)
	return "SMS", nil
}
