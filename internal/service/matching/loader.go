package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/musubi/internal/match"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/storage"
)

// rejectionWindow is how far back recent rejections count against the
// reliability dimension.
const rejectionWindow = 30 * 24 * time.Hour

// DistanceFunc computes miles between two coordinate pairs. The default is
// haversine; embedders swap in a routing-aware implementation.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

// CandidateSource is the read surface the loader batches against. Every
// lookup takes the full candidate ID set so one shift costs a fixed number
// of queries regardless of roster size.
type CandidateSource interface {
	GetCaregiver(ctx context.Context, orgID, id uuid.UUID) (model.Caregiver, error)
	ListActiveCaregiversByBranch(ctx context.Context, orgID, branchID uuid.UUID, exclude []uuid.UUID) ([]model.Caregiver, error)
	CertificationsByCaregiver(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.Certification, error)
	WeeklyHoursByCaregiver(ctx context.Context, ids []uuid.UUID, weekStart, weekEnd time.Time) (map[uuid.UUID]float64, error)
	ConflictingVisitsByCaregiver(ctx context.Context, ids []uuid.UUID, date time.Time, startTime, endTime string) (map[uuid.UUID][]model.VisitInterval, error)
	ClientHistoryByCaregiver(ctx context.Context, ids []uuid.UUID, clientID uuid.UUID) (map[uuid.UUID]storage.ClientHistory, error)
	RecentRejectionCountsByCaregiver(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID]int, error)
}

// CandidateLoader assembles per-(caregiver, shift) evaluation contexts.
type CandidateLoader struct {
	src      CandidateSource
	distance DistanceFunc
	logger   *slog.Logger
}

// NewCandidateLoader creates a loader over src.
func NewCandidateLoader(src CandidateSource, distance DistanceFunc, logger *slog.Logger) *CandidateLoader {
	if distance == nil {
		distance = match.Haversine
	}
	return &CandidateLoader{src: src, distance: distance, logger: logger}
}

// Load fetches the shift's branch roster, drops caregivers the client has
// blocked, and assembles contexts for the remainder.
func (l *CandidateLoader) Load(ctx context.Context, shift *model.OpenShift, now time.Time) ([]model.CaregiverContext, error) {
	roster, err := l.src.ListActiveCaregiversByBranch(ctx, shift.OrganizationID, shift.BranchID, shift.BlockedCaregivers)
	if err != nil {
		return nil, model.NewDataPortError("list branch roster", err)
	}
	return l.Contexts(ctx, shift, roster, now)
}

// Contexts runs the five batched lookups for the given caregivers in
// parallel and joins the results into evaluation contexts. The output
// preserves roster order.
func (l *CandidateLoader) Contexts(ctx context.Context, shift *model.OpenShift, roster []model.Caregiver, now time.Time) ([]model.CaregiverContext, error) {
	if len(roster) == 0 {
		return []model.CaregiverContext{}, nil
	}

	ids := make([]uuid.UUID, len(roster))
	for i, c := range roster {
		ids[i] = c.ID
	}
	weekStart, weekEnd := weekBounds(shift.ScheduledDate)

	var (
		certs      map[uuid.UUID][]model.Certification
		hours      map[uuid.UUID]float64
		conflicts  map[uuid.UUID][]model.VisitInterval
		history    map[uuid.UUID]storage.ClientHistory
		rejections map[uuid.UUID]int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if certs, err = l.src.CertificationsByCaregiver(gctx, ids); err != nil {
			return model.NewDataPortError("batch certifications", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if hours, err = l.src.WeeklyHoursByCaregiver(gctx, ids, weekStart, weekEnd); err != nil {
			return model.NewDataPortError("batch weekly hours", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if conflicts, err = l.src.ConflictingVisitsByCaregiver(gctx, ids, shift.ScheduledDate, shift.StartTime, shift.EndTime); err != nil {
			return model.NewDataPortError("batch visit conflicts", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if history, err = l.src.ClientHistoryByCaregiver(gctx, ids, shift.ClientID); err != nil {
			return model.NewDataPortError("batch client history", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if rejections, err = l.src.RecentRejectionCountsByCaregiver(gctx, ids, now.Add(-rejectionWindow)); err != nil {
			return model.NewDataPortError("batch rejection counts", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	contexts := make([]model.CaregiverContext, 0, len(roster))
	for _, c := range roster {
		cc := model.CaregiverContext{
			CaregiverID:          c.ID,
			FirstName:            c.FirstName,
			LastName:             c.LastName,
			EmploymentType:       c.EmploymentType,
			BranchID:             c.BranchID,
			Gender:               c.Gender,
			Languages:            c.Languages,
			Skills:               c.Skills,
			Certifications:       certs[c.ID],
			ComplianceStatus:     c.ComplianceStatus,
			MaxHoursPerWeek:      c.MaxHoursPerWeek,
			Latitude:             c.Latitude,
			Longitude:            c.Longitude,
			CurrentWeekHours:     hours[c.ID],
			ConflictingVisits:    conflicts[c.ID],
			ReliabilityScore:     c.ReliabilityScore,
			RecentRejectionCount: rejections[c.ID],
		}
		if h, ok := history[c.ID]; ok {
			cc.PreviousVisitsWithClient = h.Visits
			cc.ClientRating = h.AvgRating
		}
		if shift.Latitude != nil && shift.Longitude != nil && c.Latitude != nil && c.Longitude != nil {
			cc.DistanceFromShift = l.distance(*c.Latitude, *c.Longitude, *shift.Latitude, *shift.Longitude)
		}
		contexts = append(contexts, cc)
	}
	return contexts, nil
}

// weekBounds returns the Monday 00:00 UTC start and following Monday for
// the week containing day. Weekly capacity accrues Monday through Sunday.
func weekBounds(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}
