// Package leads serves persisted leads to their owners: listing, workflow
// updates, bulk fake-lead cleanup, export, and dashboard statistics.
package leads

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/store"
)

// Listing and dashboard constants.
const (
	ListLimit      = 100
	HotLeadScore   = 70
	RecentJobs     = 5
	ActivityWindow = 7 * 24 * time.Hour

	// AllTypes disables the lead type filter in List.
	AllTypes = "ALL"
)

// Errors returned for malformed requests.
var (
	ErrInvalidLeadType = eris.New("leads: invalid lead type")
	ErrEmptyUpdate     = eris.New("leads: update has no fields")
)

// FakeDetector re-classifies persisted leads.
type FakeDetector interface {
	Match(name, address, website string) (string, bool)
}

// Service implements the lead utilities on top of a store.
type Service struct {
	store store.Store
	fake  FakeDetector
	now   func() time.Time
}

// New creates a Service.
func New(st store.Store, fake FakeDetector) *Service {
	return &Service{store: st, fake: fake, now: time.Now}
}

// FakeSample identifies one lead flagged as fake.
type FakeSample struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Website string `json:"website,omitempty"`
	Rule    string `json:"rule"`
}

// FakeReport is the result of re-classifying an owner's leads.
type FakeReport struct {
	FakeCount   int          `json:"fakeLeadsCount"`
	TotalCount  int          `json:"totalLeads"`
	FakeSamples []FakeSample `json:"fakeLeads"`
}

// RemoveResult is the result of deleting an owner's fake leads.
type RemoveResult struct {
	DeletedCount   int `json:"deletedCount"`
	RemainingCount int `json:"remainingLeads"`
}

// ClassifyFakeLeads re-applies the fake-lead rules to every lead owned by
// owner. Leads are not modified.
func (s *Service) ClassifyFakeLeads(ctx context.Context, owner string) (*FakeReport, error) {
	all, err := s.store.ListLeads(ctx, model.LeadFilter{UserID: owner})
	if err != nil {
		return nil, eris.Wrap(err, "leads: list for classification")
	}

	report := &FakeReport{TotalCount: len(all), FakeSamples: []FakeSample{}}
	for _, l := range all {
		rule, ok := s.fake.Match(l.Name, l.Address, l.Website)
		if !ok {
			continue
		}
		report.FakeSamples = append(report.FakeSamples, FakeSample{
			ID:      l.ID,
			Name:    l.Name,
			Address: l.Address,
			Website: l.Website,
			Rule:    rule,
		})
	}
	report.FakeCount = len(report.FakeSamples)
	return report, nil
}

// RemoveFakeLeads deletes every lead owned by owner that the fake-lead
// rules flag.
func (s *Service) RemoveFakeLeads(ctx context.Context, owner string) (*RemoveResult, error) {
	report, err := s.ClassifyFakeLeads(ctx, owner)
	if err != nil {
		return nil, err
	}
	if report.FakeCount == 0 {
		return &RemoveResult{RemainingCount: report.TotalCount}, nil
	}

	ids := make([]string, len(report.FakeSamples))
	for i, f := range report.FakeSamples {
		ids[i] = f.ID
	}
	deleted, err := s.store.DeleteLeads(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "leads: delete fake leads")
	}

	zap.L().Info("leads: removed fake leads",
		zap.String("owner", owner),
		zap.Int("deleted", deleted),
		zap.Int("total", report.TotalCount),
	)
	return &RemoveResult{DeletedCount: deleted, RemainingCount: report.TotalCount - deleted}, nil
}

// ParseLeadType validates a lead type filter. Empty and "ALL" yield the
// zero LeadType, which does not filter.
func ParseLeadType(s string) (model.LeadType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "", AllTypes:
		return "", nil
	case string(model.LeadTypeHot), string(model.LeadTypeWarm), string(model.LeadTypeCold):
		return model.LeadType(s), nil
	}
	return "", eris.Wrapf(ErrInvalidLeadType, "%q", s)
}

// List returns up to ListLimit of owner's leads, highest score first.
func (s *Service) List(ctx context.Context, owner, leadType string) ([]model.Lead, error) {
	lt, err := ParseLeadType(leadType)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListLeads(ctx, model.LeadFilter{UserID: owner, LeadType: lt, Limit: ListLimit})
	if err != nil {
		return nil, eris.Wrap(err, "leads: list")
	}
	return out, nil
}

// Export returns all of owner's leads, highest score first.
func (s *Service) Export(ctx context.Context, owner string) ([]model.Lead, error) {
	out, err := s.store.ListLeads(ctx, model.LeadFilter{UserID: owner})
	if err != nil {
		return nil, eris.Wrap(err, "leads: export")
	}
	return out, nil
}

// UpdateWorkflow changes the sales-workflow fields of one of owner's
// leads. A lead owned by someone else is reported as not found.
func (s *Service) UpdateWorkflow(ctx context.Context, owner, leadID string, upd store.LeadWorkflowUpdate) (*model.Lead, error) {
	if upd.Empty() {
		return nil, ErrEmptyUpdate
	}
	if upd.Status != nil {
		trimmed := strings.TrimSpace(*upd.Status)
		if trimmed == "" {
			return nil, eris.Wrap(ErrEmptyUpdate, "status is blank")
		}
		upd.Status = &trimmed
	}

	existing, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "leads: load lead")
	}
	if existing.UserID != owner {
		return nil, eris.Wrapf(store.ErrNotFound, "lead %s", leadID)
	}

	lead, err := s.store.UpdateLeadWorkflow(ctx, leadID, upd)
	if err != nil {
		return nil, eris.Wrap(err, "leads: update workflow")
	}
	return lead, nil
}

// DashboardStats are the headline counters for an owner.
type DashboardStats struct {
	TotalLeads     int `json:"totalLeads"`
	ScansRunning   int `json:"scansRunning"`
	HotLeads       int `json:"hotLeads"`
	ScansRemaining int `json:"scansRemaining"`
}

// Dashboard is the analytics view of an owner's activity.
type Dashboard struct {
	Stats       DashboardStats     `json:"stats"`
	RecentScans []model.Job        `json:"recentScans"`
	Activity    []model.DailyCount `json:"activity"`
}

// Stats gathers the dashboard for owner. The account must exist.
func (s *Service) Stats(ctx context.Context, owner string) (*Dashboard, error) {
	acct, err := s.store.GetAccount(ctx, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "leads: account %s", owner)
		}
		return nil, eris.Wrap(err, "leads: load account")
	}

	d := &Dashboard{Stats: DashboardStats{ScansRemaining: acct.ScansRemaining}}
	since := s.now().Add(-ActivityWindow)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.CountLeads(gCtx, model.LeadFilter{UserID: owner})
		d.Stats.TotalLeads = n
		return eris.Wrap(err, "count leads")
	})
	g.Go(func() error {
		n, err := s.store.CountJobs(gCtx, store.JobFilter{UserID: owner, Status: model.JobStatusRunning})
		d.Stats.ScansRunning = n
		return eris.Wrap(err, "count running jobs")
	})
	g.Go(func() error {
		n, err := s.store.CountLeads(gCtx, model.LeadFilter{UserID: owner, MinScore: HotLeadScore})
		d.Stats.HotLeads = n
		return eris.Wrap(err, "count hot leads")
	})
	g.Go(func() error {
		jobs, err := s.store.ListJobs(gCtx, store.JobFilter{UserID: owner, Limit: RecentJobs})
		d.RecentScans = jobs
		return eris.Wrap(err, "recent jobs")
	})
	g.Go(func() error {
		days, err := s.store.DailyLeadCounts(gCtx, owner, since)
		d.Activity = days
		return eris.Wrap(err, "daily activity")
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "leads: dashboard")
	}

	if d.RecentScans == nil {
		d.RecentScans = []model.Job{}
	}
	if d.Activity == nil {
		d.Activity = []model.DailyCount{}
	}
	return d, nil
}
