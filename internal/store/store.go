// Package store persists scan jobs, leads, and owner accounts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/model"
)

// Store errors.
var (
	ErrNotFound    = eris.New("store: not found")
	ErrJobTerminal = eris.New("store: job already in terminal state")
)

// JobFilter narrows a job listing. Zero fields do not filter.
type JobFilter struct {
	UserID string
	Status model.JobStatus
	Limit  int
}

// Store is the persistence collaborator for the scan pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// UpdateJob applies upd unless the job is already terminal, in which case
	// it returns ErrJobTerminal. Progress never decreases.
	UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	CountJobs(ctx context.Context, filter JobFilter) (int, error)

	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	// ListLeads orders by score, highest first, then newest first.
	ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, filter model.LeadFilter) (int, error)
	UpdateLeadWorkflow(ctx context.Context, id string, upd LeadWorkflowUpdate) (*model.Lead, error)
	DeleteLeads(ctx context.Context, ids []string) (int, error)
	DailyLeadCounts(ctx context.Context, userID string, since time.Time) ([]model.DailyCount, error)

	// Accounts
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	EnsureAccount(ctx context.Context, acct model.Account) (*model.Account, error)
	// DecrementQuotaAndAddLeads spends one scan and credits leads in a
	// single atomic statement.
	DecrementQuotaAndAddLeads(ctx context.Context, id string, leads int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// LeadWorkflowUpdate carries the downstream sales-workflow fields a user may
// change on a lead. Nil fields are left unchanged.
type LeadWorkflowUpdate struct {
	Contacted *bool   `json:"contacted,omitempty"`
	Status    *string `json:"status,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u LeadWorkflowUpdate) Empty() bool {
	return u.Contacted == nil && u.Status == nil
}

// groupByDay buckets timestamps into UTC calendar days in ascending order.
func groupByDay(times []time.Time) []model.DailyCount {
	counts := make(map[string]int)
	var days []string
	for _, t := range times {
		day := t.UTC().Format(time.DateOnly)
		if _, ok := counts[day]; !ok {
			days = append(days, day)
		}
		counts[day]++
	}
	slices.Sort(days)
	out := make([]model.DailyCount, len(days))
	for i, d := range days {
		out[i] = model.DailyCount{Day: d, Count: counts[d]}
	}
	return out
}

// setList accumulates "column = expr" assignments for a dynamic UPDATE.
type setList struct {
	placeholder func(n int) string
	clauses     []string
	args        []any
}

// add appends clause, where clause contains one %s for the argument's
// placeholder.
func (s *setList) add(clause string, arg any) {
	s.args = append(s.args, arg)
	s.clauses = append(s.clauses, fmt.Sprintf(clause, s.placeholder(len(s.args))))
}

func (s *setList) empty() bool { return len(s.clauses) == 0 }

func (s *setList) String() string { return strings.Join(s.clauses, ", ") }

// next returns the placeholder for the next positional argument.
func (s *setList) next(arg any) string {
	s.args = append(s.args, arg)
	return s.placeholder(len(s.args))
}

// jobSets translates upd into assignments. greatest names the SQL function
// that keeps progress monotonic.
func jobSets(upd model.JobUpdate, placeholder func(int) string, greatest string) *setList {
	s := &setList{placeholder: placeholder}
	if upd.Status != nil {
		s.add("status = %s", string(*upd.Status))
	}
	if upd.Progress != nil {
		s.add("progress = "+greatest+"(progress, %s)", *upd.Progress)
	}
	if upd.LeadsFound != nil {
		s.add("leads_found = %s", *upd.LeadsFound)
	}
	if upd.RealLeadsCount != nil {
		s.add("real_leads_count = %s", *upd.RealLeadsCount)
	}
	if upd.CompletedAt != nil {
		s.add("completed_at = %s", upd.CompletedAt.UTC())
	}
	if upd.Error != nil {
		s.add("error = %s", *upd.Error)
	}
	return s
}

func leadWhere(f model.LeadFilter, s *setList) string {
	var conds []string
	if f.UserID != "" {
		conds = append(conds, "user_id = "+s.next(f.UserID))
	}
	if f.JobID != "" {
		conds = append(conds, "job_id = "+s.next(f.JobID))
	}
	if f.LeadType != "" {
		conds = append(conds, "lead_type = "+s.next(string(f.LeadType)))
	}
	if f.MinScore > 0 {
		conds = append(conds, "lead_score >= "+s.next(f.MinScore))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func jobWhere(f JobFilter, s *setList) string {
	var conds []string
	if f.UserID != "" {
		conds = append(conds, "user_id = "+s.next(f.UserID))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+s.next(string(f.Status)))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func issuesJSON(issues []string) ([]byte, error) {
	if issues == nil {
		issues = []string{}
	}
	b, err := json.Marshal(issues)
	return b, eris.Wrap(err, "marshal issues")
}
