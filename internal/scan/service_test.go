package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/fakelead"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/internal/store"
)

// --- fakes ---

type fakeOpener struct {
	opened atomic.Int32
	closed atomic.Int32
	err    error
}

func (o *fakeOpener) Open(_ context.Context) (browser.Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened.Add(1)
	return &fakeSession{o: o}, nil
}

type fakeSession struct{ o *fakeOpener }

func (s *fakeSession) Visit(_ context.Context, _ string, _ browser.VisitOptions) (*browser.Page, error) {
	return nil, errors.New("not used")
}

func (s *fakeSession) Close() error {
	s.o.closed.Add(1)
	return nil
}

type aggregatorFunc func(ctx context.Context, sess browser.Session, category, city string) []model.Candidate

func (f aggregatorFunc) Aggregate(ctx context.Context, sess browser.Session, category, city string) []model.Candidate {
	return f(ctx, sess, category, city)
}

func staticAggregator(cands ...model.Candidate) Aggregator {
	return aggregatorFunc(func(context.Context, browser.Session, string, string) []model.Candidate {
		return cands
	})
}

type enricherFunc func(ctx context.Context, website string) model.SeoSignals

func (f enricherFunc) Analyze(ctx context.Context, website string) model.SeoSignals {
	return f(ctx, website)
}

var defaultEnricher = enricherFunc(func(context.Context, string) model.SeoSignals {
	return model.DefaultSeoSignals()
})

// recordingStore wraps a real store, recording progress writes and
// injecting failures.
type recordingStore struct {
	store.Store

	mu          sync.Mutex
	progress    []int
	failLead    string
	failAccount error
}

func (r *recordingStore) UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error {
	if upd.Progress != nil {
		r.mu.Lock()
		r.progress = append(r.progress, *upd.Progress)
		r.mu.Unlock()
	}
	return r.Store.UpdateJob(ctx, id, upd)
}

func (r *recordingStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if r.failLead != "" && lead.Name == r.failLead {
		return errors.New("constraint violation")
	}
	return r.Store.CreateLead(ctx, lead)
}

func (r *recordingStore) DecrementQuotaAndAddLeads(ctx context.Context, id string, leads int) error {
	if r.failAccount != nil {
		return r.failAccount
	}
	return r.Store.DecrementQuotaAndAddLeads(ctx, id, leads)
}

func (r *recordingStore) progressWrites() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

func newTestStore(t *testing.T) *recordingStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return &recordingStore{Store: st}
}

func seedAccount(t *testing.T, st store.Store, id string, quota int) {
	t.Helper()
	_, err := st.EnsureAccount(context.Background(), model.Account{ID: id, ScansRemaining: quota})
	require.NoError(t, err)
}

func newTestService(st store.Store, opener browser.Opener, agg Aggregator, enricher Enricher) *Service {
	return New(st, opener, agg, enricher, fakelead.Default(), Config{
		EnrichConcurrency: 3,
		Retry:             resilience.RetryConfig{MaxAttempts: 1},
	})
}

func candidate(name, phone, website string) model.Candidate {
	return model.Candidate{
		Name:    name,
		Phone:   phone,
		Address: "12 Hill Road, Bandra",
		Rating:  4.5,
		Reviews: 40,
		Website: website,
		Source:  "justdial",
	}
}

// --- StartScan ---

func TestStartScan_QuotaExceeded(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 0)
	svc := newTestService(st, &fakeOpener{}, staticAggregator(), defaultEnricher)

	id, err := svc.StartScan(context.Background(), "user-1", "Mumbai", "dentist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Empty(t, id)

	n, err := st.CountJobs(context.Background(), store.JobFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartScan_AccountNotFound(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(st, &fakeOpener{}, staticAggregator(), defaultEnricher)

	_, err := svc.StartScan(context.Background(), "ghost", "Mumbai", "dentist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAccountNotFound))

	n, err := st.CountJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartScan_InvalidRequest(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	svc := newTestService(st, &fakeOpener{}, staticAggregator(), defaultEnricher)

	_, err := svc.StartScan(context.Background(), "user-1", "  ", "dentist")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	_, err = svc.StartScan(context.Background(), "user-1", "Mumbai", "")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestStartScan_RunsInBackground(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	opener := &fakeOpener{}
	agg := staticAggregator(
		candidate("Sunrise Family Dental", "+912226401234", ""),
		candidate("Smile Studio Clinic", "9820012345", "https://smile.example"),
		candidate("Premier Dentist 42", "9820099999", ""),
	)
	svc := newTestService(st, opener, agg, defaultEnricher)

	// A canceled request context must not stop the detached pipeline.
	ctx, cancel := context.WithCancel(context.Background())
	id, err := svc.StartScan(ctx, "user-1", "Mumbai", "dentist")
	cancel()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	svc.Wait()

	job, err := svc.GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 3, job.LeadsFound)
	assert.Equal(t, 3, job.RealLeadsCount)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Error)

	acct, err := st.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, acct.ScansRemaining)
	assert.Equal(t, 3, acct.TotalLeads)

	assert.Equal(t, int32(1), opener.opened.Load())
	assert.Equal(t, int32(1), opener.closed.Load())
	assert.Equal(t, []int{10, 40, 53, 66, 80, 100}, st.progressWrites())
}

func TestGetJobStatus_Unknown(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(st, &fakeOpener{}, staticAggregator(), defaultEnricher)

	_, err := svc.GetJobStatus(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

// --- Run ---

func createJob(t *testing.T, svc *Service, owner string) *model.Job {
	t.Helper()
	job, err := svc.CreateJob(context.Background(), owner, "Mumbai", "dentist")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	return job
}

func TestRun_NoCandidates(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	opener := &fakeOpener{}
	svc := newTestService(st, opener, staticAggregator(), defaultEnricher)
	job := createJob(t, svc, "user-1")

	require.NoError(t, svc.Run(context.Background(), job))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 0, got.LeadsFound)
	assert.Equal(t, []int{10, 40, 90, 100}, st.progressWrites())
	assert.Equal(t, int32(1), opener.closed.Load())

	acct, err := st.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, acct.ScansRemaining)
	assert.Equal(t, 0, acct.TotalLeads)
}

func TestRun_LeadFields(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	enricher := enricherFunc(func(_ context.Context, website string) model.SeoSignals {
		return model.SeoSignals{
			HasMetaTitle:     true,
			HasH1:            true,
			PageSpeed:        80,
			IsMobileFriendly: true,
			HasLocalKeywords: true,
			HasContactPage:   true,
			Email:            "hello@smile.example",
		}
	})
	agg := staticAggregator(
		candidate("Smile Studio Clinic", "9820012345", "https://smile.example"),
		model.Candidate{Name: "Premier Dentist 42", Phone: model.PhoneNotAvailable, Address: "Mumbai", Source: "google_maps", HasGBP: true},
	)
	svc := newTestService(st, &fakeOpener{}, agg, enricher)
	job := createJob(t, svc, "user-1")

	require.NoError(t, svc.Run(context.Background(), job))

	leads, err := st.ListLeads(context.Background(), model.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, leads, 2)

	byName := map[string]model.Lead{}
	for _, l := range leads {
		assert.Equal(t, "user-1", l.UserID)
		assert.Equal(t, job.ID, l.JobID)
		assert.Equal(t, "Mumbai", l.City)
		assert.Equal(t, "dentist", l.Category)
		assert.Equal(t, model.DefaultLeadStatus, l.Status)
		assert.False(t, l.Contacted)
		byName[l.Name] = l
	}

	smile := byName["Smile Studio Clinic"]
	assert.True(t, smile.HasWebsite)
	assert.Equal(t, "hello@smile.example", smile.Email)
	assert.False(t, smile.IsFake)
	assert.Equal(t, 80, smile.SeoData.PageSpeed)
	assert.Equal(t, 30, smile.LeadScore)
	assert.Equal(t, model.LeadTypeCold, smile.LeadType)
	assert.Equal(t, []string{"No Google Business Profile"}, smile.Issues)

	premier := byName["Premier Dentist 42"]
	assert.False(t, premier.HasWebsite)
	assert.True(t, premier.IsFake)
	assert.True(t, premier.HasGBP)
	assert.True(t, premier.GbpData.Verified)
	assert.Equal(t, model.DefaultPageSpeed, premier.SeoData.PageSpeed)
	assert.Equal(t, 60, premier.LeadScore)
	assert.Equal(t, model.LeadTypeWarm, premier.LeadType)
}

func TestRun_PersistFailureSkipsCandidate(t *testing.T) {
	st := newTestStore(t)
	st.failLead = "Broken Biz"
	seedAccount(t, st, "user-1", 5)
	agg := staticAggregator(
		candidate("Good Biz One", "9820000001", ""),
		candidate("Broken Biz", "9820000002", ""),
		candidate("Good Biz Two", "9820000003", ""),
		candidate("ab", "9820000004", ""),
	)
	svc := newTestService(st, &fakeOpener{}, agg, defaultEnricher)
	job := createJob(t, svc, "user-1")

	require.NoError(t, svc.Run(context.Background(), job))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.LeadsFound)
	assert.Equal(t, []int{10, 40, 50, 60, 70, 80, 100}, st.progressWrites())

	acct, err := st.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.TotalLeads)
}

func TestRun_AccountUpdateFailureFailsJob(t *testing.T) {
	st := newTestStore(t)
	st.failAccount = errors.New("account service down")
	seedAccount(t, st, "user-1", 5)
	opener := &fakeOpener{}
	svc := newTestService(st, opener, staticAggregator(candidate("Good Biz One", "9820000001", "")), defaultEnricher)
	job := createJob(t, svc, "user-1")

	err := svc.Run(context.Background(), job)
	require.Error(t, err)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "account service down")
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, int32(1), opener.closed.Load())

	// Terminal: later writes are refused.
	completed := model.JobStatusCompleted
	err = st.UpdateJob(context.Background(), job.ID, model.JobUpdate{Status: &completed})
	assert.True(t, errors.Is(err, store.ErrJobTerminal))
}

func TestRun_SessionOpenFailureFailsJob(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	opener := &fakeOpener{err: errors.New("chrome not installed")}
	svc := newTestService(st, opener, staticAggregator(), defaultEnricher)
	job := createJob(t, svc, "user-1")

	require.Error(t, svc.Run(context.Background(), job))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "chrome not installed")
	assert.Equal(t, 10, got.Progress)

	acct, err := st.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, acct.ScansRemaining)
}

func TestRun_SessionClosedWhenAggregatorPanics(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	opener := &fakeOpener{}
	agg := aggregatorFunc(func(context.Context, browser.Session, string, string) []model.Candidate {
		panic("selector engine crashed")
	})
	svc := newTestService(st, opener, agg, defaultEnricher)
	job := createJob(t, svc, "user-1")

	err := svc.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, int32(1), opener.closed.Load())

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "selector engine crashed")
}

func TestRun_EnricherPanicDegradesToDefaults(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)
	enricher := enricherFunc(func(_ context.Context, website string) model.SeoSignals {
		if website == "https://broken.example" {
			panic("parser blew up")
		}
		return model.SeoSignals{PageSpeed: 90, HasMetaTitle: true}
	})
	agg := staticAggregator(
		candidate("Broken Site Dental", "9820011111", "https://broken.example"),
		candidate("Working Site Dental", "9820022222", "https://working.example"),
	)
	opener := &fakeOpener{}
	svc := newTestService(st, opener, agg, enricher)
	job := createJob(t, svc, "user-1")

	require.NoError(t, svc.Run(context.Background(), job))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.LeadsFound)
	assert.Equal(t, int32(1), opener.closed.Load())

	leads, err := st.ListLeads(context.Background(), model.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	for _, l := range leads {
		switch l.Name {
		case "Broken Site Dental":
			assert.Equal(t, model.DefaultSeoSignals(), l.SeoData)
		case "Working Site Dental":
			assert.Equal(t, 90, l.SeoData.PageSpeed)
		}
	}
}

func TestRun_ConcurrentEnrichmentKeepsOrder(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 5)

	var inflight, peak atomic.Int32
	enricher := enricherFunc(func(_ context.Context, website string) model.SeoSignals {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return model.SeoSignals{PageSpeed: 70, Email: "info@" + website[len("https://"):]}
	})

	var cands []model.Candidate
	for i := range 10 {
		cands = append(cands, candidate(fmt.Sprintf("Clinic Number %c", 'A'+i), fmt.Sprintf("98200000%02d", i), fmt.Sprintf("https://clinic%c.example", 'a'+i)))
	}
	svc := newTestService(st, &fakeOpener{}, staticAggregator(cands...), enricher)
	job := createJob(t, svc, "user-1")

	require.NoError(t, svc.Run(context.Background(), job))

	assert.LessOrEqual(t, peak.Load(), int32(3))
	writes := st.progressWrites()
	for i := 1; i < len(writes); i++ {
		assert.Greater(t, writes[i], writes[i-1])
	}
	assert.Equal(t, 100, writes[len(writes)-1])

	leads, err := st.ListLeads(context.Background(), model.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, leads, 10)
	for _, l := range leads {
		assert.Equal(t, "info@"+l.Website[len("https://"):], l.Email)
	}
}

func TestRun_ConcurrentJobsSameOwner(t *testing.T) {
	st := newTestStore(t)
	seedAccount(t, st, "user-1", 10)
	svc := newTestService(st, &fakeOpener{}, staticAggregator(candidate("Good Biz One", "9820000001", "")), defaultEnricher)

	for range 4 {
		_, err := svc.StartScan(context.Background(), "user-1", "Pune", "gym")
		require.NoError(t, err)
	}
	svc.Wait()

	acct, err := st.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 6, acct.ScansRemaining)
	assert.Equal(t, 4, acct.TotalLeads)

	jobs, err := st.ListJobs(context.Background(), store.JobFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	for _, j := range jobs {
		assert.Equal(t, model.JobStatusCompleted, j.Status)
	}
}
