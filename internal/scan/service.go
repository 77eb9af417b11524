// Package scan owns the scan job lifecycle: it accepts scan requests,
// drives aggregation, enrichment, scoring, and persistence for each job,
// and reports progress through the store.
package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/internal/scorer"
	"github.com/sells-group/lead-scanner/internal/store"
)

// Aggregator collects deduplicated candidates for a category in a city.
type Aggregator interface {
	Aggregate(ctx context.Context, sess browser.Session, category, city string) []model.Candidate
}

// Enricher derives website signals. It never fails; unreachable sites yield
// default signals.
type Enricher interface {
	Analyze(ctx context.Context, website string) model.SeoSignals
}

// FakeDetector flags placeholder or generated business records.
type FakeDetector interface {
	IsFakeCandidate(c model.Candidate) bool
}

// DefaultEnrichConcurrency bounds concurrent website fetches per job.
const DefaultEnrichConcurrency = 4

// Config tunes a Service.
type Config struct {
	EnrichConcurrency int
	Retry             resilience.RetryConfig
}

// Service starts scan jobs and runs their pipelines.
type Service struct {
	store    store.Store
	opener   browser.Opener
	agg      Aggregator
	enricher Enricher
	fake     FakeDetector
	cfg      Config

	wg sync.WaitGroup
}

// New creates a Service.
func New(st store.Store, opener browser.Opener, agg Aggregator, enricher Enricher, fake FakeDetector, cfg Config) *Service {
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Service{
		store:    st,
		opener:   opener,
		agg:      agg,
		enricher: enricher,
		fake:     fake,
		cfg:      cfg,
	}
}

// StartScan creates a pending job for owner and runs its pipeline in the
// background. It returns as soon as the job is persisted. The pipeline is
// detached from ctx so it outlives the request that started it.
func (s *Service) StartScan(ctx context.Context, owner, city, category string) (string, error) {
	job, err := s.CreateJob(ctx, owner, city, category)
	if err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(bg, job)
	}()

	return job.ID, nil
}

// CreateJob checks the owner's account and persists a pending job without
// running it.
func (s *Service) CreateJob(ctx context.Context, owner, city, category string) (*model.Job, error) {
	city = strings.TrimSpace(city)
	category = strings.TrimSpace(category)
	if city == "" || category == "" {
		return nil, ErrInvalidRequest
	}

	acct, err := s.store.GetAccount(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrAccountNotFound, "owner %s", owner)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan: load account")
	}
	if acct.ScansRemaining <= 0 {
		return nil, eris.Wrapf(ErrQuotaExceeded, "owner %s", owner)
	}

	job := &model.Job{
		UserID:    owner,
		City:      city,
		Category:  category,
		Status:    model.JobStatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "scan: create job")
	}

	zap.L().Info("scan: job created",
		zap.String("job_id", job.ID),
		zap.String("owner", owner),
		zap.String("city", city),
		zap.String("category", category),
	)
	return job, nil
}

// GetJobStatus returns the current state of a job. Unknown ids yield an
// error matching store.ErrNotFound.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "scan: get job")
	}
	return job, nil
}

// Wait blocks until every background pipeline started by StartScan has
// finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Run executes the pipeline for job synchronously. On any job-level failure
// the job is marked failed with the error text and the error is returned.
func (s *Service) Run(ctx context.Context, job *model.Job) error {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("city", job.City),
		zap.String("category", job.Category),
	)
	log.Info("scan: pipeline starting")
	start := time.Now()

	persisted, err := s.safePipeline(ctx, job, log)
	if err != nil {
		log.Error("scan: pipeline failed", zap.Error(err))
		status := model.JobStatusFailed
		msg := err.Error()
		if uerr := s.updateJob(ctx, job.ID, "fail", model.JobUpdate{Status: &status, Error: &msg}); uerr != nil {
			log.Error("scan: record failure", zap.Error(uerr))
		}
		return err
	}

	log.Info("scan: pipeline complete",
		zap.Int("leads", persisted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// safePipeline converts a panic anywhere in the pipeline into a job failure.
func (s *Service) safePipeline(ctx context.Context, job *model.Job, log *zap.Logger) (persisted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scan: pipeline panic: %v", r)
		}
	}()
	return s.pipeline(ctx, job, log)
}

func (s *Service) pipeline(ctx context.Context, job *model.Job, log *zap.Logger) (int, error) {
	running := model.JobStatusRunning
	started := Progress(PhaseStarted, 0, 0)
	if err := s.updateJob(ctx, job.ID, "start", model.JobUpdate{Status: &running, Progress: &started}); err != nil {
		return 0, eris.Wrap(err, "scan: mark running")
	}
	progress := newProgressTracker(started, func(ctx context.Context, p int) error {
		return s.updateJob(ctx, job.ID, "progress", model.JobUpdate{Progress: &p})
	})

	candidates, err := s.aggregate(ctx, job, log)
	if err != nil {
		return 0, err
	}
	log.Info("scan: candidates aggregated", zap.Int("count", len(candidates)))
	if err := progress.advance(ctx, Progress(PhaseAggregated, 0, len(candidates))); err != nil {
		return 0, eris.Wrap(err, "scan: record aggregation")
	}

	persisted := s.ingest(ctx, job, candidates, progress, log)

	if err := s.store.DecrementQuotaAndAddLeads(ctx, job.UserID, persisted); err != nil {
		return persisted, eris.Wrap(err, "scan: update account")
	}

	completed := model.JobStatusCompleted
	done := Progress(PhaseDone, persisted, len(candidates))
	now := time.Now().UTC()
	upd := model.JobUpdate{
		Status:         &completed,
		Progress:       &done,
		LeadsFound:     &persisted,
		RealLeadsCount: &persisted,
		CompletedAt:    &now,
	}
	if err := s.updateJob(ctx, job.ID, "complete", upd); err != nil {
		return persisted, eris.Wrap(err, "scan: mark completed")
	}
	return persisted, nil
}

// aggregate runs the sources inside a job-scoped browser session that is
// closed before aggregate returns.
func (s *Service) aggregate(ctx context.Context, job *model.Job, log *zap.Logger) ([]model.Candidate, error) {
	sess, err := s.opener.Open(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scan: open browser session")
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("scan: close browser session", zap.Error(cerr))
		}
	}()
	return s.agg.Aggregate(ctx, sess, job.Category, job.City), nil
}

// ingest enriches, scores, classifies, and persists candidates in order,
// returning the number of leads written. Failures are per candidate.
func (s *Service) ingest(ctx context.Context, job *model.Job, candidates []model.Candidate, progress *progressTracker, log *zap.Logger) int {
	total := len(candidates)
	if total == 0 {
		if err := progress.advance(ctx, Progress(PhaseLeads, 0, 0)); err != nil {
			log.Warn("scan: progress write failed", zap.Error(err))
		}
		return 0
	}

	signals := s.enrichAll(ctx, candidates)

	persisted := 0
	for i, c := range candidates {
		seo := <-signals[i]

		if usableName(c.Name) {
			lead := s.buildLead(job, c, seo)
			err := resilience.Do(ctx, s.retryConfig(job.ID, "create_lead"), func(ctx context.Context) error {
				return s.store.CreateLead(ctx, lead)
			})
			if err != nil {
				log.Warn("scan: skipping candidate, persist failed",
					zap.String("name", c.Name),
					zap.String("source", c.Source),
					zap.Error(err),
				)
			} else {
				persisted++
			}
		} else {
			log.Warn("scan: skipping candidate without usable name", zap.String("name", c.Name))
		}

		if err := progress.advance(ctx, Progress(PhaseLeads, i+1, total)); err != nil {
			log.Warn("scan: progress write failed", zap.Error(err))
		}
	}
	return persisted
}

// enrichAll analyzes candidate websites on a bounded worker pool. The i-th
// channel yields the signals for candidates[i] exactly once.
func (s *Service) enrichAll(ctx context.Context, candidates []model.Candidate) []chan model.SeoSignals {
	out := make([]chan model.SeoSignals, len(candidates))
	for i := range out {
		out[i] = make(chan model.SeoSignals, 1)
	}

	go func() {
		var g errgroup.Group
		g.SetLimit(s.cfg.EnrichConcurrency)
		for i, c := range candidates {
			if c.Website == "" {
				out[i] <- model.DefaultSeoSignals()
				continue
			}
			g.Go(func() error {
				out[i] <- s.analyze(ctx, c.Website)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// analyze runs the enricher, degrading a panic to the default signals.
func (s *Service) analyze(ctx context.Context, website string) (seo model.SeoSignals) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("scan: enrichment panicked",
				zap.String("website", website),
				zap.Any("panic", r),
			)
			seo = model.DefaultSeoSignals()
		}
	}()
	return s.enricher.Analyze(ctx, website)
}

func (s *Service) buildLead(job *model.Job, c model.Candidate, seo model.SeoSignals) *model.Lead {
	gbp := model.GbpSignals{Verified: c.HasGBP}
	res := scorer.Score(c, seo, gbp)

	email := c.Email
	if email == "" {
		email = seo.Email
	}

	return &model.Lead{
		UserID:           job.UserID,
		JobID:            job.ID,
		Name:             c.Name,
		Phone:            c.Phone,
		Email:            email,
		Address:          c.Address,
		City:             job.City,
		Category:         job.Category,
		Website:          c.Website,
		HasWebsite:       c.Website != "",
		HasGBP:           c.HasGBP,
		Reviews:          c.Reviews,
		Rating:           c.Rating,
		LeadScore:        res.Score,
		LeadType:         res.LeadType,
		Issues:           res.Issues,
		SeoData:          seo,
		GbpData:          gbp,
		EstimatedRevenue: res.EstimatedRevenue,
		Status:           model.DefaultLeadStatus,
		Source:           c.Source,
		IsFake:           s.fake.IsFakeCandidate(c),
	}
}

func (s *Service) updateJob(ctx context.Context, jobID, op string, upd model.JobUpdate) error {
	return resilience.Do(ctx, s.retryConfig(jobID, op), func(ctx context.Context) error {
		return s.store.UpdateJob(ctx, jobID, upd)
	})
}

func (s *Service) retryConfig(jobID, op string) resilience.RetryConfig {
	cfg := s.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger(jobID, op)
	return cfg
}

// minNameLen is the shortest trimmed name persisted as a lead.
const minNameLen = 3

func usableName(name string) bool {
	return len([]rune(strings.TrimSpace(name))) >= minNameLen
}
