package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
)

// DefaultFloor is the candidate count below which the next source is tried.
const DefaultFloor = 5

// DefaultSourceTimeout bounds a single source call.
const DefaultSourceTimeout = 3 * time.Minute

// Aggregator tries sources in order. The first source always runs; each
// later source runs only while the running total is below Floor.
type Aggregator struct {
	sources []Source
	Floor   int
	Timeout time.Duration
}

// NewAggregator creates an Aggregator over sources in priority order.
func NewAggregator(sources ...Source) *Aggregator {
	return &Aggregator{
		sources: sources,
		Floor:   DefaultFloor,
		Timeout: DefaultSourceTimeout,
	}
}

// Sources returns the configured source names in order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Aggregate collects candidates for category in city and returns them
// deduplicated. Source failures never propagate; a failed source counts as
// having returned nothing.
func (a *Aggregator) Aggregate(ctx context.Context, sess browser.Session, category, city string) []model.Candidate {
	var all []model.Candidate
	for i, s := range a.sources {
		if i > 0 && len(all) >= a.Floor {
			break
		}
		if ctx.Err() != nil {
			break
		}

		found, err := a.search(ctx, s, sess, category, city)
		if err != nil {
			zap.L().Warn("scrape: source failed, falling back",
				zap.String("source", s.Name()),
				zap.String("category", category),
				zap.String("city", city),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("scrape: source returned candidates",
			zap.String("source", s.Name()),
			zap.Int("count", len(found)),
		)
		all = append(all, found...)
	}
	return Dedupe(all)
}

// search runs one source under the per-source timeout and converts panics
// into errors.
func (a *Aggregator) search(ctx context.Context, s Source, sess browser.Session, category, city string) (out []model.Candidate, err error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = eris.Errorf("scrape: source %s panicked: %s", s.Name(), fmt.Sprint(r))
		}
	}()
	return s.Search(ctx, sess, category, city)
}
