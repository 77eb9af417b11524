package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/config"
	"github.com/sells-group/lead-scanner/internal/enrich"
	"github.com/sells-group/lead-scanner/internal/fakelead"
	"github.com/sells-group/lead-scanner/internal/leads"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/internal/scan"
	"github.com/sells-group/lead-scanner/internal/scrape"
	"github.com/sells-group/lead-scanner/internal/store"
	"github.com/sells-group/lead-scanner/pkg/google"
)

// appEnv holds the store and services used by the serve, scan, leads and
// stats commands.
type appEnv struct {
	Store store.Store
	Scans *scan.Service
	Leads *leads.Service
}

// Close waits for background scans and releases the store.
func (e *appEnv) Close() {
	if e.Scans != nil {
		e.Scans.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens the store, and builds the
// services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	classifier, err := loadClassifier(cfg.FakeLead)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		Store: st,
		Leads: leads.New(st, classifier),
	}
	if mode == "leads" {
		return env, nil
	}

	opener, err := browser.NewOpener(cfg.Browser.Session())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sources, err := buildSources(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	agg := scrape.NewAggregator(sources...)
	agg.Floor = cfg.Sources.Floor
	if cfg.Sources.TimeoutSecs > 0 {
		agg.Timeout = time.Duration(cfg.Sources.TimeoutSecs) * time.Second
	}

	analyzer := enrich.NewAnalyzer(enrich.Config{
		Timeout:       time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
		MaxRedirects:  cfg.Enrich.MaxRedirects,
		LocalKeywords: cfg.Enrich.LocalKeywords,
	})

	env.Scans = scan.New(st, opener, agg, analyzer, classifier, scan.Config{
		EnrichConcurrency: cfg.Enrich.Concurrency,
		Retry:             resilience.FromSettings(cfg.Store.RetryAttempts, cfg.Store.RetryBackoffMs),
	})

	zap.L().Info("scan pipeline ready",
		zap.Strings("sources", agg.Sources()),
		zap.Int("floor", agg.Floor),
		zap.String("browser", cfg.Browser.Driver),
		zap.String("store", cfg.Store.Driver),
	)
	return env, nil
}

// buildSources instantiates sources in configured order. The Places API
// source is appended when a Google key is set and it is not listed.
func buildSources(c *config.Config) ([]scrape.Source, error) {
	var (
		sources   []scrape.Source
		hasPlaces bool
	)
	places := func() scrape.Source {
		opts := []google.Option{}
		if c.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(c.Google.BaseURL))
		}
		return scrape.NewPlacesSource(google.NewClient(c.Google.Key, opts...), c.Google.RateLimit)
	}

	for _, name := range c.Sources.Order {
		switch name {
		case scrape.SourceJustdial:
			sources = append(sources, scrape.NewJustdialSource(c.Sources.JustdialBaseURL))
		case scrape.SourceGoogleMaps:
			sources = append(sources, scrape.NewMapsSource(c.Sources.MapsBaseURL, c.Sources.MapsScrolls))
		case scrape.SourcePlaces:
			if c.Google.Key == "" {
				return nil, eris.New("google_places source requires google.key (LEADSCAN_GOOGLE_KEY)")
			}
			sources = append(sources, places())
			hasPlaces = true
		default:
			return nil, eris.Errorf("unknown source %q", name)
		}
	}

	if c.Google.Key != "" && !hasPlaces {
		sources = append(sources, places())
		zap.L().Info("google places api enabled")
	} else if c.Google.Key == "" {
		zap.L().Debug("LEADSCAN_GOOGLE_KEY not set, Google Places source disabled")
	}

	if len(sources) == 0 {
		return nil, eris.New("no sources configured")
	}
	return sources, nil
}

// loadClassifier returns the embedded fake-lead rules unless an override
// file is configured.
func loadClassifier(c config.FakeLeadConfig) (*fakelead.Classifier, error) {
	if c.PatternsFile == "" {
		return fakelead.Default(), nil
	}
	cl, err := fakelead.Load(c.PatternsFile)
	if err != nil {
		return nil, eris.Wrap(err, "load fake-lead patterns")
	}
	return cl, nil
}
