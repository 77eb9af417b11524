// Package browser provides job-scoped page automation sessions. A session
// is opened once per scan job, used by every source in that job, and
// released exactly once when the job ends.
package browser

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
)

// Driver names accepted in Config.Driver.
const (
	DriverChrome = "chromedp"
	DriverHTTP   = "http"
)

const (
	minNavTimeout = 30 * time.Second
	maxNavTimeout = 45 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config controls how sessions are launched and how pages are visited.
type Config struct {
	Driver     string
	Headless   bool
	ExecPath   string
	UserAgent  string
	NavTimeout time.Duration
	SettleMin  time.Duration
	SettleMax  time.Duration
}

// Page is a snapshot of a document after navigation and settling.
type Page struct {
	URL        string
	HTML       string
	StatusCode int
}

// VisitOptions tunes a single navigation.
type VisitOptions struct {
	// MinSettle raises the lower bound of the randomized settle delay.
	MinSettle time.Duration
	// Scrolls is how many times ScrollSelector is scrolled to the bottom
	// before the document is captured, to trigger lazy loading.
	Scrolls        int
	ScrollSelector string
	ScrollPause    time.Duration
}

// Session is a live automation handle. Close may be called any number of
// times; only the first call releases resources.
type Session interface {
	Visit(ctx context.Context, url string, opts VisitOptions) (*Page, error)
	Close() error
}

// Opener acquires new sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// NewOpener returns the Opener for cfg.Driver.
func NewOpener(cfg Config) (Opener, error) {
	switch cfg.Driver {
	case DriverChrome, "":
		return &ChromeOpener{cfg: cfg}, nil
	case DriverHTTP:
		return &HTTPOpener{cfg: cfg}, nil
	default:
		return nil, eris.Errorf("browser: unsupported driver %q", cfg.Driver)
	}
}

func (c Config) userAgent() string {
	if c.UserAgent == "" {
		return defaultUserAgent
	}
	return c.UserAgent
}

// navTimeout clamps the configured navigation timeout to [30s, 45s].
func (c Config) navTimeout() time.Duration {
	switch {
	case c.NavTimeout < minNavTimeout:
		return minNavTimeout
	case c.NavTimeout > maxNavTimeout:
		return maxNavTimeout
	default:
		return c.NavTimeout
	}
}

// settleDelay picks a random pause in [lo, hi] where lo is the larger of
// SettleMin and the per-visit minimum.
func (c Config) settleDelay(opts VisitOptions) time.Duration {
	lo := max(c.SettleMin, opts.MinSettle)
	hi := max(c.SettleMax, lo)
	if hi == lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// visitBudget is the total time one Visit may take.
func (c Config) visitBudget(settle time.Duration, opts VisitOptions) time.Duration {
	return c.navTimeout() + settle + time.Duration(opts.Scrolls)*opts.ScrollPause
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
