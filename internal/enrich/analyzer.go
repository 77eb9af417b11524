// Package enrich derives website quality signals for a candidate business.
package enrich

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/model"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxRedirects = 5
	maxBodyBytes        = 8 << 20
	maxEmailLen         = 50

	minPageSpeed = 20
	maxPageSpeed = 90

	userAgent = "Mozilla/5.0"
)

// DefaultLocalKeywords are the city names that count as local targeting.
var DefaultLocalKeywords = []string{"mumbai", "delhi", "kolkata", "bangalore"}

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9._-]+\.[a-zA-Z0-9._-]+`)
	assetEmailHint = []string{".png", ".jpg", ".webp"}
)

// Config tunes the Analyzer.
type Config struct {
	Timeout       time.Duration
	MaxRedirects  int
	LocalKeywords []string
}

// Analyzer fetches a website once and derives model.SeoSignals from it.
type Analyzer struct {
	client   *http.Client
	keywords []string
}

// NewAnalyzer creates an Analyzer. Zero Config fields take defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	redirects := cfg.MaxRedirects
	if redirects <= 0 {
		redirects = defaultMaxRedirects
	}
	keywords := cfg.LocalKeywords
	if len(keywords) == 0 {
		keywords = DefaultLocalKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}

	return &Analyzer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > redirects {
					return eris.Errorf("enrich: stopped after %d redirects", redirects)
				}
				return nil
			},
		},
		keywords: lower,
	}
}

// Analyze returns the signals for website. A missing or non-absolute URL
// and any fetch or parse failure yield model.DefaultSeoSignals; failures
// are logged, never returned.
func (a *Analyzer) Analyze(ctx context.Context, website string) model.SeoSignals {
	if !Analyzable(website) {
		return model.DefaultSeoSignals()
	}

	signals, err := a.fetch(ctx, website)
	if err != nil {
		zap.L().Warn("enrich: could not analyze website",
			zap.String("website", website),
			zap.Error(err),
		)
		return model.DefaultSeoSignals()
	}
	return signals
}

// Analyzable reports whether website is a well-formed absolute http(s) URL.
func Analyzable(website string) bool {
	u, err := url.Parse(strings.TrimSpace(website))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (a *Analyzer) fetch(ctx context.Context, website string) (model.SeoSignals, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(website), nil)
	if err != nil {
		return model.SeoSignals{}, eris.Wrap(err, "enrich: create request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return model.SeoSignals{}, eris.Wrap(err, "enrich: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return model.SeoSignals{}, eris.Errorf("enrich: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return model.SeoSignals{}, eris.Wrap(err, "enrich: read body")
	}

	contentLength := resp.ContentLength
	if contentLength < 0 {
		contentLength = int64(len(body))
	}

	return a.signals(body, contentLength)
}

func (a *Analyzer) signals(body []byte, contentLength int64) (model.SeoSignals, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.SeoSignals{}, eris.Wrap(err, "enrich: parse html")
	}

	lower := strings.ToLower(string(body))
	return model.SeoSignals{
		HasMetaTitle:     strings.TrimSpace(doc.Find("title").First().Text()) != "",
		HasH1:            doc.Find("h1").Length() > 0,
		PageSpeed:        PageSpeed(contentLength),
		IsMobileFriendly: doc.Find(`meta[name="viewport"]`).Length() > 0,
		HasLocalKeywords: a.hasLocalKeyword(lower),
		HasContactPage:   doc.Find(`a[href*="contact"]`).Length() > 0,
		Email:            FirstEmail(string(body)),
	}, nil
}

func (a *Analyzer) hasLocalKeyword(lowerHTML string) bool {
	for _, k := range a.keywords {
		if strings.Contains(lowerHTML, k) {
			return true
		}
	}
	return false
}

// PageSpeed is the size heuristic 100 - contentLength/10000 clamped to
// [20, 90].
func PageSpeed(contentLength int64) int {
	v := 100 - contentLength/10000
	return int(min(max(v, minPageSpeed), maxPageSpeed))
}

// FirstEmail returns the first email-like token in text that does not look
// like an asset path and is shorter than 50 characters.
func FirstEmail(text string) string {
	for _, m := range emailPattern.FindAllString(text, -1) {
		if len(m) >= maxEmailLen || looksLikeAsset(m) {
			continue
		}
		return m
	}
	return ""
}

func looksLikeAsset(s string) bool {
	lower := strings.ToLower(s)
	for _, ext := range assetEmailHint {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}
