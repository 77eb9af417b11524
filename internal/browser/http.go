package browser

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

const maxPageBytes = 4 << 20

// HTTPOpener opens sessions that fetch static HTML without a browser.
// Pages that need client-side rendering come back thin; sources treat
// that as an empty result and the aggregator falls through.
type HTTPOpener struct {
	cfg    Config
	client *http.Client
}

// NewHTTPOpener creates an HTTPOpener. A nil client gets sensible defaults.
func NewHTTPOpener(cfg Config, client *http.Client) *HTTPOpener {
	return &HTTPOpener{cfg: cfg, client: client}
}

// Open returns a session backed by its own cookie-less client.
func (o *HTTPOpener) Open(_ context.Context) (Session, error) {
	client := o.client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &httpSession{cfg: o.cfg, client: client}, nil
}

type httpSession struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	closed bool
}

func (s *httpSession) Visit(ctx context.Context, url string, opts VisitOptions) (*Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.navTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "browser: create request")
	}
	req.Header.Set("User-Agent", s.cfg.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: fetch %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "browser: read body")
	}

	if blocked, bt := DetectBlock(resp.StatusCode, resp.Header, body); blocked {
		return nil, eris.Wrapf(ErrBlocked, "browser: %s (%s)", url, bt)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("browser: %s returned status %d", url, resp.StatusCode)
	}

	if err := sleepCtx(ctx, s.cfg.settleDelay(opts)); err != nil {
		return nil, eris.Wrap(err, "browser: settle")
	}

	return &Page{URL: url, HTML: string(body), StatusCode: resp.StatusCode}, nil
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.client.CloseIdleConnections()
	}
	return nil
}
