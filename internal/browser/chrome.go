package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ChromeOpener launches a headless Chrome per session via chromedp.
type ChromeOpener struct {
	cfg Config
}

// Open starts a browser process. The returned session owns it.
func (o *ChromeOpener) Open(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(o.cfg.userAgent()),
		chromedp.WindowSize(1920, 1080),
	)
	if o.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser so launch errors surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: launch chrome")
	}

	zap.L().Debug("browser: chrome session opened")
	return &chromeSession{
		cfg:           o.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromeSession struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	once     sync.Once
	closeErr error
}

const scrollJS = `(function(sel){var el=document.querySelector(sel);if(el){el.scrollTop=el.scrollHeight;}})(%s)`

// Visit opens a fresh tab, navigates, settles, optionally scrolls, and
// captures the rendered document.
func (s *chromeSession) Visit(ctx context.Context, url string, opts VisitOptions) (*Page, error) {
	settle := s.cfg.settleDelay(opts)

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()
	runCtx, runCancel := context.WithTimeout(tabCtx, s.cfg.visitBudget(settle, opts))
	defer runCancel()
	stop := context.AfterFunc(ctx, runCancel)
	defer stop()

	var html string
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.Sleep(settle),
	}
	if opts.ScrollSelector != "" {
		js := fmt.Sprintf(scrollJS, strconv.Quote(opts.ScrollSelector))
		for range opts.Scrolls {
			actions = append(actions, chromedp.Evaluate(js, nil), chromedp.Sleep(opts.ScrollPause))
		}
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return nil, eris.Wrapf(err, "browser: visit %s", url)
	}

	if blocked, bt := DetectBlock(0, nil, []byte(html)); blocked {
		return nil, eris.Wrapf(ErrBlocked, "browser: %s (%s)", url, bt)
	}
	return &Page{URL: url, HTML: html}, nil
}

// Close shuts the browser down. Safe to call repeatedly.
func (s *chromeSession) Close() error {
	s.once.Do(func() {
		s.closeErr = chromedp.Cancel(s.browserCtx)
		s.browserCancel()
		s.allocCancel()
		zap.L().Debug("browser: chrome session closed")
	})
	return s.closeErr
}
