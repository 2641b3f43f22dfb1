package amazon

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"deal-scraper/config"
	"deal-scraper/models"
	"deal-scraper/scraper/robots"
	"deal-scraper/utils"
)

// resultContainerSelector is the structural marker for a loaded search page.
// Its absence after navigation means the page carries no further listings.
const resultContainerSelector = `div.s-result-item[data-asin]`

// markerWaitTimeout bounds how long we wait for the result container.
const markerWaitTimeout = 10 * time.Second

// scrollSettle is the pause after each scroll-to-bottom cycle so lazily
// rendered listings can attach.
const scrollSettle = 1500 * time.Millisecond

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Scraper drives the headless browser over Amazon search-result pages and
// turns them into raw product records. One page is in flight at a time.
type Scraper struct {
	cfg    *config.Config
	logger *utils.Logger
	guard  *robots.Guard
	retry  *utils.RetryConfig
	seen   *utils.SeenSet

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// New creates a Scraper. Start must be called before the first page fetch.
func New(cfg *config.Config, logger *utils.Logger, guard *robots.Guard) *Scraper {
	return &Scraper{
		cfg:    cfg,
		logger: logger,
		guard:  guard,
		seen:   utils.NewSeenSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Start launches the headless browser. A failure here is fatal for the run.
func (s *Scraper) Start(ctx context.Context) error {
	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[amazon] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgents[rand.Intn(len(userAgents))]),
		chromedp.WindowSize(1920, 1080),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))

	// An empty Run forces the browser process to start now, so storage and
	// browser failures both surface before the session begins.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("amazon: start browser: %w", err)
	}

	s.browserCtx = browserCtx
	s.cancelBrowser = cancelBrowser
	s.cancelAlloc = cancelAlloc
	s.logger.Success("[amazon] Browser started")
	return nil
}

// Close tears down the browser. Safe to call on every exit path, including
// after a failed Start.
func (s *Scraper) Close() {
	if s.cancelBrowser != nil {
		s.cancelBrowser()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
	s.logger.Info("[amazon] Browser closed")
}

// SearchURL builds the search-result URL for a query and page number.
func (s *Scraper) SearchURL(query string, pageNum int) string {
	return fmt.Sprintf("%s/s?k=%s&page=%d",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.QueryEscape(query), pageNum)
}

// ScrapeSearchPage fetches and extracts one search-result page.
//
// The returned more flag tells the caller whether paging should continue:
// a page whose structural marker never appears means no further data, and a
// robots.txt block applies to every later page of the same query. A non-nil
// error marks a transient fetch failure; the page yields nothing but the
// caller may move on to the next unit of work.
func (s *Scraper) ScrapeSearchPage(ctx context.Context, query string, pageNum int) (products []*models.RawProduct, more bool, err error) {
	pageURL := s.SearchURL(query, pageNum)
	s.logger.Info("[amazon] Scraping page %d — %s", pageNum, pageURL)

	if !s.guard.CanFetch(pageURL) {
		return nil, false, nil
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	navErr := s.retry.Do(ctx, fmt.Sprintf("load-page-%d", pageNum), func() error {
		navCtx, cancel := context.WithTimeout(tabCtx, time.Duration(s.cfg.RequestTimeout)*time.Second)
		defer cancel()
		return chromedp.Run(navCtx, chromedp.Navigate(pageURL))
	})
	if navErr != nil {
		s.logger.Error("[amazon] Page %d failed to load: %v", pageNum, navErr)
		return nil, true, navErr
	}

	// Structural marker wait. Absence is "no data", not a fault.
	waitCtx, cancelWait := context.WithTimeout(tabCtx, markerWaitTimeout)
	err = chromedp.Run(waitCtx, chromedp.WaitReady(resultContainerSelector, chromedp.ByQuery))
	cancelWait()
	if err != nil {
		s.logger.Warn("[amazon] Page %d has no result container — stopping pagination", pageNum)
		return nil, false, nil
	}

	html, err := s.settleAndCapture(tabCtx)
	if err != nil {
		s.logger.Error("[amazon] Page %d capture failed: %v", pageNum, err)
		return nil, true, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.logger.Error("[amazon] Page %d parse failed: %v", pageNum, err)
		return nil, true, err
	}

	raw := s.extractPage(doc, query)
	s.logger.Info("[amazon] Page %d — extracted %d products", pageNum, len(raw))

	// Inter-page pacing: sleep a random duration within the configured
	// window before the caller may request the next page.
	pause := utils.RandomDelay(s.cfg.MinDelaySec, s.cfg.MaxDelaySec)
	s.logger.Debug("[amazon] Pacing delay %.2fs", pause.Seconds())
	select {
	case <-ctx.Done():
		return raw, false, ctx.Err()
	case <-time.After(pause):
	}

	return raw, true, nil
}

// settleAndCapture runs two scroll-to-bottom cycles with settle pauses to
// surface lazily rendered listings, then captures the rendered HTML.
func (s *Scraper) settleAndCapture(tabCtx context.Context) (string, error) {
	capCtx, cancel := context.WithTimeout(tabCtx, time.Duration(s.cfg.RequestTimeout)*time.Second)
	defer cancel()

	var html string
	err := chromedp.Run(capCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(scrollSettle),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(scrollSettle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("amazon: capture rendered page: %w", err)
	}
	return html, nil
}

// extractPage pulls raw products out of a parsed document, skipping ASINs
// already seen earlier in the run.
func (s *Scraper) extractPage(doc *goquery.Document, category string) []*models.RawProduct {
	extracted := ExtractProducts(doc, s.cfg.BaseURL, category, s.logger)

	kept := extracted[:0]
	for _, p := range extracted {
		if p.ASIN != "" && !s.seen.Add(p.ASIN) {
			s.logger.Debug("[amazon] Skipping duplicate ASIN %s", p.ASIN)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// findChromeBinary locates a Chrome/Chromium binary, preferring the
// configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
