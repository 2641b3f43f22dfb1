// Package robots gates every fetch against the crawl target's robots.txt.
package robots

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"

	"deal-scraper/utils"
)

const robotsPath = "/robots.txt"

// maxBodyBytes limits how much of a robots.txt response is read.
const maxBodyBytes = 512 * 1024

// Guard evaluates the crawl target's robots.txt for a single run. The policy
// is fetched once at construction; a Guard holds no persisted state.
type Guard struct {
	baseURL   string
	userAgent string
	logger    *utils.Logger
	group     *robotstxt.Group
	loaded    bool
}

// NewGuard fetches and parses {baseURL}/robots.txt. A policy that cannot be
// fetched or parsed leaves the guard permissive: some sites block the policy
// document itself, and that must not stall the run.
func NewGuard(client *http.Client, baseURL, userAgent string, logger *utils.Logger) *Guard {
	g := &Guard{baseURL: baseURL, userAgent: userAgent, logger: logger}

	resp, err := client.Get(baseURL + robotsPath)
	if err != nil {
		logger.Warn("[robots] Could not load robots.txt: %v — allowing all", err)
		return g
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("[robots] robots.txt returned status %d — allowing all", resp.StatusCode)
		return g
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("[robots] Could not read robots.txt: %v — allowing all", err)
		return g
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		logger.Warn("[robots] Could not parse robots.txt: %v — allowing all", err)
		return g
	}

	g.group = data.FindGroup(userAgent)
	g.loaded = true
	logger.Info("[robots] Loaded robots.txt from %s", baseURL)
	return g
}

// Disabled returns a guard that allows every URL without fetching a policy.
func Disabled(logger *utils.Logger) *Guard {
	return &Guard{logger: logger}
}

// CanFetch reports whether the given URL may be fetched under the loaded
// policy. When no policy is loaded the guard is permissive.
func (g *Guard) CanFetch(rawURL string) bool {
	if !g.loaded || g.group == nil {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		g.logger.Warn("[robots] Unparseable URL %q — allowing", rawURL)
		return true
	}

	path := parsed.Path
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}

	allowed := g.group.Test(path)
	if !allowed {
		g.logger.Warn("[robots] Blocked by robots.txt: %s", rawURL)
	}
	return allowed
}

// CrawlDelay returns the crawl-delay directive for our user agent, or zero
// when the policy carries none.
func (g *Guard) CrawlDelay() time.Duration {
	if !g.loaded || g.group == nil {
		return 0
	}
	return g.group.CrawlDelay
}
