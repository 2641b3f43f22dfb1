// Package pipeline wires the crawl policy guard, page fetcher, cleaner and
// store into the scrape→clean→validate→persist run loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"deal-scraper/config"
	"deal-scraper/models"
	"deal-scraper/services"
	"deal-scraper/storage"
	"deal-scraper/utils"
)

// PageFetcher produces raw products one page at a time. The more flag is
// false when paging for the query should stop; a non-nil error marks a
// transient page failure the run survives.
type PageFetcher interface {
	ScrapeSearchPage(ctx context.Context, query string, pageNum int) ([]*models.RawProduct, bool, error)
}

// Pipeline is the single logical worker: one page in flight, one record
// persisted at a time.
type Pipeline struct {
	cfg      *config.Config
	fetcher  PageFetcher
	cleaner  *services.Cleaner
	store    storage.ProductStore
	exporter storage.ProductExporter
	logger   *utils.Logger
}

// New assembles a Pipeline from its collaborators.
func New(cfg *config.Config, fetcher PageFetcher, cleaner *services.Cleaner,
	store storage.ProductStore, exporter storage.ProductExporter, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		cleaner:  cleaner,
		store:    store,
		exporter: exporter,
		logger:   logger,
	}
}

// Run scrapes up to maxPages result pages for the query and persists every
// record that survives cleaning and validation. Stats are returned even when
// the run fails partway, so operators can quantify data loss. A non-nil
// error means the run was fatal and the session was finalized as failed.
func (p *Pipeline) Run(ctx context.Context, query, categoryName string, maxPages int) (*models.RunStats, error) {
	stats := &models.RunStats{}

	sessionID, err := p.store.CreateSession(categoryName)
	if err != nil {
		return stats, fmt.Errorf("pipeline: start session: %w", err)
	}

	if _, err := p.store.GetOrCreateCategory(categoryName); err != nil {
		p.finalize(sessionID, models.SessionFailed)
		return stats, fmt.Errorf("pipeline: category %q: %w", categoryName, err)
	}

	exported, runErr := p.scrapeAndPersist(ctx, sessionID, query, categoryName, maxPages, stats)

	if err := p.store.RefreshCategoryStats(categoryName); err != nil {
		p.logger.Error("[pipeline] Category stats refresh failed: %v", err)
	}

	if p.exporter != nil && len(exported) > 0 {
		if err := p.exporter.Export(exported); err != nil {
			p.logger.Error("[pipeline] Export failed: %v", err)
		} else {
			p.logger.Success("[pipeline] Exported %d records", len(exported))
		}
	}

	if runErr != nil {
		p.finalize(sessionID, models.SessionFailed)
		return stats, runErr
	}

	p.finalize(sessionID, models.SessionCompleted)
	p.logger.Success("[pipeline] Run complete — scraped %d, saved %d, updated %d, failed %d",
		stats.Scraped, stats.Saved, stats.Updated, stats.Failed)
	return stats, nil
}

// scrapeAndPersist drives the sequential page loop. Only a cancelled context
// is fatal here; page-level failures are counted and survived.
func (p *Pipeline) scrapeAndPersist(ctx context.Context, sessionID, query, categoryName string,
	maxPages int, stats *models.RunStats) ([]*models.Product, error) {

	var exported []*models.Product

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return exported, fmt.Errorf("pipeline: aborted: %w", err)
		}

		raw, more, err := p.fetcher.ScrapeSearchPage(ctx, query, page)
		if err != nil {
			// Cancellation mid-fetch or mid-pacing aborts the run; it is
			// not a page failure.
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return exported, fmt.Errorf("pipeline: aborted: %w", err)
			}
			p.logger.Error("[pipeline] Page %d failed: %v", page, err)
			stats.Failed++
		} else if more {
			// Only pages that actually rendered count as scraped; a
			// robots block or a missing result container fetched nothing.
			stats.PagesScraped++
		}

		stats.Scraped += len(raw)
		for _, r := range raw {
			r.Category = categoryName
			if cleaned := p.persistOne(r, stats); cleaned != nil {
				exported = append(exported, cleaned)
			}
		}

		p.updateCounters(sessionID, stats)

		if !more {
			p.logger.Info("[pipeline] No further pages after page %d", page)
			break
		}
		if stats.Scraped >= p.cfg.MaxProducts {
			p.logger.Warn("[pipeline] Product cap %d reached — stopping", p.cfg.MaxProducts)
			break
		}
	}

	return exported, nil
}

// persistOne cleans, validates and upserts a single raw record, adjusting
// the run counters. Returns the cleaned record, or nil when it was rejected
// or the write failed.
func (p *Pipeline) persistOne(raw *models.RawProduct, stats *models.RunStats) *models.Product {
	cleaned, err := p.cleaner.Prepare(raw)
	if err != nil {
		p.logger.Warn("[pipeline] %v", err)
		stats.Failed++
		return nil
	}

	isNew, err := p.store.UpsertProduct(cleaned)
	if err != nil {
		p.logger.Error("[pipeline] Persist %s failed: %v", cleaned.ASIN, err)
		stats.Failed++
		return nil
	}

	if isNew {
		stats.Saved++
		p.logger.Success("[pipeline] Saved new product %s", cleaned.ASIN)
	} else {
		stats.Updated++
		p.logger.Debug("[pipeline] Updated product %s", cleaned.ASIN)
	}
	return cleaned
}

func (p *Pipeline) updateCounters(sessionID string, stats *models.RunStats) {
	err := p.store.UpdateSessionCounters(sessionID,
		stats.PagesScraped, stats.Scraped, stats.Saved+stats.Updated, stats.Failed)
	if err != nil {
		p.logger.Error("[pipeline] Session counter update failed: %v", err)
	}
}

func (p *Pipeline) finalize(sessionID, status string) {
	if err := p.store.EndSession(sessionID, status); err != nil {
		p.logger.Error("[pipeline] Session finalize failed: %v", err)
	}
}
