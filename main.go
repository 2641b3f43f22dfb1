package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deal-scraper/config"
	"deal-scraper/pipeline"
	"deal-scraper/scraper/amazon"
	"deal-scraper/scraper/robots"
	"deal-scraper/services"
	"deal-scraper/storage"
	"deal-scraper/utils"
)

const crawlerUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	// All teardown lives behind run's defers, so the browser and the
	// connection pool are released on every exit path before the process
	// status is decided.
	if err := run(cfg, logger); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	logger.Info("=== Amazon Deal Scraper starting ===")
	logger.Info("Config — query: %q | pages: %d | max products: %d | delay: %d-%ds | retries: %d",
		cfg.SearchQuery, cfg.MaxPages, cfg.MaxProducts, cfg.MinDelaySec, cfg.MaxDelaySec, cfg.MaxRetries)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.DSN(), cfg.PriceHistoryOnChange, logger)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		return err
	}
	defer store.Close()

	jsonWriter, err := storage.NewJSONWriter(cfg.JSONOutputPath)
	if err != nil {
		logger.Error("Failed to create JSON writer: %v", err)
		return err
	}

	var guard *robots.Guard
	if cfg.RespectRobots {
		guard = robots.NewGuard(&http.Client{Timeout: 15 * time.Second}, cfg.BaseURL, crawlerUserAgent, logger)
		if d := guard.CrawlDelay(); d > time.Duration(cfg.MaxDelaySec)*time.Second {
			logger.Warn("robots.txt requests a crawl delay of %s, above the configured %ds ceiling", d, cfg.MaxDelaySec)
		}
	} else {
		logger.Warn("RESPECT_ROBOTS=false — skipping robots.txt checks")
		guard = robots.Disabled(logger)
	}

	scraper := amazon.New(cfg, logger, guard)
	if err := scraper.Start(ctx); err != nil {
		logger.Error("Browser startup failed: %v", err)
		return err
	}
	defer scraper.Close()

	cleaner := services.NewCleaner(logger)
	pipe := pipeline.New(cfg, scraper, cleaner, store, jsonWriter, logger)

	stats, err := pipe.Run(ctx, cfg.SearchQuery, cfg.CategoryName, cfg.MaxPages)
	if err != nil {
		logger.Error("Crawl run failed: %v", err)
		logger.Info("Partial stats — pages: %d | scraped: %d | saved: %d | updated: %d | failed: %d",
			stats.PagesScraped, stats.Scraped, stats.Saved, stats.Updated, stats.Failed)
		return err
	}

	logger.Success("Crawl finished — pages: %d | scraped: %d | saved: %d | updated: %d | failed: %d",
		stats.PagesScraped, stats.Scraped, stats.Saved, stats.Updated, stats.Failed)

	products, err := store.FetchProductsByCategory(cfg.CategoryName, cfg.MaxProducts)
	if err != nil {
		logger.Error("Failed to fetch products from DB for insights: %v", err)
		return err
	}

	insightSvc := services.NewInsightService(logger)
	report := insightSvc.Generate(products)
	insightSvc.Print(report)

	fmt.Printf("  Done. Snapshot → %s | Products → PostgreSQL (products table)\n\n",
		cfg.JSONOutputPath)
	return nil
}
