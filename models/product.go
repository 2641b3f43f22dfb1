package models

import "time"

// RawProduct holds the unprocessed strings extracted from one search-result
// element. It is handed straight to the cleaner and never persisted as-is.
type RawProduct struct {
	ASIN              string
	Title             string
	Brand             string
	PriceText         string
	OriginalPriceText string
	RatingText        string
	ReviewCountText   string
	ImageURL          string
	ProductURL        string
	IsSponsored       bool
	Category          string
	ScrapedAt         time.Time
}

// Product is the cleaned, validated record and the durable row in the
// products table, one per unique ASIN. Optional numeric fields stay nil when
// the page did not carry them.
type Product struct {
	ID                 int64
	ASIN               string
	Title              string
	Brand              string
	Category           string
	CurrentPrice       *float64
	OriginalPrice      *float64
	DiscountPercentage *int
	Rating             *float64
	ReviewCount        *int
	ProductURL         string
	ImageURL           string
	Availability       string
	IsSponsored        bool
	FirstSeenAt        time.Time
	LastUpdatedAt      time.Time
	CreatedAt          time.Time
}

// PriceHistory is one immutable price observation for a product. It
// references the product by ASIN only; rows are appended and never updated.
type PriceHistory struct {
	ID                 int64
	ProductASIN        string
	Price              float64
	OriginalPrice      *float64
	DiscountPercentage *int
	RecordedAt         time.Time
}

// Category is a denormalized aggregate over products sharing a category
// label. TotalProducts is a cached count recomputed from live rows.
type Category struct {
	ID            int64
	Name          string
	Description   string
	TotalProducts int
	LastScrapedAt *time.Time
	CreatedAt     time.Time
}

// Crawl session statuses. Transitions are one-directional: a session starts
// running and ends exactly once as completed or failed.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// CrawlSession is the bookkeeping row for one pipeline run.
type CrawlSession struct {
	ID            int64
	SessionID     string
	Category      string
	PagesScraped  int
	ProductsFound int
	ProductsSaved int
	ErrorsCount   int
	Status        string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// RunStats summarizes what a pipeline run did, returned even when the run
// ends partially failed so operators can quantify data loss.
type RunStats struct {
	PagesScraped int
	Scraped      int
	Saved        int
	Updated      int
	Failed       int
}

// DealReport holds the computed analytics over a category's products.
type DealReport struct {
	TotalProducts   int
	SponsoredCount  int
	AveragePrice    float64
	MinPrice        float64
	MaxPrice        float64
	BestDeal        *Product
	TopDiscounts    []*Product
	ProductsByBrand map[string]int
}
