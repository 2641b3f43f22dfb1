package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deal-scraper/models"
)

// JSONWriter exports a run's cleaned records as a list-of-records JSON
// document for offline inspection or re-ingestion.
type JSONWriter struct {
	path string
}

// exportRecord is the serialized shape of one cleaned product.
type exportRecord struct {
	ASIN               string   `json:"asin"`
	Title              string   `json:"title"`
	Brand              string   `json:"brand,omitempty"`
	Category           string   `json:"category"`
	CurrentPrice       *float64 `json:"current_price"`
	OriginalPrice      *float64 `json:"original_price"`
	DiscountPercentage *int     `json:"discount_percentage"`
	Rating             *float64 `json:"rating"`
	ReviewCount        *int     `json:"review_count"`
	ProductURL         string   `json:"product_url"`
	ImageURL           string   `json:"image_url,omitempty"`
	Availability       string   `json:"availability,omitempty"`
	IsSponsored        bool     `json:"is_sponsored"`
	ScrapedAt          string   `json:"scraped_at"`
}

// NewJSONWriter prepares an export writer targeting the given path.
// Intermediate directories are created automatically.
func NewJSONWriter(path string) (*JSONWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("json: create output dir: %w", err)
	}
	return &JSONWriter{path: path}, nil
}

// Export writes the whole collection as one pretty-printed JSON array,
// replacing any previous export at the same path.
func (w *JSONWriter) Export(products []*models.Product) error {
	records := make([]exportRecord, 0, len(products))
	for _, p := range products {
		records = append(records, exportRecord{
			ASIN:               p.ASIN,
			Title:              p.Title,
			Brand:              p.Brand,
			Category:           p.Category,
			CurrentPrice:       p.CurrentPrice,
			OriginalPrice:      p.OriginalPrice,
			DiscountPercentage: p.DiscountPercentage,
			Rating:             p.Rating,
			ReviewCount:        p.ReviewCount,
			ProductURL:         p.ProductURL,
			ImageURL:           p.ImageURL,
			Availability:       p.Availability,
			IsSponsored:        p.IsSponsored,
			ScrapedAt:          p.LastUpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("json: marshal export: %w", err)
	}

	if err := os.WriteFile(w.path, data, 0644); err != nil {
		return fmt.Errorf("json: write %q: %w", w.path, err)
	}
	return nil
}
