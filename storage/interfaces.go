package storage

import "deal-scraper/models"

// ProductStore is the persistence surface the pipeline writes through.
type ProductStore interface {
	UpsertProduct(p *models.Product) (isNew bool, err error)
	GetOrCreateCategory(name string) (*models.Category, error)
	RefreshCategoryStats(name string) error
	CreateSession(category string) (string, error)
	UpdateSessionCounters(sessionID string, pages, found, saved, errCount int) error
	EndSession(sessionID, status string) error
}

// ProductExporter writes a run's cleaned records to an offline artifact.
type ProductExporter interface {
	Export(products []*models.Product) error
}
