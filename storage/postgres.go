package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"deal-scraper/models"
	"deal-scraper/utils"
)

// Store persists products, price history, categories and crawl sessions to
// PostgreSQL. Each logical write runs in its own transaction: a failure on
// one record never rolls back previously committed records.
type Store struct {
	db              *sql.DB
	logger          *utils.Logger
	historyOnChange bool
}

// NewStore opens a connection to PostgreSQL, runs schema migrations, and
// returns a ready-to-use Store. Unreachable storage at startup is fatal for
// the run.
func NewStore(dsn string, historyOnChange bool, logger *utils.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := NewStoreWithDB(db, historyOnChange, logger)
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB wraps an existing database handle. Used by tests and by
// callers that manage the connection lifecycle themselves.
func NewStoreWithDB(db *sql.DB, historyOnChange bool, logger *utils.Logger) *Store {
	return &Store{db: db, logger: logger, historyOnChange: historyOnChange}
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id                  SERIAL PRIMARY KEY,
			asin                VARCHAR(20)  UNIQUE NOT NULL,
			title               TEXT         NOT NULL,
			brand               VARCHAR(255),
			category            VARCHAR(100) NOT NULL,
			current_price       NUMERIC(10,2),
			original_price      NUMERIC(10,2),
			discount_percentage INTEGER,
			rating              NUMERIC(3,2),
			review_count        INTEGER,
			product_url         TEXT NOT NULL,
			image_url           TEXT,
			availability        VARCHAR(50),
			is_sponsored        BOOLEAN     NOT NULL DEFAULT FALSE,
			first_seen_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS price_history (
			id                  SERIAL PRIMARY KEY,
			product_asin        VARCHAR(20) NOT NULL REFERENCES products(asin) ON DELETE CASCADE,
			price               NUMERIC(10,2) NOT NULL,
			original_price      NUMERIC(10,2),
			discount_percentage INTEGER,
			recorded_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS categories (
			id              SERIAL PRIMARY KEY,
			name            VARCHAR(100) UNIQUE NOT NULL,
			description     TEXT,
			total_products  INTEGER     NOT NULL DEFAULT 0,
			last_scraped_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS crawl_sessions (
			id             SERIAL PRIMARY KEY,
			session_id     VARCHAR(36) UNIQUE NOT NULL,
			category       VARCHAR(100),
			pages_scraped  INTEGER NOT NULL DEFAULT 0,
			products_found INTEGER NOT NULL DEFAULT 0,
			products_saved INTEGER NOT NULL DEFAULT 0,
			errors_count   INTEGER NOT NULL DEFAULT 0,
			status         VARCHAR(20) NOT NULL DEFAULT 'running',
			started_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at   TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
		CREATE INDEX IF NOT EXISTS idx_products_brand    ON products(brand);
		CREATE INDEX IF NOT EXISTS idx_products_discount ON products(discount_percentage);
		CREATE INDEX IF NOT EXISTS idx_history_asin      ON price_history(product_asin);
		CREATE INDEX IF NOT EXISTS idx_history_recorded  ON price_history(recorded_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_started  ON crawl_sessions(started_at);
	`)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetProductByASIN returns the stored product for an ASIN, or nil when the
// product has never been seen.
func (s *Store) GetProductByASIN(asin string) (*models.Product, error) {
	row := s.db.QueryRow(`
		SELECT id, asin, title, brand, category, current_price, original_price,
		       discount_percentage, rating, review_count, product_url, image_url,
		       availability, is_sponsored, first_seen_at, last_updated_at, created_at
		FROM products WHERE asin = $1
	`, asin)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get product %s: %w", asin, err)
	}
	return p, nil
}

// UpsertProduct inserts a new product or updates the existing row for the
// same ASIN. The identifier, first-seen and created timestamps are immutable
// after creation. On the update path a price-history entry is appended
// whenever a current price is present: unconditionally by default, or only
// on an actual price change when the store was built with historyOnChange.
func (s *Store) UpsertProduct(p *models.Product) (isNew bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("postgres: begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var prevPrice sql.NullFloat64
	lookupErr := tx.QueryRow(
		`SELECT current_price FROM products WHERE asin = $1`, p.ASIN,
	).Scan(&prevPrice)

	switch {
	case errors.Is(lookupErr, sql.ErrNoRows):
		_, err = tx.Exec(`
			INSERT INTO products (asin, title, brand, category, current_price,
				original_price, discount_percentage, rating, review_count,
				product_url, image_url, availability, is_sponsored,
				first_seen_at, last_updated_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`, p.ASIN, p.Title, nullStr(p.Brand), p.Category, nullFloat(p.CurrentPrice),
			nullFloat(p.OriginalPrice), nullInt(p.DiscountPercentage),
			nullFloat(p.Rating), nullInt(p.ReviewCount),
			p.ProductURL, nullStr(p.ImageURL), nullStr(p.Availability),
			p.IsSponsored, p.FirstSeenAt, p.LastUpdatedAt, p.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("postgres: insert product %s: %w", p.ASIN, err)
		}
		isNew = true

	case lookupErr != nil:
		err = fmt.Errorf("postgres: lookup product %s: %w", p.ASIN, lookupErr)
		return false, err

	default:
		_, err = tx.Exec(`
			UPDATE products SET title=$2, brand=$3, category=$4, current_price=$5,
				original_price=$6, discount_percentage=$7, rating=$8,
				review_count=$9, product_url=$10, image_url=$11,
				availability=$12, is_sponsored=$13, last_updated_at=NOW()
			WHERE asin=$1
		`, p.ASIN, p.Title, nullStr(p.Brand), p.Category, nullFloat(p.CurrentPrice),
			nullFloat(p.OriginalPrice), nullInt(p.DiscountPercentage),
			nullFloat(p.Rating), nullInt(p.ReviewCount),
			p.ProductURL, nullStr(p.ImageURL), nullStr(p.Availability), p.IsSponsored)
		if err != nil {
			return false, fmt.Errorf("postgres: update product %s: %w", p.ASIN, err)
		}

		if p.CurrentPrice != nil && s.shouldRecordHistory(prevPrice, *p.CurrentPrice) {
			_, err = tx.Exec(`
				INSERT INTO price_history (product_asin, price, original_price, discount_percentage, recorded_at)
				VALUES ($1,$2,$3,$4,NOW())
			`, p.ASIN, *p.CurrentPrice, nullFloat(p.OriginalPrice), nullInt(p.DiscountPercentage))
			if err != nil {
				return false, fmt.Errorf("postgres: append price history %s: %w", p.ASIN, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("postgres: commit upsert %s: %w", p.ASIN, err)
	}
	return isNew, nil
}

// shouldRecordHistory implements the observation-vs-change policy: every
// observation is recorded unless the store was configured to only track
// actual price changes.
func (s *Store) shouldRecordHistory(prev sql.NullFloat64, current float64) bool {
	if !s.historyOnChange {
		return true
	}
	return !prev.Valid || prev.Float64 != current
}

// BulkUpsert iterates a batch, counting created vs. updated rows. A failure
// on one record is logged and counted; the batch continues.
func (s *Store) BulkUpsert(products []*models.Product) (created, updated, failed int) {
	for _, p := range products {
		isNew, err := s.UpsertProduct(p)
		if err != nil {
			s.logger.Error("[storage] Upsert %s failed: %v", p.ASIN, err)
			failed++
			continue
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	s.logger.Info("[storage] Bulk upsert: %d created, %d updated, %d failed",
		created, updated, failed)
	return created, updated, failed
}

// GetPriceHistory returns a product's price observations, newest first.
func (s *Store) GetPriceHistory(asin string, limit int) ([]*models.PriceHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, product_asin, price, original_price, discount_percentage, recorded_at
		FROM price_history
		WHERE product_asin = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, asin, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: price history %s: %w", asin, err)
	}
	defer rows.Close()

	var entries []*models.PriceHistory
	for rows.Next() {
		h := &models.PriceHistory{}
		var orig sql.NullFloat64
		var disc sql.NullInt64
		if err := rows.Scan(&h.ID, &h.ProductASIN, &h.Price, &orig, &disc, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan price history: %w", err)
		}
		if orig.Valid {
			v := orig.Float64
			h.OriginalPrice = &v
		}
		if disc.Valid {
			v := int(disc.Int64)
			h.DiscountPercentage = &v
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// GetOrCreateCategory looks a category up by name, creating it with a
// default description when absent.
func (s *Store) GetOrCreateCategory(name string) (*models.Category, error) {
	c := &models.Category{}
	var desc sql.NullString
	var lastScraped sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, name, description, total_products, last_scraped_at, created_at
		FROM categories WHERE name = $1
	`, name).Scan(&c.ID, &c.Name, &desc, &c.TotalProducts, &lastScraped, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		description := fmt.Sprintf("Products in %s category", name)
		err = s.db.QueryRow(`
			INSERT INTO categories (name, description) VALUES ($1, $2)
			RETURNING id, name, description, total_products, last_scraped_at, created_at
		`, name, description).Scan(&c.ID, &c.Name, &desc, &c.TotalProducts, &lastScraped, &c.CreatedAt)
		if err == nil {
			s.logger.Info("[storage] Created category %q", name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get or create category %q: %w", name, err)
	}

	c.Description = desc.String
	if lastScraped.Valid {
		t := lastScraped.Time
		c.LastScrapedAt = &t
	}
	return c, nil
}

// RefreshCategoryStats recomputes the cached product count from live product
// rows and stamps the last-scraped time.
func (s *Store) RefreshCategoryStats(name string) error {
	_, err := s.db.Exec(`
		UPDATE categories
		SET total_products = (SELECT COUNT(*) FROM products WHERE category = $1),
		    last_scraped_at = NOW()
		WHERE name = $1
	`, name)
	if err != nil {
		return fmt.Errorf("postgres: refresh category stats %q: %w", name, err)
	}
	return nil
}

// FetchProductsByCategory returns persisted products for the insight pass.
func (s *Store) FetchProductsByCategory(category string, limit int) ([]*models.Product, error) {
	rows, err := s.db.Query(`
		SELECT id, asin, title, brand, category, current_price, original_price,
		       discount_percentage, rating, review_count, product_url, image_url,
		       availability, is_sponsored, first_seen_at, last_updated_at, created_at
		FROM products
		WHERE category = $1
		ORDER BY last_updated_at DESC
		LIMIT $2
	`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch products %q: %w", category, err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreateSession opens a crawl session in running state and returns its
// identifier.
func (s *Store) CreateSession(category string) (string, error) {
	sessionID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO crawl_sessions (session_id, category, status, started_at)
		VALUES ($1, $2, $3, NOW())
	`, sessionID, category, models.SessionRunning)
	if err != nil {
		return "", fmt.Errorf("postgres: create session: %w", err)
	}
	s.logger.Info("[storage] Started crawl session %s for %q", sessionID, category)
	return sessionID, nil
}

// UpdateSessionCounters writes the cumulative run counters for a session.
func (s *Store) UpdateSessionCounters(sessionID string, pages, found, saved, errCount int) error {
	_, err := s.db.Exec(`
		UPDATE crawl_sessions
		SET pages_scraped=$2, products_found=$3, products_saved=$4, errors_count=$5
		WHERE session_id=$1
	`, sessionID, pages, found, saved, errCount)
	if err != nil {
		return fmt.Errorf("postgres: update session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession finalizes a session to a terminal status. Sessions already in a
// terminal state are left untouched: status transitions are one-directional.
func (s *Store) EndSession(sessionID, status string) error {
	if status != models.SessionCompleted && status != models.SessionFailed {
		return fmt.Errorf("postgres: %q is not a terminal session status", status)
	}

	res, err := s.db.Exec(`
		UPDATE crawl_sessions
		SET status=$2, completed_at=NOW()
		WHERE session_id=$1 AND status=$3
	`, sessionID, status, models.SessionRunning)
	if err != nil {
		return fmt.Errorf("postgres: end session %s: %w", sessionID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Warn("[storage] Session %s already finalized — ignoring %q", sessionID, status)
		return nil
	}
	s.logger.Info("[storage] Ended crawl session %s: %s", sessionID, status)
	return nil
}

// GetSession returns the bookkeeping row for a session.
func (s *Store) GetSession(sessionID string) (*models.CrawlSession, error) {
	cs := &models.CrawlSession{}
	var completed sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, session_id, category, pages_scraped, products_found,
		       products_saved, errors_count, status, started_at, completed_at
		FROM crawl_sessions WHERE session_id = $1
	`, sessionID).Scan(&cs.ID, &cs.SessionID, &cs.Category, &cs.PagesScraped,
		&cs.ProductsFound, &cs.ProductsSaved, &cs.ErrorsCount, &cs.Status,
		&cs.StartedAt, &completed)
	if err != nil {
		return nil, fmt.Errorf("postgres: get session %s: %w", sessionID, err)
	}
	if completed.Valid {
		t := completed.Time
		cs.CompletedAt = &t
	}
	return cs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	p := &models.Product{}
	var brand, imageURL, availability sql.NullString
	var curPrice, origPrice, rating sql.NullFloat64
	var discount, reviews sql.NullInt64

	err := row.Scan(&p.ID, &p.ASIN, &p.Title, &brand, &p.Category, &curPrice,
		&origPrice, &discount, &rating, &reviews, &p.ProductURL, &imageURL,
		&availability, &p.IsSponsored, &p.FirstSeenAt, &p.LastUpdatedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.Brand = brand.String
	p.ImageURL = imageURL.String
	p.Availability = availability.String
	if curPrice.Valid {
		v := curPrice.Float64
		p.CurrentPrice = &v
	}
	if origPrice.Valid {
		v := origPrice.Float64
		p.OriginalPrice = &v
	}
	if rating.Valid {
		v := rating.Float64
		p.Rating = &v
	}
	if discount.Valid {
		v := int(discount.Int64)
		p.DiscountPercentage = &v
	}
	if reviews.Valid {
		v := int(reviews.Int64)
		p.ReviewCount = &v
	}
	return p, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
