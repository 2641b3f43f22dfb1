package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"deal-scraper/models"
	"deal-scraper/utils"
)

const (
	// asinLength is the fixed length of an Amazon product identifier.
	asinLength = 10
	// minTitleLength rejects truncated or placeholder titles.
	minTitleLength = 5
)

var (
	// priceRegexp captures a currency-formatted numeric value.
	priceRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	// ratingRegexp captures the leading numeric of "X.X out of 5 stars".
	ratingRegexp = regexp.MustCompile(`(\d+\.?\d*)\s*out of`)
	// digitsOnly strips grouping characters from review counts.
	digitsOnly = regexp.MustCompile(`^\d+$`)
	// asinRegexp validates the fixed-length alphanumeric identifier.
	asinRegexp = regexp.MustCompile(`^[A-Z0-9]{10}$`)
)

// Cleaner normalizes raw scraped products into validated records ready for
// storage. Clean and Validate can be applied independently; Prepare composes
// them and is the sole entry point used by the persistence stage.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean maps scraper-shaped fields onto the storage shape: currency strings
// become floats, grouped review counts become ints, the discount is derived
// from the price pair, and the bookkeeping timestamps are stamped to now.
func (c *Cleaner) Clean(raw *models.RawProduct) *models.Product {
	now := time.Now().UTC()

	current := ParsePrice(raw.PriceText)
	original := ParsePrice(raw.OriginalPriceText)

	return &models.Product{
		ASIN:               strings.ToUpper(strings.TrimSpace(raw.ASIN)),
		Title:              normaliseText(raw.Title),
		Brand:              strings.TrimSpace(raw.Brand),
		Category:           normaliseText(raw.Category),
		CurrentPrice:       current,
		OriginalPrice:      original,
		DiscountPercentage: CalculateDiscount(original, current),
		Rating:             ParseRating(raw.RatingText),
		ReviewCount:        ParseReviewCount(raw.ReviewCountText),
		ProductURL:         strings.TrimSpace(raw.ProductURL),
		ImageURL:           strings.TrimSpace(raw.ImageURL),
		IsSponsored:        raw.IsSponsored,
		FirstSeenAt:        now,
		LastUpdatedAt:      now,
		CreatedAt:          now,
	}
}

// Validate checks a cleaned product against the schema constraints. It fails
// closed: the first violation rejects the whole record with a specific
// reason.
func (c *Cleaner) Validate(p *models.Product) (bool, string) {
	if p.ASIN == "" {
		return false, "missing required field: asin"
	}
	if len(p.ASIN) != asinLength {
		return false, fmt.Sprintf("invalid asin %q: must be exactly %d characters", p.ASIN, asinLength)
	}
	if !asinRegexp.MatchString(p.ASIN) {
		return false, fmt.Sprintf("invalid asin %q: must be alphanumeric", p.ASIN)
	}
	if p.Title == "" {
		return false, "missing required field: title"
	}
	if len(p.Title) < minTitleLength {
		return false, fmt.Sprintf("title too short: %d characters", len(p.Title))
	}
	if p.CurrentPrice != nil && *p.CurrentPrice < 0 {
		return false, fmt.Sprintf("invalid current_price: %.2f", *p.CurrentPrice)
	}
	if p.OriginalPrice != nil && *p.OriginalPrice < 0 {
		return false, fmt.Sprintf("invalid original_price: %.2f", *p.OriginalPrice)
	}
	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		return false, fmt.Sprintf("invalid rating: %.2f (must be between 0 and 5)", *p.Rating)
	}
	if p.ReviewCount != nil && *p.ReviewCount < 0 {
		return false, fmt.Sprintf("invalid review_count: %d", *p.ReviewCount)
	}
	if p.DiscountPercentage != nil && (*p.DiscountPercentage < 0 || *p.DiscountPercentage > 100) {
		return false, fmt.Sprintf("invalid discount_percentage: %d", *p.DiscountPercentage)
	}
	if reason, ok := validURL("product_url", p.ProductURL); !ok {
		return false, reason
	}
	if reason, ok := validURL("image_url", p.ImageURL); !ok {
		return false, reason
	}
	return true, ""
}

// Prepare composes Clean then Validate.
func (c *Cleaner) Prepare(raw *models.RawProduct) (*models.Product, error) {
	cleaned := c.Clean(raw)
	if ok, reason := c.Validate(cleaned); !ok {
		return nil, fmt.Errorf("validation failed for %q: %s", raw.ASIN, reason)
	}
	return cleaned, nil
}

// Rejected pairs an invalid raw record with the reason it was dropped.
type Rejected struct {
	Raw    *models.RawProduct
	Reason string
}

// PrepareBatch partitions a collection of raw products into accepted cleaned
// records and rejections with reasons.
func (c *Cleaner) PrepareBatch(raw []*models.RawProduct) ([]*models.Product, []Rejected) {
	accepted := make([]*models.Product, 0, len(raw))
	var rejected []Rejected

	for _, r := range raw {
		cleaned := c.Clean(r)
		if ok, reason := c.Validate(cleaned); !ok {
			c.logger.Warn("[cleaner] Rejected %q: %s", r.ASIN, reason)
			rejected = append(rejected, Rejected{Raw: r, Reason: reason})
			continue
		}
		accepted = append(accepted, cleaned)
	}

	c.logger.Info("[cleaner] Batch: %d accepted, %d rejected of %d",
		len(accepted), len(rejected), len(raw))
	return accepted, rejected
}

// ParsePrice extracts a numeric price from currency text like "$1,369.99".
// Returns nil when no usable number is present.
func ParsePrice(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	match := priceRegexp.FindString(text)
	if match == "" {
		return nil
	}

	val, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &val
}

// ParseRating extracts the leading numeric from a phrase like
// "4.5 out of 5 stars". Returns nil when the phrase does not match.
func ParseRating(text string) *float64 {
	m := ratingRegexp.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &val
}

// ParseReviewCount extracts an integer from text like "(117)" or "1,234".
// Text with non-numeric residue, such as "(3.9K)", yields nil so the count
// is treated as absent.
func ParseReviewCount(text string) *int {
	cleaned := strings.NewReplacer("(", "", ")", "", ",", "").Replace(strings.TrimSpace(text))
	if !digitsOnly.MatchString(cleaned) {
		return nil
	}
	val, err := strconv.Atoi(cleaned)
	if err != nil {
		return nil
	}
	return &val
}

// CalculateDiscount derives the rounded discount percentage from a price
// pair. Defined only when original > current; otherwise nil.
func CalculateDiscount(original, current *float64) *int {
	if original == nil || current == nil || *original <= *current || *original <= 0 {
		return nil
	}
	discount := int(math.Round((*original - *current) / *original * 100))
	return &discount
}

func validURL(field, raw string) (string, bool) {
	if raw == "" {
		return "", true
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Sprintf("invalid %s: %s", field, raw), false
	}
	return "", true
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
