package services

import (
	"fmt"
	"strings"
	"testing"

	"deal-scraper/models"
	"deal-scraper/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger() }

func validRaw() *models.RawProduct {
	return &models.RawProduct{
		ASIN:              "B0CN12ABC1",
		Title:             "Lenovo IdeaPad 3 Laptop 15.6 inch FHD",
		Brand:             "Lenovo",
		Category:          "Laptops",
		PriceText:         "$1,369.99",
		OriginalPriceText: "$1,899.00",
		RatingText:        "4.5 out of 5 stars",
		ReviewCountText:   "(117)",
		ProductURL:        "https://www.amazon.com/dp/B0CN12ABC1",
		ImageURL:          "https://m.media-amazon.com/images/I/abc.jpg",
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want *float64
	}{
		{"$1,369.99", f64(1369.99)},
		{"$1,899.00", f64(1899.00)},
		{"$29.99", f64(29.99)},
		{"€499", f64(499)},
		{"", nil},
		{"Price unavailable", nil},
	}

	for _, tt := range tests {
		got := ParsePrice(tt.raw)
		if !f64Equal(got, tt.want) {
			t.Errorf("ParsePrice(%q) = %v; want %v", tt.raw, deref(got), deref(tt.want))
		}
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		raw  string
		want *float64
	}{
		{"4.5 out of 5 stars", f64(4.5)},
		{"5 out of 5 stars", f64(5)},
		{"3.9", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := ParseRating(tt.raw)
		if !f64Equal(got, tt.want) {
			t.Errorf("ParseRating(%q) = %v; want %v", tt.raw, deref(got), deref(tt.want))
		}
	}
}

func TestParseReviewCount(t *testing.T) {
	tests := []struct {
		raw  string
		want *int
	}{
		{"(117)", i(117)},
		{"1,234", i(1234)},
		{"(2,005)", i(2005)},
		{"(3.9K)", nil},
		{"", nil},
		{"No reviews", nil},
	}

	for _, tt := range tests {
		got := ParseReviewCount(tt.raw)
		if !intEqual(got, tt.want) {
			t.Errorf("ParseReviewCount(%q) = %v; want %v", tt.raw, derefInt(got), derefInt(tt.want))
		}
	}
}

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		original *float64
		current  *float64
		want     *int
	}{
		{f64(1899.00), f64(1369.99), i(28)},
		{f64(100), f64(50), i(50)},
		{f64(100), f64(100), nil}, // no discount when equal
		{f64(50), f64(100), nil},  // undefined when current exceeds original
		{nil, f64(100), nil},
		{f64(100), nil, nil},
	}

	for _, tt := range tests {
		got := CalculateDiscount(tt.original, tt.current)
		if !intEqual(got, tt.want) {
			t.Errorf("CalculateDiscount(%v, %v) = %v; want %v",
				deref(tt.original), deref(tt.current), derefInt(got), derefInt(tt.want))
		}
	}
}

func TestCalculateDiscountStaysInRange(t *testing.T) {
	pairs := [][2]float64{
		{1899.00, 1369.99}, {100, 0.01}, {5.5, 5.49}, {99999, 1},
	}
	for _, p := range pairs {
		d := CalculateDiscount(f64(p[0]), f64(p[1]))
		if d == nil {
			t.Fatalf("discount for (%v, %v) should be defined", p[0], p[1])
		}
		if *d < 0 || *d > 100 {
			t.Errorf("discount for (%v, %v) = %d, outside [0,100]", p[0], p[1], *d)
		}
	}
}

func TestCleanScenario(t *testing.T) {
	c := NewCleaner(newTestLogger())
	p := c.Clean(validRaw())

	if p.CurrentPrice == nil || *p.CurrentPrice != 1369.99 {
		t.Errorf("current price: got %v", deref(p.CurrentPrice))
	}
	if p.OriginalPrice == nil || *p.OriginalPrice != 1899.00 {
		t.Errorf("original price: got %v", deref(p.OriginalPrice))
	}
	if p.DiscountPercentage == nil || *p.DiscountPercentage != 28 {
		t.Errorf("discount: got %v, want 28", derefInt(p.DiscountPercentage))
	}
	if p.ReviewCount == nil || *p.ReviewCount != 117 {
		t.Errorf("review count: got %v, want 117", derefInt(p.ReviewCount))
	}
	if p.FirstSeenAt.IsZero() || p.LastUpdatedAt.IsZero() || p.CreatedAt.IsZero() {
		t.Error("timestamps must be stamped on clean")
	}
}

func TestValidateRejectsWithSpecificReasons(t *testing.T) {
	c := NewCleaner(newTestLogger())

	tests := []struct {
		name   string
		mutate func(*models.RawProduct)
		reason string
	}{
		{"missing asin", func(r *models.RawProduct) { r.ASIN = "" }, "missing required field: asin"},
		{"short asin", func(r *models.RawProduct) { r.ASIN = "B0SHORT" }, "must be exactly 10 characters"},
		{"long asin", func(r *models.RawProduct) { r.ASIN = "B0CN12ABC1X" }, "must be exactly 10 characters"},
		{"missing title", func(r *models.RawProduct) { r.Title = "" }, "missing required field: title"},
		{"short title", func(r *models.RawProduct) { r.Title = "HP" }, "title too short"},
		{"bad url", func(r *models.RawProduct) { r.ProductURL = "ftp://x" }, "invalid product_url"},
		{"bad image", func(r *models.RawProduct) { r.ImageURL = "//cdn/img.jpg" }, "invalid image_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)
			ok, reason := c.Validate(c.Clean(raw))
			if ok {
				t.Fatal("expected validation to fail")
			}
			if !strings.Contains(reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", reason, tt.reason)
			}
		})
	}
}

func TestValidateAcceptsCorrectLengthIdentifiers(t *testing.T) {
	c := NewCleaner(newTestLogger())

	for _, asin := range []string{"B0CN12ABC1", "1234567890", "ABCDEFGHIJ"} {
		raw := validRaw()
		raw.ASIN = asin
		if ok, reason := c.Validate(c.Clean(raw)); !ok {
			t.Errorf("asin %q rejected: %s", asin, reason)
		}
	}
}

func TestPrepareIsStableUnderReapplication(t *testing.T) {
	c := NewCleaner(newTestLogger())

	first, err := c.Prepare(validRaw())
	if err != nil {
		t.Fatalf("first prepare: %v", err)
	}

	// Feed the cleaned values back through as if re-scraped; the normalized
	// fields must come out identical.
	again := &models.RawProduct{
		ASIN:              first.ASIN,
		Title:             first.Title,
		Brand:             first.Brand,
		Category:          first.Category,
		PriceText:         fmt.Sprintf("$%.2f", *first.CurrentPrice),
		OriginalPriceText: fmt.Sprintf("$%.2f", *first.OriginalPrice),
		RatingText:        fmt.Sprintf("%.1f out of 5 stars", *first.Rating),
		ReviewCountText:   fmt.Sprintf("(%d)", *first.ReviewCount),
		ProductURL:        first.ProductURL,
		ImageURL:          first.ImageURL,
	}

	second, err := c.Prepare(again)
	if err != nil {
		t.Fatalf("second prepare: %v", err)
	}

	if second.ASIN != first.ASIN || second.Title != first.Title ||
		*second.CurrentPrice != *first.CurrentPrice ||
		*second.OriginalPrice != *first.OriginalPrice ||
		*second.DiscountPercentage != *first.DiscountPercentage ||
		*second.Rating != *first.Rating ||
		*second.ReviewCount != *first.ReviewCount {
		t.Error("prepare is not stable under repeated application")
	}
}

func TestPrepareBatchPartitions(t *testing.T) {
	c := NewCleaner(newTestLogger())

	batch := []*models.RawProduct{validRaw(), validRaw(), validRaw()}
	batch[1].ASIN = "B0XY34DEF2"
	batch[2].ASIN = "B0NO56GHI3"

	bad1 := validRaw()
	bad1.ASIN = "TOOSHORT"
	bad2 := validRaw()
	bad2.Title = ""
	batch = append(batch, bad1, bad2)

	accepted, rejected := c.PrepareBatch(batch)
	if len(accepted) != 3 {
		t.Errorf("accepted: got %d, want 3", len(accepted))
	}
	if len(rejected) != 2 {
		t.Fatalf("rejected: got %d, want 2", len(rejected))
	}
	for _, r := range rejected {
		if r.Reason == "" {
			t.Error("rejected entry missing reason")
		}
	}
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func f64Equal(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
