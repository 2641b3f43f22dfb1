package amazon

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"deal-scraper/models"
	"deal-scraper/utils"
)

// Selectors for the search-result page structure.
const (
	selTitle         = "h2 span"
	selLink          = "a.a-link-normal"
	selPrice         = "span.a-price span.a-offscreen"
	selOriginalPrice = `span[data-a-strike='true'] span.a-offscreen`
	selRating        = "span.a-icon-alt"
	selReviewBlock   = `div[data-cy='reviews-block'] span`
	selImage         = "img.s-image"
)

// asinFromLink matches the ASIN segment of a product detail URL.
var asinFromLink = regexp.MustCompile(`/dp/([A-Z0-9]+)`)

// reviewCandidate matches a parenthesized or comma-grouped integer such as
// "(117)" or "1,234". A suffixed form like "(3.9K)" does not match.
var reviewCandidate = regexp.MustCompile(`^\(?\d{1,3}(?:,\d{3})*\)?$`)

// knownBrands is matched case-insensitively against titles before falling
// back to the first title token.
var knownBrands = []string{
	"HP", "Lenovo", "Dell", "ASUS", "Acer", "MSI", "Samsung", "Apple",
	"Microsoft", "LG", "Razer", "Alienware", "AOC", "ThinkPad",
}

// ExtractProducts walks every result element in the document and extracts
// raw product records. A failure on one element skips that element only.
func ExtractProducts(doc *goquery.Document, baseURL, category string, logger *utils.Logger) []*models.RawProduct {
	var products []*models.RawProduct

	doc.Find(resultContainerSelector).Each(func(i int, el *goquery.Selection) {
		if asin, _ := el.Attr("data-asin"); asin == "" {
			return // spacer rows carry an empty data-asin
		}

		p, ok := extractProduct(el, baseURL, category)
		if !ok {
			logger.Debug("[extract] Skipping element %d: missing title or link", i)
			return
		}
		products = append(products, p)
	})

	return products
}

// extractProduct pulls one raw record out of a single result element.
// Title and link are mandatory; everything else is best-effort.
func extractProduct(el *goquery.Selection, baseURL, category string) (*models.RawProduct, bool) {
	title := strings.TrimSpace(el.Find(selTitle).First().Text())
	if title == "" {
		return nil, false
	}

	href, _ := el.Find(selLink).First().Attr("href")
	if href == "" {
		return nil, false
	}
	productURL := absoluteURL(baseURL, href)

	asin, _ := el.Attr("data-asin")
	if asin == "" {
		asin = extractASIN(productURL)
	}

	return &models.RawProduct{
		ASIN:              asin,
		Title:             title,
		Brand:             ExtractBrand(title),
		PriceText:         strings.TrimSpace(el.Find(selPrice).First().Text()),
		OriginalPriceText: strings.TrimSpace(el.Find(selOriginalPrice).First().Text()),
		RatingText:        strings.TrimSpace(el.Find(selRating).First().Text()),
		ReviewCountText:   pickReviewCount(el),
		ImageURL:          el.Find(selImage).First().AttrOr("src", ""),
		ProductURL:        productURL,
		IsSponsored:       strings.Contains(strings.ToLower(el.Text()), "sponsored"),
		Category:          category,
		ScrapedAt:         time.Now().UTC(),
	}, true
}

// pickReviewCount scans the review-block spans and accepts the first
// candidate carrying a parenthesized or comma-grouped number greater than
// zero. Abbreviated counts like "(3.9K)" are rejected so the cleaner treats
// the count as absent.
func pickReviewCount(el *goquery.Selection) string {
	var picked string
	el.Find(selReviewBlock).EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := strings.TrimSpace(span.Text())
		if !reviewCandidate.MatchString(text) {
			return true
		}
		if digits := strings.NewReplacer("(", "", ")", "", ",", "").Replace(text); digits == "" || strings.Trim(digits, "0") == "" {
			return true
		}
		picked = text
		return false
	})
	return picked
}

// ExtractBrand derives a brand from a product title: a known-brand lookup
// matched case-insensitively, falling back to the title's first token.
func ExtractBrand(title string) string {
	lower := strings.ToLower(title)
	for _, brand := range knownBrands {
		if strings.Contains(lower, strings.ToLower(brand)) {
			return brand
		}
	}

	fields := strings.Fields(title)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// extractASIN parses the ASIN out of a product URL.
func extractASIN(productURL string) string {
	m := asinFromLink.FindStringSubmatch(productURL)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// absoluteURL resolves an href against the site's base URL. Handles
// root-relative and scheme-relative forms; absolute hrefs pass through.
func absoluteURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
