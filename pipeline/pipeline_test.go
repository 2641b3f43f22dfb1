package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deal-scraper/config"
	"deal-scraper/models"
	"deal-scraper/services"
	"deal-scraper/utils"
)

// fakeFetcher serves canned pages and never touches the network.
type fakeFetcher struct {
	pages [][]*models.RawProduct
	errs  []error
}

func (f *fakeFetcher) ScrapeSearchPage(_ context.Context, _ string, pageNum int) ([]*models.RawProduct, bool, error) {
	idx := pageNum - 1
	if idx >= len(f.pages) {
		return nil, false, nil
	}
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.pages[idx], true, err
}

// fakeStore records writes in memory.
type fakeStore struct {
	products     map[string]*models.Product
	upsertErrASN string
	sessions     []string
	endedWith    string
	counters     [4]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{products: make(map[string]*models.Product)}
}

func (s *fakeStore) UpsertProduct(p *models.Product) (bool, error) {
	if p.ASIN == s.upsertErrASN {
		return false, errors.New("write refused")
	}
	_, exists := s.products[p.ASIN]
	s.products[p.ASIN] = p
	return !exists, nil
}

func (s *fakeStore) GetOrCreateCategory(name string) (*models.Category, error) {
	return &models.Category{Name: name}, nil
}

func (s *fakeStore) RefreshCategoryStats(string) error { return nil }

func (s *fakeStore) CreateSession(category string) (string, error) {
	s.sessions = append(s.sessions, category)
	return "11111111-2222-3333-4444-555555555555", nil
}

func (s *fakeStore) UpdateSessionCounters(_ string, pages, found, saved, errCount int) error {
	s.counters = [4]int{pages, found, saved, errCount}
	return nil
}

func (s *fakeStore) EndSession(_, status string) error {
	if s.endedWith == "" {
		s.endedWith = status
	}
	return nil
}

type fakeExporter struct {
	exported []*models.Product
}

func (e *fakeExporter) Export(products []*models.Product) error {
	e.exported = products
	return nil
}

func rawProduct(asin string) *models.RawProduct {
	return &models.RawProduct{
		ASIN:            asin,
		Title:           "Lenovo IdeaPad 3 Laptop",
		Brand:           "Lenovo",
		PriceText:       "$499.99",
		RatingText:      "4.4 out of 5 stars",
		ReviewCountText: "(88)",
		ProductURL:      "https://www.amazon.com/dp/" + asin,
	}
}

func testConfig() *config.Config {
	return &config.Config{MaxProducts: 100}
}

func newTestPipeline(fetcher PageFetcher, store *fakeStore, exporter *fakeExporter) *Pipeline {
	logger := utils.NewLogger()
	return New(testConfig(), fetcher, services.NewCleaner(logger), store, exporter, logger)
}

func TestRunPersistsValidRecordsAndRejectsInvalid(t *testing.T) {
	// Batch of 5: two fail validation, three persist.
	bad1 := rawProduct("SHORT")
	bad2 := rawProduct("B0XY34DEF2")
	bad2.Title = ""

	fetcher := &fakeFetcher{pages: [][]*models.RawProduct{{
		rawProduct("B0CN12ABC1"),
		bad1,
		rawProduct("B0NO56GHI3"),
		bad2,
		rawProduct("B0ZZ78JKL4"),
	}}}

	store := newFakeStore()
	exporter := &fakeExporter{}
	stats, err := newTestPipeline(fetcher, store, exporter).Run(
		context.Background(), "laptop", "Laptops", 3)

	require.NoError(t, err)
	assert.Equal(t, 5, stats.Scraped)
	assert.Equal(t, 3, stats.Saved+stats.Updated)
	assert.Equal(t, 2, stats.Failed)
	assert.Len(t, store.products, 3)
	assert.Len(t, exporter.exported, 3)
	assert.Equal(t, models.SessionCompleted, store.endedWith)
}

func TestRunCountsRepeatSightingsAsUpdates(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]*models.RawProduct{
		{rawProduct("B0CN12ABC1")},
		{rawProduct("B0CN12ABC1")},
	}}

	store := newFakeStore()
	stats, err := newTestPipeline(fetcher, store, &fakeExporter{}).Run(
		context.Background(), "laptop", "Laptops", 5)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Saved)
	assert.Equal(t, 1, stats.Updated)
	assert.Len(t, store.products, 1)
}

func TestRunSurvivesTransientPageFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: [][]*models.RawProduct{nil, {rawProduct("B0CN12ABC1")}},
		errs:  []error{errors.New("navigation timeout")},
	}

	store := newFakeStore()
	stats, err := newTestPipeline(fetcher, store, &fakeExporter{}).Run(
		context.Background(), "laptop", "Laptops", 2)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Saved)
	assert.Equal(t, 1, stats.Failed) // the failed page
	assert.Equal(t, 1, stats.PagesScraped, "a page that never loaded is not scraped")
	assert.Equal(t, models.SessionCompleted, store.endedWith)
}

func TestRunCountsOnlyRenderedPages(t *testing.T) {
	// One real page; the follow-up page has no result container.
	fetcher := &fakeFetcher{pages: [][]*models.RawProduct{{rawProduct("B0CN12ABC1")}}}

	store := newFakeStore()
	stats, err := newTestPipeline(fetcher, store, &fakeExporter{}).Run(
		context.Background(), "laptop", "Laptops", 5)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesScraped)
}

func TestRunCountsPersistenceFailuresAndContinues(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]*models.RawProduct{{
		rawProduct("B0CN12ABC1"),
		rawProduct("B0XY34DEF2"),
	}}}

	store := newFakeStore()
	store.upsertErrASN = "B0CN12ABC1"

	stats, err := newTestPipeline(fetcher, store, &fakeExporter{}).Run(
		context.Background(), "laptop", "Laptops", 1)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Saved)
	assert.Equal(t, 1, stats.Failed)
}

// interruptedFetcher cancels the run context mid-page and reports the
// cancellation the way the browser fetcher does after its pacing wait.
type interruptedFetcher struct {
	cancel context.CancelFunc
}

func (f *interruptedFetcher) ScrapeSearchPage(ctx context.Context, _ string, _ int) ([]*models.RawProduct, bool, error) {
	f.cancel()
	return []*models.RawProduct{rawProduct("B0CN12ABC1")}, false, ctx.Err()
}

func TestRunAbortsWhenCancelledDuringPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newFakeStore()
	stats, err := newTestPipeline(&interruptedFetcher{cancel: cancel}, store, &fakeExporter{}).Run(
		ctx, "laptop", "Laptops", 3)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.SessionFailed, store.endedWith)
	assert.Equal(t, 0, stats.Failed, "an abort is not a page failure")
}

func TestRunFinalizesFailedOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFakeStore()
	stats, err := newTestPipeline(&fakeFetcher{}, store, &fakeExporter{}).Run(
		ctx, "laptop", "Laptops", 3)

	require.Error(t, err)
	assert.Equal(t, 0, stats.Scraped)
	assert.Equal(t, models.SessionFailed, store.endedWith)
}

func TestRunUpdatesSessionCountersPerPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]*models.RawProduct{{rawProduct("B0CN12ABC1")}}}

	store := newFakeStore()
	_, err := newTestPipeline(fetcher, store, &fakeExporter{}).Run(
		context.Background(), "laptop", "Laptops", 1)

	require.NoError(t, err)
	assert.Equal(t, [4]int{1, 1, 1, 0}, store.counters)
}
