// Package service holds the scraping business logic shared by job handlers.
//
// Each operation has two execution paths: dispatch to a connected browser
// extension worker, or fetch the marketplace API directly. Both paths end in
// the bridge, so the job result shape is the same either way.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/auditlog"
	"github.com/gendonholaholo/shopscrap/internal/bridge"
	"github.com/gendonholaholo/shopscrap/internal/models"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// Marketplace API paths the direct fetch path talks to.
const (
	searchAPI  = "/api/v4/search/search_items"
	productAPI = "/api/v4/pdp/get_pc"
	reviewsAPI = "/api/v2/item/get_ratings"
)

// Job types the service registers handlers for.
const (
	JobSearch  = "scrape_search"
	JobProduct = "scrape_product"
	JobReviews = "scrape_reviews"
)

// Config carries the service tunables.
type Config struct {
	BaseURL      string
	UseExtension bool
	UseHeadless  bool
	TaskTimeout  time.Duration
}

// ProgressSink receives job progress updates.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, jobID string, progress int) error
}

// HandlerRegistry is where the service installs its job handlers.
type HandlerRegistry interface {
	RegisterHandler(jobType string, handler scraper.Handler)
}

// Service implements the scrape operations.
type Service struct {
	cfg       Config
	fetcher   scraper.Fetcher
	requester scraper.Requester
	bridge    *bridge.Bridge
	audit     auditlog.Logger
	archive   scraper.Archive
	clock     scraper.Clock
	logger    *zap.Logger
	progress  ProgressSink

	mu       sync.Mutex
	taskJobs map[string]string
}

// New constructs a Service. requester, archive, and progress may be nil.
func New(cfg Config, fetcher scraper.Fetcher, requester scraper.Requester, b *bridge.Bridge, audit auditlog.Logger, archive scraper.Archive, clock scraper.Clock, logger *zap.Logger) *Service {
	return &Service{
		cfg:       cfg,
		fetcher:   fetcher,
		requester: requester,
		bridge:    b,
		audit:     audit,
		archive:   archive,
		clock:     clock,
		logger:    logger,
		taskJobs:  make(map[string]string),
	}
}

// SetProgressSink installs the sink for extension progress forwarding.
func (s *Service) SetProgressSink(sink ProgressSink) {
	s.progress = sink
}

// RegisterHandlers installs the scrape job handlers.
func (s *Service) RegisterHandlers(registry HandlerRegistry) {
	registry.RegisterHandler(JobSearch, s.SearchProducts)
	registry.RegisterHandler(JobProduct, s.GetProduct)
	registry.RegisterHandler(JobReviews, s.GetReviews)
}

// HandleTaskProgress forwards extension task progress to the owning job.
func (s *Service) HandleTaskProgress(taskID string, progress int) {
	s.mu.Lock()
	jobID, ok := s.taskJobs[taskID]
	s.mu.Unlock()
	if !ok || s.progress == nil {
		return
	}
	if err := s.progress.UpdateProgress(context.Background(), jobID, progress); err != nil {
		s.logger.Warn("forward task progress failed",
			zap.String("task_id", taskID),
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

// SearchProducts scrapes search results for a keyword.
func (s *Service) SearchProducts(ctx context.Context, params map[string]any) (map[string]any, error) {
	keyword := stringParam(params, "keyword")
	if keyword == "" {
		return nil, fmt.Errorf("missing required param keyword")
	}
	page := intParam(params, "page", 0)
	limit := intParam(params, "limit", 60)
	start := s.clock.Now()

	raw, source, err := s.acquire(ctx, params, scraper.TaskSearch,
		map[string]any{"keyword": keyword, "page": page, "limit": limit},
		s.searchURL(keyword, page, limit))
	s.recordAudit(ctx, params, JobSearch, "keyword="+keyword, source, start, err)
	if err != nil {
		return nil, err
	}

	products := s.bridge.SearchResults(raw)
	s.archiveRaw(ctx, params, "search", raw)
	export := models.NewExport(products, s.clock.Now())
	return map[string]any{
		"scraped_at": export.ScrapedAt,
		"count":      export.Count,
		"products":   export.Products,
		"source":     source,
	}, nil
}

// GetProduct scrapes one product's detail page.
func (s *Service) GetProduct(ctx context.Context, params map[string]any) (map[string]any, error) {
	itemID := intParam(params, "item_id", 0)
	shopID := intParam(params, "shop_id", 0)
	if itemID == 0 || shopID == 0 {
		return nil, fmt.Errorf("missing required params item_id and shop_id")
	}
	target := fmt.Sprintf("product=%d/%d", shopID, itemID)
	start := s.clock.Now()

	raw, source, err := s.acquire(ctx, params, scraper.TaskProduct,
		map[string]any{"item_id": itemID, "shop_id": shopID},
		s.productURL(itemID, shopID))
	s.recordAudit(ctx, params, JobProduct, target, source, start, err)
	if err != nil {
		return nil, err
	}

	product, ok := s.bridge.ProductResult(raw)
	if !ok {
		return nil, fmt.Errorf("product %d/%d not found in response", shopID, itemID)
	}
	s.archiveRaw(ctx, params, "product", raw)
	return map[string]any{
		"product": product,
		"source":  source,
	}, nil
}

// GetReviews scrapes a page of product reviews.
func (s *Service) GetReviews(ctx context.Context, params map[string]any) (map[string]any, error) {
	itemID := intParam(params, "item_id", 0)
	shopID := intParam(params, "shop_id", 0)
	if itemID == 0 || shopID == 0 {
		return nil, fmt.Errorf("missing required params item_id and shop_id")
	}
	limit := intParam(params, "limit", 20)
	offset := intParam(params, "offset", 0)
	target := fmt.Sprintf("reviews=%d/%d", shopID, itemID)
	start := s.clock.Now()

	raw, source, err := s.acquire(ctx, params, scraper.TaskReviews,
		map[string]any{"item_id": itemID, "shop_id": shopID, "limit": limit, "offset": offset},
		s.reviewsURL(itemID, shopID, limit, offset))
	s.recordAudit(ctx, params, JobReviews, target, source, start, err)
	if err != nil {
		return nil, err
	}

	reviews := s.bridge.ReviewsResult(raw)
	s.archiveRaw(ctx, params, "reviews", raw)
	return map[string]any{
		"count":   len(reviews),
		"reviews": reviews,
		"source":  source,
	}, nil
}

// acquire obtains the raw payload through the extension when one is
// available, falling back to a direct fetch.
func (s *Service) acquire(ctx context.Context, jobParams map[string]any, task scraper.TaskType, taskParams map[string]any, fetchURL string) (map[string]any, string, error) {
	if s.cfg.UseExtension && s.requester != nil && s.requester.Available() {
		raw, err := s.viaExtension(ctx, jobParams, task, taskParams)
		if err != nil {
			return nil, "extension", err
		}
		return raw, "extension", nil
	}

	raw, err := s.viaFetch(ctx, fetchURL)
	if err != nil {
		return nil, "http", err
	}
	return raw, "http", nil
}

func (s *Service) viaExtension(ctx context.Context, jobParams map[string]any, task scraper.TaskType, taskParams map[string]any) (map[string]any, error) {
	taskID, err := s.requester.Dispatch(ctx, task, taskParams, "")
	if err != nil {
		return nil, err
	}

	jobID := stringParam(jobParams, "job_id")
	if jobID != "" {
		s.mu.Lock()
		s.taskJobs[taskID] = jobID
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.taskJobs, taskID)
			s.mu.Unlock()
		}()
	}

	return s.requester.WaitForResult(ctx, taskID, s.cfg.TaskTimeout)
}

func (s *Service) viaFetch(ctx context.Context, fetchURL string) (map[string]any, error) {
	resp, err := s.fetcher.Fetch(ctx, scraper.FetchRequest{
		URL:         fetchURL,
		UseHeadless: s.cfg.UseHeadless,
		Headers: map[string]string{
			"Accept":       "application/json",
			"X-Api-Source": "pc",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fetchURL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", fetchURL, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", fetchURL, err)
	}
	return raw, nil
}

func (s *Service) archiveRaw(ctx context.Context, jobParams map[string]any, kind string, raw map[string]any) {
	if s.archive == nil {
		return
	}
	jobID := stringParam(jobParams, "job_id")
	if jobID == "" {
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	path := fmt.Sprintf("%s/%s.json", jobID, kind)
	uri, err := s.archive.Put(ctx, path, "application/json", data)
	if err != nil {
		s.logger.Warn("archive raw payload failed",
			zap.String("job_id", jobID),
			zap.Error(err))
		return
	}
	s.logger.Debug("raw payload archived", zap.String("uri", uri))
}

func (s *Service) recordAudit(ctx context.Context, jobParams map[string]any, jobType, target, source string, start time.Time, opErr error) {
	status := "completed"
	if opErr != nil {
		status = "failed"
	}
	entry := auditlog.Entry{
		JobID:      stringParam(jobParams, "job_id"),
		JobType:    jobType,
		Target:     target,
		Source:     source,
		Status:     status,
		DurationMS: s.clock.Now().Sub(start).Milliseconds(),
		CreatedAt:  start,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", zap.Error(err))
	}
}

func (s *Service) searchURL(keyword string, page, limit int) string {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("page", fmt.Sprint(page))
	q.Set("limit", fmt.Sprint(limit))
	return s.cfg.BaseURL + searchAPI + "?" + q.Encode()
}

func (s *Service) productURL(itemID, shopID int) string {
	q := url.Values{}
	q.Set("item_id", fmt.Sprint(itemID))
	q.Set("shop_id", fmt.Sprint(shopID))
	return s.cfg.BaseURL + productAPI + "?" + q.Encode()
}

func (s *Service) reviewsURL(itemID, shopID, limit, offset int) string {
	q := url.Values{}
	q.Set("itemid", fmt.Sprint(itemID))
	q.Set("shopid", fmt.Sprint(shopID))
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	return s.cfg.BaseURL + reviewsAPI + "?" + q.Encode()
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		return fallback
	default:
		return fallback
	}
}
