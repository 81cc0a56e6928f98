package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivemem "github.com/gendonholaholo/shopscrap/internal/archive/memory"
	"github.com/gendonholaholo/shopscrap/internal/auditlog"
	"github.com/gendonholaholo/shopscrap/internal/bridge"
	"github.com/gendonholaholo/shopscrap/internal/models"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

type testClock struct{}

func (testClock) Now() time.Time { return time.Now().UTC() }

type fakeFetcher struct {
	mu       sync.Mutex
	lastURL  string
	response scraper.FetchResponse
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.mu.Lock()
	f.lastURL = request.URL
	f.mu.Unlock()
	if f.err != nil {
		return scraper.FetchResponse{}, f.err
	}
	return f.response, nil
}

type fakeRequester struct {
	available bool
	result    map[string]any
	err       error
	dispatchN int
}

func (r *fakeRequester) Dispatch(context.Context, scraper.TaskType, map[string]any, string) (string, error) {
	r.dispatchN++
	return "task-1", nil
}

func (r *fakeRequester) WaitForResult(context.Context, string, time.Duration) (map[string]any, error) {
	return r.result, r.err
}

func (r *fakeRequester) Available() bool { return r.available }

type captureAudit struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (c *captureAudit) Record(_ context.Context, entry auditlog.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureAudit) Close() {}

func searchBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"items": []any{
			map[string]any{"item_basic": map[string]any{
				"itemid": 1, "shopid": 2, "name": "Webcam", "price": 10000000000,
			}},
		},
	})
	require.NoError(t, err)
	return body
}

func newService(cfg Config, fetcher scraper.Fetcher, requester scraper.Requester, audit auditlog.Logger, archive scraper.Archive) *Service {
	if audit == nil {
		audit = auditlog.NewNoop()
	}
	b := bridge.New("https://shopee.co.id", zap.NewNop())
	return New(cfg, fetcher, requester, b, audit, archive, testClock{}, zap.NewNop())
}

func TestSearchViaHTTP(t *testing.T) {
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 200, Body: searchBody(t)}}
	audit := &captureAudit{}
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, audit, nil)

	result, err := svc.SearchProducts(context.Background(), map[string]any{
		"job_id":  "job-1",
		"keyword": "webcam",
	})
	require.NoError(t, err)
	require.Equal(t, "http", result["source"])
	require.Equal(t, 1, result["count"])
	products := result["products"].([]models.Product)
	require.Equal(t, "Webcam", products[0].Name)

	require.Contains(t, fetcher.lastURL, "/api/v4/search/search_items")
	require.Contains(t, fetcher.lastURL, "keyword=webcam")

	require.Len(t, audit.entries, 1)
	require.Equal(t, "job-1", audit.entries[0].JobID)
	require.Equal(t, "completed", audit.entries[0].Status)
	require.Equal(t, "http", audit.entries[0].Source)
}

func TestSearchViaExtension(t *testing.T) {
	requester := &fakeRequester{
		available: true,
		result: map[string]any{
			"items": []any{
				map[string]any{"itemid": float64(3), "shopid": float64(4), "name": "Desk Mat", "price": float64(5000000000)},
			},
		},
	}
	svc := newService(Config{BaseURL: "https://shopee.co.id", UseExtension: true}, &fakeFetcher{}, requester, nil, nil)

	result, err := svc.SearchProducts(context.Background(), map[string]any{"keyword": "desk mat"})
	require.NoError(t, err)
	require.Equal(t, "extension", result["source"])
	require.Equal(t, 1, result["count"])
	require.Equal(t, 1, requester.dispatchN)
}

func TestSearchFallsBackWhenNoExtension(t *testing.T) {
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 200, Body: searchBody(t)}}
	requester := &fakeRequester{available: false}
	svc := newService(Config{BaseURL: "https://shopee.co.id", UseExtension: true}, fetcher, requester, nil, nil)

	result, err := svc.SearchProducts(context.Background(), map[string]any{"keyword": "webcam"})
	require.NoError(t, err)
	require.Equal(t, "http", result["source"])
	require.Zero(t, requester.dispatchN)
}

func TestSearchMissingKeyword(t *testing.T) {
	svc := newService(Config{}, &fakeFetcher{}, nil, nil, nil)
	_, err := svc.SearchProducts(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestSearchFetchFailureAudited(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	audit := &captureAudit{}
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, audit, nil)

	_, err := svc.SearchProducts(context.Background(), map[string]any{"keyword": "webcam"})
	require.Error(t, err)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "failed", audit.entries[0].Status)
}

func TestGetProduct(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"item": map[string]any{
				"itemid": 77, "shopid": 88, "name": "Monitor Arm", "price": 40000000000,
			},
		},
	})
	require.NoError(t, err)
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 200, Body: body}}
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, nil, nil)

	result, err := svc.GetProduct(context.Background(), map[string]any{
		"item_id": 77,
		"shop_id": 88,
	})
	require.NoError(t, err)
	product := result["product"].(models.Product)
	require.Equal(t, "Monitor Arm", product.Name)
	require.Contains(t, fetcher.lastURL, "/api/v4/pdp/get_pc")
}

func TestGetProductMissingParams(t *testing.T) {
	svc := newService(Config{}, &fakeFetcher{}, nil, nil, nil)
	_, err := svc.GetProduct(context.Background(), map[string]any{"item_id": 77})
	require.Error(t, err)
}

func TestGetProductNotFoundInResponse(t *testing.T) {
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 200, Body: []byte(`{"data":{"item":{}}}`)}}
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, nil, nil)

	_, err := svc.GetProduct(context.Background(), map[string]any{"item_id": 1, "shop_id": 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestGetReviews(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"ratings": []any{
				map[string]any{"cmtid": 1, "rating_star": 5, "comment": "Great"},
			},
		},
	})
	require.NoError(t, err)
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 200, Body: body}}
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, nil, nil)

	result, err := svc.GetReviews(context.Background(), map[string]any{
		"item_id": 1,
		"shop_id": 2,
		"limit":   10,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result["count"])
	require.Contains(t, fetcher.lastURL, "/api/v2/item/get_ratings")
	require.Contains(t, fetcher.lastURL, "limit=10")
}

func TestHTTPErrorStatus(t *testing.T) {
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 403, Body: []byte("{}")}}
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, nil, nil)

	_, err := svc.SearchProducts(context.Background(), map[string]any{"keyword": "webcam"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 403")
}

func TestArchiveReceivesRawPayload(t *testing.T) {
	fetcher := &fakeFetcher{response: scraper.FetchResponse{StatusCode: 200, Body: searchBody(t)}}
	archive := archivemem.New()
	svc := newService(Config{BaseURL: "https://shopee.co.id"}, fetcher, nil, nil, archive)

	_, err := svc.SearchProducts(context.Background(), map[string]any{
		"job_id":  "job-9",
		"keyword": "webcam",
	})
	require.NoError(t, err)

	data, ok := archive.Get("job-9/search.json")
	require.True(t, ok)
	require.Contains(t, string(data), "Webcam")
}

type sinkFunc func(ctx context.Context, jobID string, progress int) error

func (f sinkFunc) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	return f(ctx, jobID, progress)
}

func TestTaskProgressForwarding(t *testing.T) {
	svc := newService(Config{}, &fakeFetcher{}, nil, nil, nil)

	type update struct {
		jobID    string
		progress int
	}
	got := make(chan update, 1)
	svc.SetProgressSink(sinkFunc(func(_ context.Context, jobID string, progress int) error {
		got <- update{jobID, progress}
		return nil
	}))

	svc.mu.Lock()
	svc.taskJobs["task-7"] = "job-7"
	svc.mu.Unlock()

	svc.HandleTaskProgress("task-7", 45)
	select {
	case u := <-got:
		require.Equal(t, "job-7", u.jobID)
		require.Equal(t, 45, u.progress)
	case <-time.After(time.Second):
		t.Fatal("progress never forwarded")
	}

	// Unknown tasks are ignored.
	svc.HandleTaskProgress("task-unknown", 10)
}
