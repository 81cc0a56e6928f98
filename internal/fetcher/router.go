// Package fetcher routes fetch requests between the plain HTTP fetcher and
// the headless browser.
package fetcher

import (
	"context"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// Router escalates to the headless fetcher when a request asks for it.
// Without a headless fetcher configured, everything goes over plain HTTP.
type Router struct {
	static   scraper.Fetcher
	headless scraper.Fetcher
}

// NewRouter builds a Router. headless may be nil.
func NewRouter(static, headless scraper.Fetcher) *Router {
	return &Router{static: static, headless: headless}
}

// Fetch dispatches to the right fetcher.
func (r *Router) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if request.UseHeadless && r.headless != nil {
		return r.headless.Fetch(ctx, request)
	}
	return r.static.Fetch(ctx, request)
}
