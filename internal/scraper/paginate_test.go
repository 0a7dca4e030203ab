package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/aliscrape/internal/extract"
	"github.com/FranksOps/aliscrape/internal/fingerprint"
	"github.com/FranksOps/aliscrape/internal/models"
	"github.com/FranksOps/aliscrape/pkg/ratelimit"
)

// pageFetcher serves canned bodies or errors keyed by page number.
type pageFetcher struct {
	mu     sync.Mutex
	bodies map[int]string
	errs   map[int]error
	urls   []string
	block  bool
}

func (f *pageFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	f.mu.Lock()
	f.urls = append(f.urls, target)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, &FetchError{Kind: KindDeadline, Err: ctx.Err()}
	}

	page := pageFrom(ctx)
	if err, ok := f.errs[page]; ok {
		return nil, err
	}
	return []byte(f.bodies[page]), nil
}

// lineExtractor yields one product per non-empty line of the body.
type lineExtractor struct{}

func (lineExtractor) Extract(doc extract.Document) []models.Product {
	var out []models.Product
	for _, line := range strings.Split(string(doc.Body), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, models.Product{ID: line, Title: line})
		}
	}
	return out
}

func openTarget() PaginateConfig {
	return PaginateConfig{Target: Target{PageParam: "page"}}
}

func ids(res *models.SearchResult) []string {
	var out []string
	for _, p := range res.Products {
		out = append(out, p.ID)
	}
	return out
}

func TestPaginator_AggregatesInPageOrder(t *testing.T) {
	f := &pageFetcher{bodies: map[int]string{1: "a\nb", 2: "c", 3: "d\ne"}}
	p := NewPaginator(openTarget(), f, lineExtractor{}, nil)

	res, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/lamp.html", MaxPages: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(ids(res), ","); got != "a,b,c,d,e" {
		t.Errorf("expected a,b,c,d,e, got %s", got)
	}
	if res.TotalProducts != len(res.Products) {
		t.Errorf("total %d does not match %d products", res.TotalProducts, len(res.Products))
	}
	if len(f.urls) != 3 {
		t.Errorf("expected 3 fetches, got %d", len(f.urls))
	}
}

func TestPaginator_PageParamReplaced(t *testing.T) {
	f := &pageFetcher{bodies: map[int]string{1: "a", 2: "b"}}
	p := NewPaginator(openTarget(), f, lineExtractor{}, nil)

	_, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/lamp.html?SearchText=lamp&page=7", MaxPages: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, raw := range f.urls {
		u, _ := url.Parse(raw)
		pages := u.Query()["page"]
		if len(pages) != 1 || pages[0] != fmt.Sprint(i+1) {
			t.Errorf("request %d: expected single page=%d, got %v (%s)", i, i+1, pages, raw)
		}
		if u.Query().Get("SearchText") != "lamp" {
			t.Errorf("request %d lost other query params: %s", i, raw)
		}
	}
}

func TestPageURL(t *testing.T) {
	base, _ := url.Parse("https://www.aliexpress.com/w/wholesale-lamp.html?page=3&g=y")
	got := PageURL(base, "page", 4)
	if got != "https://www.aliexpress.com/w/wholesale-lamp.html?g=y&page=4" {
		t.Errorf("unexpected page URL %s", got)
	}
	if base.RawQuery != "page=3&g=y" {
		t.Errorf("base URL must not be modified, got %s", base.RawQuery)
	}
}

func TestPaginator_EmptyPageStops(t *testing.T) {
	f := &pageFetcher{bodies: map[int]string{1: "a", 2: "", 3: "c"}}
	p := NewPaginator(openTarget(), f, lineExtractor{}, nil)

	res, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.urls) != 2 {
		t.Errorf("expected crawl to stop after the empty page, got %d fetches", len(f.urls))
	}
	if res.TotalProducts != 1 {
		t.Errorf("expected 1 product, got %d", res.TotalProducts)
	}
}

func TestPaginator_FirstPageFailureFails(t *testing.T) {
	f := &pageFetcher{errs: map[int]error{1: &FetchError{Kind: KindExhausted, StatusCode: 429}}}
	p := NewPaginator(openTarget(), f, lineExtractor{}, nil)

	res, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 3})
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Page != 1 || fe.Kind != KindExhausted {
		t.Fatalf("expected page 1 FetchError, got %v", err)
	}
	if fe.URL == "" {
		t.Errorf("expected page URL on error")
	}
	if Category(err) != CategoryFetch {
		t.Errorf("expected fetch category, got %s", Category(err))
	}
}

func TestPaginator_LaterPageFailureIsPartial(t *testing.T) {
	f := &pageFetcher{
		bodies: map[int]string{1: "a\nb", 3: "z"},
		errs:   map[int]error{2: &FetchError{Kind: KindFatal, StatusCode: 404}},
	}
	p := NewPaginator(openTarget(), f, lineExtractor{}, nil)

	res, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 3})
	if err != nil {
		t.Fatalf("expected partial result, got %v", err)
	}
	if got := strings.Join(ids(res), ","); got != "a,b" {
		t.Errorf("expected page 1 products only, got %s", got)
	}
	if len(f.urls) != 2 {
		t.Errorf("expected no fetch after the failed page, got %d", len(f.urls))
	}
}

func TestPaginator_StrictPages(t *testing.T) {
	f := &pageFetcher{
		bodies: map[int]string{1: "a"},
		errs:   map[int]error{2: errors.New("raw transport failure")},
	}
	cfg := openTarget()
	cfg.StrictPages = true
	p := NewPaginator(cfg, f, lineExtractor{}, nil)

	_, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 2})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Page != 2 {
		t.Fatalf("expected page 2 FetchError, got %v", err)
	}
}

func TestPaginator_Validation(t *testing.T) {
	p := NewPaginator(PaginateConfig{Target: DefaultTarget()}, &pageFetcher{}, lineExtractor{}, nil)

	tests := []struct {
		name  string
		req   models.SearchRequest
		field string
	}{
		{"empty url", models.SearchRequest{URL: "", MaxPages: 1}, "url"},
		{"relative", models.SearchRequest{URL: "/w/wholesale-lamp.html", MaxPages: 1}, "url"},
		{"ftp", models.SearchRequest{URL: "ftp://www.aliexpress.com/w/x", MaxPages: 1}, "url"},
		{"other host", models.SearchRequest{URL: "https://example.com/w/wholesale-lamp.html", MaxPages: 1}, "url"},
		{"lookalike host", models.SearchRequest{URL: "https://evilaliexpress.com/w/x", MaxPages: 1}, "url"},
		{"item page", models.SearchRequest{URL: "https://www.aliexpress.com/item/1.html", MaxPages: 1}, "url"},
		{"zero pages", models.SearchRequest{URL: "https://www.aliexpress.com/w/wholesale-lamp.html", MaxPages: 0}, "max_pages"},
		{"too many pages", models.SearchRequest{URL: "https://www.aliexpress.com/w/wholesale-lamp.html", MaxPages: 11}, "max_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Run(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
			if Category(err) != CategoryValidation {
				t.Errorf("expected validation category, got %s", Category(err))
			}
		})
	}

	if len(p.fetcher.(*pageFetcher).urls) != 0 {
		t.Errorf("validation failures must not fetch")
	}

	for _, ok := range []string{
		"https://www.aliexpress.com/w/wholesale-lamp.html?SearchText=lamp",
		"https://aliexpress.us/w/wholesale-lamp.html",
		"https://www.aliexpress.com/category/100003109/women-clothing.html",
	} {
		if _, err := p.Validate(models.SearchRequest{URL: ok, MaxPages: 10}); err != nil {
			t.Errorf("%s: unexpected error %v", ok, err)
		}
	}
}

func TestPaginator_Deadline(t *testing.T) {
	f := &pageFetcher{block: true}
	cfg := openTarget()
	cfg.Deadline = 50 * time.Millisecond
	p := NewPaginator(cfg, f, lineExtractor{}, nil)

	start := time.Now()
	_, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 2})
	if time.Since(start) > 2*time.Second {
		t.Fatalf("crawl deadline was not enforced")
	}
	if Category(err) != CategoryDeadline {
		t.Fatalf("expected deadline category, got %v", err)
	}
}

func TestPaginator_DeadlineDuringPacingIsPartial(t *testing.T) {
	f := &pageFetcher{bodies: map[int]string{1: "a", 2: "b"}}
	cfg := openTarget()
	cfg.Deadline = 50 * time.Millisecond
	cfg.Pacer = ratelimit.NewPacer(time.Hour, time.Hour)
	p := NewPaginator(cfg, f, lineExtractor{}, nil)

	res, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 2})
	if err != nil {
		t.Fatalf("expected partial result, got %v", err)
	}
	if res.TotalProducts != 1 || len(f.urls) != 1 {
		t.Errorf("expected only page 1, got %d products after %d fetches", res.TotalProducts, len(f.urls))
	}
}

func TestPaginator_PacesPages(t *testing.T) {
	f := &pageFetcher{bodies: map[int]string{1: "a", 2: "b", 3: "c"}}
	cfg := openTarget()
	cfg.Pacer = ratelimit.NewPacer(30*time.Millisecond, 40*time.Millisecond)
	p := NewPaginator(cfg, f, lineExtractor{}, nil)

	start := time.Now()
	if _, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("expected two pacing delays, crawl took %v", elapsed)
	}
}

func TestPaginator_RobotsDisallowed(t *testing.T) {
	fetchRobots := func(ctx context.Context, target string) ([]byte, error) {
		return []byte("User-agent: *\nDisallow: /w/\n"), nil
	}
	robots, _ := NewRobotsTxtAuditor(fetchRobots, 0, nil)

	f := &pageFetcher{bodies: map[int]string{1: "a"}}
	cfg := openTarget()
	cfg.Robots = robots
	p := NewPaginator(cfg, f, lineExtractor{}, nil)

	_, err := p.Run(context.Background(), models.SearchRequest{URL: "https://shop.test/w/x", MaxPages: 1})
	var verr *ValidationError
	if !errors.As(err, &verr) || !strings.Contains(verr.Reason, "robots") {
		t.Fatalf("expected robots rejection, got %v", err)
	}
	if len(f.urls) != 0 {
		t.Errorf("disallowed listing must not be fetched")
	}
}

func TestPaginator_EndToEnd(t *testing.T) {
	card := func(id int) string {
		return fmt.Sprintf(`<div class="search-item-card-wrapper-gallery"><a class="search-card-item" href="/item/%d.html">
<img class="l9_be" src="//img.test/%d.jpg"><h3 class="lq_jl">Item %d</h3>
<div class="lq_j3"><span>US $</span><span>%d</span><span>.99</span></div></a></div>`, id, id, id, id)
	}

	var mu sync.Mutex
	var seen []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()

		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, "<html><body>"+card(1)+card(2)+"</body></html>")
		case "2":
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer ts.Close()

	fetcher, err := NewFetcher(FetchConfig{Fingerprint: fingerprint.ProfileGo, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := NewPaginator(openTarget(), fetcher, extract.NewListing(nil), nil)

	res, err := p.Run(context.Background(), models.SearchRequest{URL: ts.URL + "/w/wholesale-lamp.html", MaxPages: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalProducts != 2 {
		t.Fatalf("expected 2 products from page 1, got %d", res.TotalProducts)
	}
	if res.Products[0].ID != "1" || res.Products[0].Price != 1.99 || res.Products[0].Image != "https://img.test/1.jpg" {
		t.Errorf("unexpected first product %+v", res.Products[0])
	}

	mu.Lock()
	defer mu.Unlock()
	// One page-1 fetch plus three rate-limited attempts for page 2.
	if len(seen) != 4 {
		t.Errorf("expected 4 requests, got %d: %v", len(seen), seen)
	}
}
