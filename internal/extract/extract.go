// Package extract turns listing page HTML into product records.
package extract

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/aliscrape/internal/metrics"
	"github.com/FranksOps/aliscrape/internal/models"
)

// Document is a fetched listing page.
type Document struct {
	URL  string
	Body []byte
}

// Extractor pulls product records out of a listing page. Implementations are
// pure: the same document always yields the same products.
type Extractor interface {
	Extract(doc Document) []models.Product
}

// Listing extracts product cards from search result pages. It tries the
// primary strategy first and switches to the fallback only when the primary
// card selector matches nothing.
type Listing struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewListing returns a Listing using the Primary and Fallback strategies.
func NewListing(logger *slog.Logger) *Listing {
	return NewListingWith(logger, Primary, Fallback)
}

// NewListingWith returns a Listing that tries the given strategies in order.
func NewListingWith(logger *slog.Logger, strategies ...Strategy) *Listing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listing{strategies: strategies, logger: logger}
}

// Extract parses doc and returns its products in document order. Malformed or
// empty markup yields an empty slice, never an error.
func (l *Listing) Extract(doc Document) []models.Product {
	if len(bytes.TrimSpace(doc.Body)) == 0 {
		return []models.Product{}
	}

	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		l.logger.Warn("unparsable listing page", "url", doc.URL, "error", err)
		return []models.Product{}
	}

	base, err := url.Parse(doc.URL)
	if err != nil || doc.URL == "" {
		base = nil
	}

	for _, s := range l.strategies {
		cards := root.Find(s.Card)
		if cards.Length() == 0 {
			continue
		}
		products := l.apply(cards, s, base)
		metrics.RecordProducts(s.Name, len(products))
		l.logger.Debug("extracted listing page",
			"url", doc.URL, "strategy", s.Name, "cards", cards.Length(), "products", len(products))
		return products
	}

	return []models.Product{}
}

func (l *Listing) apply(cards *goquery.Selection, s Strategy, base *url.URL) []models.Product {
	products := make([]models.Product, 0, cards.Length())
	seen := make(map[string]int)

	cards.Each(func(i int, card *goquery.Selection) {
		p, ok := parseCard(card, s, base)
		if !ok {
			l.logger.Debug("skipping card without url or title", "strategy", s.Name, "index", i)
			return
		}
		if s.Merge {
			if at, dup := seen[p.ID]; dup {
				products[at] = merge(products[at], p)
				return
			}
			seen[p.ID] = len(products)
		}
		products = append(products, p)
	})

	return products
}

func parseCard(card *goquery.Selection, s Strategy, base *url.URL) (models.Product, bool) {
	link := card
	if s.Link != "" {
		if found := card.Find(s.Link).First(); found.Length() > 0 {
			link = found
		}
	}
	href, _ := link.Attr("href")
	if href == "" {
		href, _ = card.Attr("href")
	}

	listingID := firstAttr(card, "data-product-id", "data-item-id")
	if listingID == "" {
		listingID = firstAttr(link, "data-product-id", "data-item-id")
	}

	canonical := CanonicalURL(base, href, listingID)

	title := firstText(card, s.Title)
	if title == "" {
		title = clean(firstAttr(link, "title", "aria-label"))
	}

	if canonical == "" && title == "" {
		return models.Product{}, false
	}

	price, currency := ParsePrice(priceText(card, s))

	var image string
	if img := card.Find(s.Image).First(); img.Length() > 0 {
		image = ImageURL(base, imageSource(img))
	}

	return models.Product{
		ID:       ProductID(listingID, canonical, title),
		Title:    title,
		URL:      canonical,
		Price:    price,
		Currency: currency,
		Image:    image,
		Store:    firstText(card, s.Store),
		Sales:    firstText(card, s.Sales),
	}, true
}

func priceText(card *goquery.Selection, s Strategy) string {
	matches := card.Find(s.Price)
	if !s.JoinPrice {
		return clean(matches.First().Text())
	}
	var b strings.Builder
	matches.Each(func(_ int, span *goquery.Selection) {
		b.WriteString(strings.TrimSpace(span.Text()))
	})
	return b.String()
}

// imageSource prefers real sources over inline placeholders used while
// lazy-loading.
func imageSource(img *goquery.Selection) string {
	for _, name := range []string{"src", "data-src", "image-src", "data-lazy-src"} {
		v, ok := img.Attr(name)
		v = strings.TrimSpace(v)
		if ok && v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func firstText(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return clean(card.Find(selector).First().Text())
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func merge(into, from models.Product) models.Product {
	if into.Title == "" {
		into.Title = from.Title
	}
	if into.Price == 0 && from.Price != 0 {
		into.Price = from.Price
		into.Currency = from.Currency
	}
	if into.Image == "" {
		into.Image = from.Image
	}
	if into.Store == "" {
		into.Store = from.Store
	}
	if into.Sales == "" {
		into.Sales = from.Sales
	}
	return into
}
