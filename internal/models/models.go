// Package models defines the records that flow through the listing pipeline.
package models

// DefaultCurrency is assumed when a price carries no recognizable currency.
const DefaultCurrency = "USD"

// SearchRequest asks for up to MaxPages listing pages starting at URL.
type SearchRequest struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
}

// Product is one product card extracted from a listing page. Only ID and URL
// identify the product; every other field is best-effort.
type Product struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Image    string  `json:"image"`
	Store    string  `json:"store"`
	Sales    string  `json:"sales"`
}

// SearchResult is the aggregate of a crawl. TotalProducts always equals
// len(Products).
type SearchResult struct {
	Products      []Product `json:"products"`
	TotalProducts int       `json:"total_products"`
}

// NewSearchResult builds a result whose count matches its products.
func NewSearchResult(products []Product) *SearchResult {
	if products == nil {
		products = []Product{}
	}
	return &SearchResult{Products: products, TotalProducts: len(products)}
}
