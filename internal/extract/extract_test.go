package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const galleryPage = `<html><body><div id="card-list">
<div class="search-item-card-wrapper-gallery">
  <a class="search-card-item" href="//www.aliexpress.com/item/1005001234567890.html?algo_pvid=abc&spm=x">
    <img class="l9_be" src="//ae01.alicdn.com/kf/S1.jpg" />
    <h3 class="lq_jl">  Wireless   Earbuds  </h3>
    <div class="lq_j3"><span>US $</span><span>12</span><span>.</span><span>34</span></div>
    <span class="lq_jg">1,000+ sold</span>
    <span class="io_ip">Acme Audio Store</span>
  </a>
</div>
<div class="search-item-card-wrapper-gallery">
  <a class="search-card-item" href="/item/1005009999999999.html">
    <img class="l9_be" src="data:image/gif;base64,R0lGOD" data-src="https://ae01.alicdn.com/kf/S2.jpg" />
    <h3 class="lq_jl">USB Cable</h3>
    <div class="lq_j3"><span>€</span><span>3,50</span></div>
  </a>
</div>
<div class="search-item-card-wrapper-gallery">
  <div class="ad-placeholder"></div>
</div>
</div></body></html>`

const fallbackPage = `<html><body>
<div class="product-grid">
  <div class="tile">
    <a href="https://www.aliexpress.com/item/42.html"><img src="https://img.example/42.jpg"></a>
    <a href="https://www.aliexpress.com/item/42.html" title="Desk Lamp">
      <div class="tile-title">Desk Lamp</div>
      <div class="tile-price">US $1,299.00</div>
    </a>
  </div>
  <div class="tile">
    <a href="https://www.aliexpress.com/item/43.html">
      <h3>Phone Stand</h3>
      <span class="sale-price">$4.5</span>
      <span class="trade-count">87 sold</span>
    </a>
  </div>
</div>
</body></html>`

func TestExtractPrimary(t *testing.T) {
	l := NewListing(nil)
	products := l.Extract(Document{
		URL:  "https://www.aliexpress.com/w/wholesale-earbuds.html?page=1",
		Body: []byte(galleryPage),
	})

	require.Len(t, products, 2, "card without url or title is skipped")

	p := products[0]
	assert.Equal(t, "1005001234567890", p.ID)
	assert.Equal(t, "Wireless Earbuds", p.Title)
	assert.Equal(t, "https://www.aliexpress.com/item/1005001234567890.html", p.URL)
	assert.InDelta(t, 12.34, p.Price, 0.0001)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "https://ae01.alicdn.com/kf/S1.jpg", p.Image)
	assert.Equal(t, "Acme Audio Store", p.Store)
	assert.Equal(t, "1,000+ sold", p.Sales)

	q := products[1]
	assert.Equal(t, "1005009999999999", q.ID)
	assert.Equal(t, "https://www.aliexpress.com/item/1005009999999999.html", q.URL)
	assert.InDelta(t, 3.5, q.Price, 0.0001)
	assert.Equal(t, "EUR", q.Currency)
	assert.Equal(t, "https://ae01.alicdn.com/kf/S2.jpg", q.Image)
	assert.Empty(t, q.Store)
}

func TestExtractFallback(t *testing.T) {
	l := NewListing(nil)
	products := l.Extract(Document{URL: "https://www.aliexpress.com/w/wholesale-lamp.html", Body: []byte(fallbackPage)})

	require.Len(t, products, 2, "duplicate anchors for one item are merged")

	assert.Equal(t, "42", products[0].ID)
	assert.Equal(t, "Desk Lamp", products[0].Title)
	assert.Equal(t, "https://img.example/42.jpg", products[0].Image)
	assert.InDelta(t, 1299.0, products[0].Price, 0.0001)

	assert.Equal(t, "43", products[1].ID)
	assert.Equal(t, "Phone Stand", products[1].Title)
	assert.InDelta(t, 4.5, products[1].Price, 0.0001)
	assert.Equal(t, "87 sold", products[1].Sales)
}

func TestExtractPrimaryWinsWhenPresent(t *testing.T) {
	// A gallery page also contains /item/ anchors; only the primary strategy
	// must run so products are not doubled.
	products := NewListing(nil).Extract(Document{URL: "https://www.aliexpress.com/", Body: []byte(galleryPage)})
	assert.Len(t, products, 2)
}

func TestExtractEmptyAndGarbage(t *testing.T) {
	l := NewListing(nil)
	assert.Empty(t, l.Extract(Document{}))
	assert.NotNil(t, l.Extract(Document{}))
	assert.Empty(t, l.Extract(Document{Body: []byte("   \n")}))
	assert.Empty(t, l.Extract(Document{Body: []byte("<<<not html at all")}))
	assert.Empty(t, l.Extract(Document{Body: []byte("<html><body><p>No results</p></body></html>")}))
}

func TestExtractIsDeterministic(t *testing.T) {
	body := strings.Replace(galleryPage, `href="/item/1005009999999999.html"`, `href=""`, 1)
	l := NewListing(nil)
	first := l.Extract(Document{URL: "https://www.aliexpress.com/", Body: []byte(body)})
	second := l.Extract(Document{URL: "https://www.aliexpress.com/", Body: []byte(body)})

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Empty(t, first[1].URL)
	assert.True(t, strings.HasPrefix(first[1].ID, "t"), "card without url is keyed by its title")
}

func TestExtractDataProductID(t *testing.T) {
	page := `<div class="search-item-card-wrapper-gallery" data-product-id="777">
  <a class="search-card-item" href="https://www.aliexpress.com/ssr/click?x=1"><h3>Thing</h3></a>
</div>`
	products := NewListing(nil).Extract(Document{URL: "https://www.aliexpress.com/w/x.html", Body: []byte(page)})
	require.Len(t, products, 1)
	assert.Equal(t, "777", products[0].ID)
	assert.Equal(t, "https://www.aliexpress.com/item/777.html", products[0].URL)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		amount   float64
		currency string
	}{
		{"US $12.34", 12.34, "USD"},
		{"US $1,234.56", 1234.56, "USD"},
		{"$0.99", 0.99, "USD"},
		{"€12,34", 12.34, "EUR"},
		{"1.234,56 €", 1234.56, "EUR"},
		{"£7", 7, "GBP"},
		{"R$ 25,90", 25.90, "BRL"},
		{"US $5.99 - 10.99", 5.99, "USD"},
		{"1.234.567", 1234567, "USD"},
		{"12,345", 12345, "USD"},
		{"", 0, "USD"},
		{"free shipping", 0, "USD"},
	}

	for _, tc := range tests {
		amount, currency := ParsePrice(tc.in)
		assert.InDelta(t, tc.amount, amount, 0.0001, "amount for %q", tc.in)
		assert.Equal(t, tc.currency, currency, "currency for %q", tc.in)
	}
}

func TestProductID(t *testing.T) {
	assert.Equal(t, "99", ProductID("99", "", ""))
	assert.Equal(t, "123", ProductID("", "https://www.aliexpress.com/item/123.html", "x"))

	byURL := ProductID("", "https://www.aliexpress.com/p/landing", "x")
	assert.True(t, strings.HasPrefix(byURL, "u"))
	assert.Equal(t, byURL, ProductID("", "https://www.aliexpress.com/p/landing", "other"))

	byTitle := ProductID("", "", "  Desk   LAMP ")
	assert.Equal(t, ProductID("", "", "desk lamp"), byTitle)
	assert.Empty(t, ProductID("", "", ""))
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "https://ae01.alicdn.com/a.jpg", ImageURL(nil, "//ae01.alicdn.com/a.jpg"))
	assert.Equal(t, "http://x/a.jpg", ImageURL(nil, "http://x/a.jpg"))
	assert.Empty(t, ImageURL(nil, " "))
}
