package extract

// Strategy names the selectors used to pull product cards out of a listing
// page. Every site-specific selector lives in this file.
type Strategy struct {
	Name string
	// Card matches one element per product.
	Card string
	// Link selects the product anchor inside a card; empty means the card is
	// the anchor.
	Link  string
	Title string
	// Price matches the element(s) holding the price. With JoinPrice the text
	// of every match is concatenated (the site splits "US $", "12", ".34"
	// across spans); otherwise only the first match is read.
	Price     string
	JoinPrice bool
	Image     string
	Store     string
	Sales     string
	// Merge collapses cards that resolve to the same product id, filling
	// empty fields from later duplicates.
	Merge bool
}

// Primary matches the current gallery layout of the search page.
var Primary = Strategy{
	Name:      "primary",
	Card:      "div.search-item-card-wrapper-gallery",
	Link:      "a.search-card-item",
	Title:     "h3.lq_jl, h3",
	Price:     "div.lq_j3 span",
	JoinPrice: true,
	Image:     "img.l9_be, img",
	Store:     "span.io_ip, a[href*='/store/']",
	Sales:     "span.lq_jg",
}

// Fallback relies on URL shapes and loose class fragments instead of the
// obfuscated class names, which change on every frontend deploy.
var Fallback = Strategy{
	Name:  "fallback",
	Card:  "a[href*='/item/']",
	Title: "h1, h2, h3, [class*='title']",
	Price: "[class*='price'], [class*='Price']",
	Image: "img",
	Store: "[class*='store'], [class*='Store']",
	Sales: "[class*='sold'], [class*='trade']",
	Merge: true,
}
