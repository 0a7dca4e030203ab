package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/FranksOps/aliscrape/internal/models"
)

var (
	numberRe = regexp.MustCompile(`\d[\d.,]*`)
	itemIDRe = regexp.MustCompile(`/item/(\d+)\.html`)
	digitsRe = regexp.MustCompile(`^\d+$`)
)

// currencyMarkers is ordered so that longer markers win over their suffixes
// ("R$" before "$").
var currencyMarkers = []struct {
	marker string
	code   string
}{
	{"US $", "USD"},
	{"USD", "USD"},
	{"R$", "BRL"},
	{"BRL", "BRL"},
	{"CA $", "CAD"},
	{"C$", "CAD"},
	{"CAD", "CAD"},
	{"AU $", "AUD"},
	{"A$", "AUD"},
	{"AUD", "AUD"},
	{"€", "EUR"},
	{"EUR", "EUR"},
	{"£", "GBP"},
	{"GBP", "GBP"},
	{"₽", "RUB"},
	{"RUB", "RUB"},
	{"¥", "JPY"},
	{"JPY", "JPY"},
	{"$", "USD"},
}

// ParsePrice turns listing price text such as "US $1,234.56" into an amount
// and ISO currency code. Text without a parsable number yields 0 and the
// default currency. A price range yields its lower bound.
func ParsePrice(text string) (float64, string) {
	text = strings.TrimSpace(text)
	raw := numberRe.FindString(text)
	if raw == "" {
		return 0, models.DefaultCurrency
	}

	amount, err := strconv.ParseFloat(normalizeNumber(raw), 64)
	if err != nil {
		return 0, models.DefaultCurrency
	}
	return amount, currencyOf(text)
}

func currencyOf(text string) string {
	upper := strings.ToUpper(text)
	for _, c := range currencyMarkers {
		if strings.Contains(upper, c.marker) {
			return c.code
		}
	}
	return models.DefaultCurrency
}

// normalizeNumber strips thousands separators and turns the decimal separator
// into '.'. When both ',' and '.' appear, the last one is the decimal mark.
// A lone ',' followed by one or two digits is a decimal comma.
func normalizeNumber(s string) string {
	s = strings.TrimRight(s, ".,")
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ProductID derives a stable identifier for a card: the site's numeric item id
// when one is known, otherwise a hash of the canonical URL, otherwise a hash
// of the title. It never returns a random value.
func ProductID(listingID, canonicalURL, title string) string {
	if digitsRe.MatchString(listingID) {
		return listingID
	}
	if m := itemIDRe.FindStringSubmatch(canonicalURL); m != nil {
		return m[1]
	}
	if canonicalURL != "" {
		return "u" + shortHash(canonicalURL)
	}
	if t := strings.Join(strings.Fields(strings.ToLower(title)), " "); t != "" {
		return "t" + shortHash(t)
	}
	return ""
}

// CanonicalURL resolves href against base and reduces item links to
// scheme://host/item/<id>.html. Other links lose their query and fragment.
func CanonicalURL(base *url.URL, href, listingID string) string {
	href = strings.TrimSpace(href)
	var u *url.URL
	if href != "" {
		parsed, err := url.Parse(href)
		if err != nil {
			return ""
		}
		u = parsed
		if base != nil {
			u = base.ResolveReference(parsed)
		}
		if u.Scheme == "" {
			u.Scheme = "https"
		}
	}

	id := listingID
	if !digitsRe.MatchString(id) && u != nil {
		if m := itemIDRe.FindStringSubmatch(u.Path); m != nil {
			id = m[1]
		}
	}

	if digitsRe.MatchString(id) {
		host := &url.URL{Scheme: "https", Host: "www.aliexpress.com"}
		switch {
		case u != nil && u.Host != "":
			host = &url.URL{Scheme: u.Scheme, Host: u.Host}
		case base != nil && base.Host != "":
			host = &url.URL{Scheme: base.Scheme, Host: base.Host}
		}
		return host.Scheme + "://" + host.Host + "/item/" + id + ".html"
	}

	if u == nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ImageURL makes protocol-relative and relative image sources absolute.
func ImageURL(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return ""
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "http:"), strings.HasPrefix(src, "https:"):
		return src
	}
	ref, err := url.Parse(src)
	if err != nil || base == nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
