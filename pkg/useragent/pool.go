package useragent

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"net/http"
	"strings"
)

// Browser families an identity can present as. The family decides the header
// set and which TLS fingerprint the transport should use.
const (
	FamilyChrome  = "chrome"
	FamilyFirefox = "firefox"
	FamilySafari  = "safari"
	FamilyEdge    = "edge"
)

// DefaultPool provides a realistic set of modern User-Agents for desktop browsers.
var DefaultPool = []string{
	// Chrome Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	// Chrome Mac / Linux
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	// Firefox
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:122.0) Gecko/20100101 Firefox/122.0",
	// Safari Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	// Edge Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// Identity is the outbound presentation of a single fetch attempt.
type Identity struct {
	UserAgent string
	Family    string
	Header    http.Header
}

// Apply sets the identity's headers on req, replacing any existing values.
func (id Identity) Apply(req *http.Request) {
	for k, vals := range id.Header {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", id.UserAgent)
}

// Pool is an immutable set of User-Agents sampled uniformly at random. It keeps
// no rotation state, so it is safe for concurrent use without locking.
type Pool struct {
	uas    []string
	extras http.Header
}

// NewPool creates a new User-Agent pool. If the provided slice is empty,
// it falls back to DefaultPool. extras are added to every identity (e.g. a
// locale cookie) and may be nil.
func NewPool(uas []string, extras http.Header) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	// Copy to avoid external mutation
	copied := make([]string, len(uas))
	copy(copied, uas)
	return &Pool{
		uas:    copied,
		extras: extras.Clone(),
	}
}

// Next returns a randomly selected identity.
func (p *Pool) Next() Identity {
	ua := p.pick()
	family := Family(ua)
	h := baseHeaders(family)
	for k, vals := range p.extras {
		h[k] = append([]string(nil), vals...)
	}
	return Identity{UserAgent: ua, Family: family, Header: h}
}

// Len returns the pool size.
func (p *Pool) Len() int {
	return len(p.uas)
}

func (p *Pool) pick() string {
	if len(p.uas) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		// crypto/rand failing is not worth failing a fetch over
		return p.uas[mrand.IntN(len(p.uas))]
	}
	return p.uas[n.Int64()]
}

// Family infers the browser family of a User-Agent string. Order matters:
// Edge and Chrome both claim Safari, Edge also claims Chrome.
func Family(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"):
		return FamilyEdge
	case strings.Contains(ua, "Firefox/"):
		return FamilyFirefox
	case strings.Contains(ua, "Chrome/"):
		return FamilyChrome
	case strings.Contains(ua, "Safari/"):
		return FamilySafari
	default:
		return FamilyChrome
	}
}

func baseHeaders(family string) http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "max-age=0")

	// Safari does not send fetch metadata headers on navigation.
	if family != FamilySafari {
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "none")
		h.Set("Sec-Fetch-User", "?1")
	}
	return h
}
