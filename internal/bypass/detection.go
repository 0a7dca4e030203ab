package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the part of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detection reports which bot protection challenged or blocked a request.
type Detection struct {
	Detected bool
	Source   string // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome", "Slider"
}

// Detector examines a response to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(res Response) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectSlider,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs the response through the detectors and returns the first hit.
func Analyze(res Response, detectors []Detector) Detection {
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return Detection{Detected: true, Source: source}
		}
	}
	return Detection{}
}

// detectSlider catches the interstitial captcha the listing site serves with a
// 200 status instead of results ("punish" / x5sec slider pages).
func detectSlider(res Response) (bool, string) {
	if res.StatusCode >= http.StatusBadRequest && res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(res.Header.Get("Location"), "/_____tmd_____/punish") {
		return true, "Slider"
	}
	if bytes.Contains(res.Body, []byte("_____tmd_____/punish")) ||
		bytes.Contains(res.Body, []byte("x5secdata")) ||
		bytes.Contains(res.Body, []byte("baxia-dialog")) ||
		bytes.Contains(res.Body, []byte("nc_1_n1z")) {
		return true, "Slider"
	}
	return false, ""
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(res Response) (bool, string) {
	// Status codes 403 or 503 are common for CF challenges
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Header.Get("Server")), "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(res.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(res.Body, []byte("cf-turnstile")) ||
		bytes.Contains(res.Body, []byte("Attention Required! | Cloudflare")) {
		return true, "Cloudflare"
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Header.Get("Server")), "akamai") {
		return true, "Akamai"
	}
	// Akamai often returns a generic "Reference #" block page
	if bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Header.Get("Server")), "datadome") ||
		res.Header.Get("X-DataDome") != "" || res.Header.Get("X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bytes.Contains(res.Body, []byte("geo.captcha-delivery.com")) {
		return true, "DataDome"
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if res.Header.Get("X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if bytes.Contains(res.Body, []byte("client.perimeterx.net")) ||
		bytes.Contains(res.Body, []byte("px-captcha")) ||
		bytes.Contains(res.Body, []byte("_pxBlock")) {
		return true, "PerimeterX"
	}
	return false, ""
}
