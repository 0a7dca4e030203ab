package bypass

import (
	"net/http"
	"testing"
)

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestDetectSlider(t *testing.T) {
	// Normal listing page
	res := Response{StatusCode: 200, Header: header(), Body: []byte(`<div class="search-item-card-wrapper-gallery"></div>`)}
	if detected, _ := detectSlider(res); detected {
		t.Errorf("expected listing page not detected")
	}

	// Punish page served with 200
	res = Response{StatusCode: 200, Header: header(), Body: []byte(`<script>window._config_ = {action:"captcha", url:"/_____tmd_____/punish?x5secdata=abc"}</script>`)}
	if detected, src := detectSlider(res); !detected || src != "Slider" {
		t.Errorf("expected slider detection by body")
	}

	// Redirect to punish page
	res = Response{StatusCode: 302, Header: header("Location", "https://www.aliexpress.com/_____tmd_____/punish?x5step=1")}
	if detected, _ := detectSlider(res); !detected {
		t.Errorf("expected slider detection by redirect location")
	}

	// 404 carrying the marker is still a 404
	res = Response{StatusCode: 404, Header: header(), Body: []byte("x5secdata")}
	if detected, _ := detectSlider(res); detected {
		t.Errorf("expected 404 to be left to status handling")
	}
}

func TestDetectCloudflare(t *testing.T) {
	res := Response{StatusCode: 200, Header: header("Server", "nginx"), Body: []byte("OK")}
	if detected, _ := detectCloudflare(res); detected {
		t.Errorf("expected not detected")
	}

	res = Response{StatusCode: 403, Header: header("Server", "cloudflare"), Body: []byte("Access Denied")}
	if detected, src := detectCloudflare(res); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}

	res = Response{StatusCode: 503, Header: header(), Body: []byte("<html>... cf-turnstile ...</html>")}
	if detected, src := detectCloudflare(res); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by body")
	}
}

func TestDetectAkamai(t *testing.T) {
	res := Response{StatusCode: 403, Header: header("Server", "AkamaiGHost")}
	if detected, src := detectAkamai(res); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by header")
	}

	res = Response{StatusCode: 403, Header: header(), Body: []byte("Access Denied... Reference #123.456")}
	if detected, src := detectAkamai(res); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by body")
	}
}

func TestDetectDataDome(t *testing.T) {
	res := Response{StatusCode: 403, Header: header("X-DataDome", "protected")}
	if detected, src := detectDataDome(res); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by header")
	}

	res = Response{StatusCode: 403, Header: header(), Body: []byte(`<script src="https://geo.captcha-delivery.com/captcha/"></script>`)}
	if detected, _ := detectDataDome(res); !detected {
		t.Errorf("expected DataDome detection by body")
	}
}

func TestDetectPerimeterX(t *testing.T) {
	res := Response{StatusCode: 403, Header: header("X-Px-Captcha", "1")}
	if detected, src := detectPerimeterX(res); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by header")
	}

	res = Response{StatusCode: 403, Header: header(), Body: []byte(`<div id="px-captcha"></div>`)}
	if detected, _ := detectPerimeterX(res); !detected {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestAnalyze(t *testing.T) {
	clean := Response{StatusCode: 200, Header: header(), Body: []byte("products")}
	if d := Analyze(clean, DefaultDetectors()); d.Detected || d.Source != "" {
		t.Errorf("expected no detection, got %+v", d)
	}

	blocked := Response{StatusCode: 403, Header: header("Server", "cloudflare")}
	d := Analyze(blocked, DefaultDetectors())
	if !d.Detected || d.Source != "Cloudflare" {
		t.Errorf("expected Cloudflare detection, got %+v", d)
	}

	if d := Analyze(blocked, nil); d.Detected {
		t.Errorf("no detectors should never detect")
	}
}
