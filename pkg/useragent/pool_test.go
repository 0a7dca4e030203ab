package useragent

import (
	"net/http"
	"sync"
	"testing"
)

func TestPool_Default(t *testing.T) {
	// Passing empty slice falls back to default
	p := NewPool(nil, nil)
	if p.Len() != len(DefaultPool) {
		t.Errorf("expected pool length %d, got %d", len(DefaultPool), p.Len())
	}

	id := p.Next()
	found := false
	for _, ua := range DefaultPool {
		if ua == id.UserAgent {
			found = true
		}
	}
	if !found {
		t.Errorf("identity %q not drawn from the default pool", id.UserAgent)
	}
}

func TestPool_NextIsRandom(t *testing.T) {
	p := NewPool([]string{"A", "B"}, nil)

	seen := map[string]int{}
	// 200 draws, seeing only one side has probability 2^-199
	for i := 0; i < 200; i++ {
		seen[p.Next().UserAgent]++
	}
	if len(seen) != 2 || seen["A"] == 0 || seen["B"] == 0 {
		t.Errorf("expected both A and B, got %v", seen)
	}
}

func TestPool_NoExternalMutation(t *testing.T) {
	uas := []string{"A"}
	p := NewPool(uas, nil)
	uas[0] = "mutated"

	if got := p.Next().UserAgent; got != "A" {
		t.Errorf("expected A, got %s", got)
	}
}

func TestPool_Extras(t *testing.T) {
	extras := http.Header{}
	extras.Set("Cookie", "aep_usuc_f=c_tp=USD")
	p := NewPool([]string{"Mozilla/5.0 Firefox/121.0"}, extras)

	id := p.Next()
	if got := id.Header.Get("Cookie"); got != "aep_usuc_f=c_tp=USD" {
		t.Errorf("expected cookie extra, got %q", got)
	}

	// identities must not share header maps
	id.Header.Set("Cookie", "changed")
	if got := p.Next().Header.Get("Cookie"); got != "aep_usuc_f=c_tp=USD" {
		t.Errorf("identity header leaked into pool, got %q", got)
	}
}

func TestFamily(t *testing.T) {
	tests := map[string]string{
		DefaultPool[0]: FamilyChrome,
		DefaultPool[4]: FamilyFirefox,
		DefaultPool[6]: FamilySafari,
		DefaultPool[7]: FamilyEdge,
		"curl/8.0":     FamilyChrome,
	}
	for ua, want := range tests {
		if got := Family(ua); got != want {
			t.Errorf("Family(%q) = %s, want %s", ua, got, want)
		}
	}
}

func TestIdentity_Apply(t *testing.T) {
	p := NewPool([]string{DefaultPool[6]}, nil)
	id := p.Next()

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Accept", "stale")
	id.Apply(req)

	if req.Header.Get("User-Agent") != DefaultPool[6] {
		t.Errorf("User-Agent not applied")
	}
	if req.Header.Get("Accept") == "stale" {
		t.Errorf("Accept should be replaced by identity header")
	}
	if req.Header.Get("Sec-Fetch-Mode") != "" {
		t.Errorf("safari identity should not send Sec-Fetch headers")
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool([]string{"X", "Y", "Z"}, nil)

	var wg sync.WaitGroup
	const routines = 50
	const iterations = 200

	results := make(chan string, routines*iterations)
	for i := 0; i < routines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				results <- p.Next().UserAgent
			}
		}()
	}
	wg.Wait()
	close(results)

	counts := map[string]int{}
	for r := range results {
		counts[r]++
	}
	for _, k := range []string{"X", "Y", "Z"} {
		if counts[k] == 0 {
			t.Errorf("expected %s to be drawn at least once", k)
		}
	}
}

func TestPool_Empty(t *testing.T) {
	// Internal struct bypass (NewPool handles nil -> DefaultPool)
	p := &Pool{uas: []string{}}

	if got := p.Next().UserAgent; got != "" {
		t.Errorf("expected empty string on empty pool, got %s", got)
	}
}
