package fingerprint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"

	"github.com/FranksOps/aliscrape/pkg/useragent"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
	// ProfileAuto picks the profile matching each identity's browser family.
	ProfileAuto Profile = "auto"
)

// ParseProfile validates a profile name from configuration.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return ProfileAuto, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom, ProfileAuto:
		return p, nil
	}
	return "", fmt.Errorf("fingerprint: unknown profile %q", s)
}

// ForFamily returns the TLS profile a browser family would present. Edge is
// Chromium and shares Chrome's ClientHello.
func ForFamily(family string) Profile {
	switch family {
	case useragent.FamilyFirefox:
		return ProfileFirefox
	case useragent.FamilySafari:
		return ProfileSafari
	default:
		return ProfileChrome
	}
}

// Resolve maps a configured profile and an identity family to the concrete
// profile to dial with.
func Resolve(configured Profile, family string) Profile {
	if configured == "" || configured == ProfileAuto {
		return ForFamily(family)
	}
	return configured
}

// Transport returns an http.RoundTripper configured with the specified
// TLS fingerprint profile. If the profile is "go", it returns a standard
// http.Transport. Otherwise, it wraps http.Transport to use utls.UClient.
// proxyFunc is optional. If provided, it configures the underlying transport's Proxy.
func Transport(p Profile, proxyFunc func(*http.Request) (*url.URL, error)) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyFunc != nil {
		transport.Proxy = proxyFunc
	}

	if p == ProfileGo {
		return transport, nil
	}

	helloID, err := clientHello(p)
	if err != nil {
		return nil, err
	}

	// uTLS negotiates ALPN itself; keep the transport on HTTP/1.1 framing since
	// net/http cannot speak h2 over a non crypto/tls connection.
	transport.ForceAttemptHTTP2 = false
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := transport.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := newUClient(tcpConn, host, helloID)
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return transport, nil
}

func clientHello(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedNoALPN, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("fingerprint: no client hello for profile %q", p)
}

// newUClient builds a uTLS connection whose ALPN offers only http/1.1. The
// browser presets advertise h2, which net/http cannot speak over a uTLS conn.
func newUClient(conn net.Conn, host string, id utls.ClientHelloID) (*utls.UConn, error) {
	if id == utls.HelloRandomizedNoALPN {
		return utls.UClient(conn, &utls.Config{ServerName: host}, id), nil
	}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: spec for %s: %w", id.Str(), err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("fingerprint: apply %s preset: %w", id.Str(), err)
	}
	return uConn, nil
}
