package pipeline

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/nghyane/gameday-net/internal/logging"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// TransportConfig holds connection pool tuning for every client built here.
var TransportConfig = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
}{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	DialTimeout:           15 * time.Second,
	KeepAlive:             30 * time.Second,
}

func configureHTTP2(transport *http.Transport) {
	h2, err := http2.ConfigureTransports(transport)
	if err != nil {
		log.Debugf("http2 not configured: %v", err)
		return
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second
}

func baseTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: TransportConfig.DialTimeout, KeepAlive: TransportConfig.KeepAlive}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          TransportConfig.MaxIdleConns,
		MaxIdleConnsPerHost:   TransportConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:       TransportConfig.IdleConnTimeout,
		TLSHandshakeTimeout:   TransportConfig.TLSHandshakeTimeout,
		ExpectContinueTimeout: TransportConfig.ExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
		// Accept-Encoding is negotiated explicitly and decoded in decodeBody.
		DisableCompression: true,
		TLSClientConfig:    &tls.Config{MinVersion: tls.VersionTLS12},
	}
	configureHTTP2(t)
	return t
}

// NewTransport returns a transport honoring proxyURL (http, https or socks5).
// An empty proxyURL yields a direct transport.
func NewTransport(proxyURL string) (*http.Transport, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return baseTransport(), nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	switch parsed.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		t := baseTransport()
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return t, nil
	case "http", "https":
		t := baseTransport()
		t.Proxy = http.ProxyURL(parsed)
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
}

// NewHTTPClient wraps NewTransport. Timeouts are applied per attempt by the
// pipeline, so the client itself has none.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	t, err := NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}
