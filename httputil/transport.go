package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

var ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

// NewTransport returns the round tripper shared by API and CDN clients. An
// empty proxyURL dials directly; socks5 URLs go through a SOCKS5 dialer and
// http(s) URLs through the CONNECT proxy support of net/http.
func NewTransport(proxyURL string) (*http.Transport, error) {
	t, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("failed to cast default transport")
	}
	t = t.Clone()

	if proxyURL == "" {
		return t, nil
	}

	u, err := url.Parse(proxyURL)
	if nil != err {
		return nil, fmt.Errorf("failed to parse proxy URL: %v", err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if nil != err {
			return nil, fmt.Errorf("failed to create proxy dialer: %v", err)
		}

		dc, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("failed to cast proxy to ContextDialer")
		}
		t.Proxy = nil
		t.DialContext = dc.DialContext
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, u.Scheme)
	}

	return t, nil
}
