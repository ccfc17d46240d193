package transport

import (
	"net"
	"net/http"
	"time"
)

const defaultUserAgent = "tgrelay/1.0"

type Options struct {
	// Timeout bounds a single request including reading the body.
	Timeout   time.Duration
	UserAgent string
	// MaxConnsPerHost of zero means no limit.
	MaxConnsPerHost int
}

// NewHTTPClient returns a client with the given timeout and a pooled
// transport that stamps the User-Agent.
func NewHTTPClient(opts Options) *http.Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &userAgentTransport{next: base, userAgent: ua},
	}
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(clone)
}
