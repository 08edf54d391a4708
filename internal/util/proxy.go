// Package util holds small HTTP helpers shared by the LLM providers.
package util

import (
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// ProxyConfig holds explicit proxy settings. Empty fields fall back to the
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment variables.
type ProxyConfig struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// NewProxyFunc creates a proxy function for http.Transport.
// If no proxy URLs are configured the environment decides.
func NewProxyFunc(cfg ProxyConfig) func(*http.Request) (*url.URL, error) {
	if cfg.HTTPProxy == "" && cfg.HTTPSProxy == "" {
		return http.ProxyFromEnvironment
	}

	env := httpproxy.FromEnvironment()
	pc := &httpproxy.Config{
		HTTPProxy:  cfg.HTTPProxy,
		HTTPSProxy: cfg.HTTPSProxy,
		NoProxy:    cfg.NoProxy,
		CGI:        env.CGI,
	}
	if pc.NoProxy == "" {
		pc.NoProxy = env.NoProxy
	}

	proxyURL := pc.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyURL(req.URL)
	}
}

// NewHTTPClient returns a client with the given timeout and proxy settings
func NewHTTPClient(timeout time.Duration, cfg ProxyConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = NewProxyFunc(cfg)

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
