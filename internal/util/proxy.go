package util

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// NewProxyFunc selects an HTTP(S) proxy for a request. Explicit settings
// take precedence; without them the HTTP_PROXY/HTTPS_PROXY/NO_PROXY
// environment is used. noProxy applies to explicit settings as well.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	cfg := httpproxy.Config{
		HTTPProxy:  httpProxy,
		HTTPSProxy: httpsProxy,
		NoProxy:    noProxy,
	}
	proxyFor := cfg.ProxyFunc()

	return func(req *http.Request) (*url.URL, error) {
		u := *req.URL
		// The websocket dialer asks with ws/wss URLs
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		}
		return proxyFor(&u)
	}
}

// FallbackURL is the backend page that renders originalURL through the
// proxy when the page itself cannot host the sidebar connection
func FallbackURL(address, originalURL string) string {
	return "https://" + address + "/get_content/?url=" + url.QueryEscape(originalURL)
}
