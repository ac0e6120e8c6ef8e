package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// setProxy configures the client transport from a proxy URL. SOCKS5 proxies
// get a custom dialer; HTTP(S) proxies use the standard transport hook.
// Invalid or unsupported URLs leave the client untouched.
func setProxy(proxyURL string, client *http.Client) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("transport: parse proxy url failed: %v", err)
		return
	}
	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("transport: create SOCKS5 dialer failed: %v", errSOCKS5)
			return
		}
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	default:
		log.Warnf("transport: unsupported proxy scheme %q", parsed.Scheme)
	}
}
