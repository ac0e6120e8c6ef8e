// Package transport implements the HTTP collaborator the session core
// depends on: send a JSON request, get the JSON payload back or a typed
// failure. It knows nothing about credentials beyond attaching headers and,
// when the credentials policy asks for it, carrying cookies between calls.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// CredentialsPolicyInclude asks the transport to retain and replay cookies
// across requests, mirroring ambient-cookie credential attachment.
const CredentialsPolicyInclude = "include"

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// CredentialsPolicy is an opaque pass-through chosen by the caller; the
	// HTTP transport only distinguishes "include".
	CredentialsPolicy string
}

// Transport sends a request and returns the raw JSON payload on success.
type Transport interface {
	Send(ctx context.Context, req Request) ([]byte, error)
}

// Options configures the HTTP transport.
type Options struct {
	// ProxyURL routes requests through a SOCKS5 or HTTP(S) proxy when set.
	ProxyURL string
	// Timeout bounds each request end to end. Zero keeps the client default
	// of no transport-level timeout; callers bound requests via ctx.
	Timeout time.Duration
}

// HTTPTransport is the net/http-backed Transport implementation.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a transport with proxy support and a cookie jar
// so cookie-mode sessions keep their refresh cookie between calls.
func NewHTTPTransport(opts Options) *HTTPTransport {
	client := &http.Client{Timeout: opts.Timeout}
	if jar, err := cookiejar.New(nil); err == nil {
		client.Jar = jar
	} else {
		log.Warnf("transport: cookie jar unavailable: %v", err)
	}
	if opts.ProxyURL != "" {
		setProxy(opts.ProxyURL, client)
	}
	return &HTTPTransport{client: client}
}

// Send performs the request. A transport-level failure yields *NetworkError;
// a non-2xx response yields *StatusError carrying the server's error code.
func (t *HTTPTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusErrorFromPayload(resp.StatusCode, payload)
	}
	return payload, nil
}

// statusErrorFromPayload extracts the server error code and message from a
// JSON error envelope of the form {"errors":[{"message":..,"extensions":{"code":..}}]}.
func statusErrorFromPayload(status int, payload []byte) *StatusError {
	doc := gjson.ParseBytes(payload)
	code := doc.Get("errors.0.extensions.code").String()
	message := doc.Get("errors.0.message").String()
	if message == "" {
		message = http.StatusText(status)
	}
	return &StatusError{StatusCode: status, Code: code, Message: message}
}
