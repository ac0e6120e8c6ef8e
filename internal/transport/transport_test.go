package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"
)

func TestSendReturnsPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "email").String() != "user@example.com" {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"access_token":"at"}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{})
	payload, err := tr.Send(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/auth/login",
		Body:   []byte(`{"email":"user@example.com"}`),
	})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if got := gjson.GetBytes(payload, "data.access_token").String(); got != "at" {
		t.Errorf("payload access_token = %q, want \"at\"", got)
	}
}

func TestSendStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "error envelope",
			status:      http.StatusUnauthorized,
			body:        `{"errors":[{"message":"Invalid user credentials.","extensions":{"code":"INVALID_CREDENTIALS"}}]}`,
			wantCode:    "INVALID_CREDENTIALS",
			wantMessage: "Invalid user credentials.",
		},
		{
			name:        "non-json body",
			status:      http.StatusBadGateway,
			body:        "upstream exploded",
			wantCode:    "",
			wantMessage: "Bad Gateway",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPTransport(Options{}).Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL})
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Send() error = %v, want *StatusError", err)
			}
			if statusErr.StatusCode != tt.status || statusErr.Code != tt.wantCode || statusErr.Message != tt.wantMessage {
				t.Errorf("StatusError = %+v, want status=%d code=%q message=%q", statusErr, tt.status, tt.wantCode, tt.wantMessage)
			}
		})
	}
}

func TestSendNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listens anymore

	_, err := NewHTTPTransport(Options{}).Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Send() error = %v, want *NetworkError", err)
	}
	if netErr.URL != srv.URL {
		t.Errorf("NetworkError.URL = %q, want %q", netErr.URL, srv.URL)
	}
	if netErr.Unwrap() == nil {
		t.Error("NetworkError does not wrap the underlying failure")
	}
}

func TestSendKeepsCookiesAcrossRequests(t *testing.T) {
	t.Parallel()

	var sawRefreshCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "session_refresh", Value: "cookie-rt", Path: "/"})
			_, _ = w.Write([]byte(`{"data":{}}`))
		case "/auth/refresh":
			if c, err := r.Cookie("session_refresh"); err == nil && c.Value == "cookie-rt" {
				sawRefreshCookie = true
			}
			_, _ = w.Write([]byte(`{"data":{}}`))
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{})
	ctx := context.Background()
	if _, err := tr.Send(ctx, Request{Method: http.MethodPost, URL: srv.URL + "/auth/login"}); err != nil {
		t.Fatalf("login Send() failed: %v", err)
	}
	if _, err := tr.Send(ctx, Request{Method: http.MethodPost, URL: srv.URL + "/auth/refresh"}); err != nil {
		t.Fatalf("refresh Send() failed: %v", err)
	}
	if !sawRefreshCookie {
		t.Error("refresh request arrived without the cookie set by login")
	}
}
