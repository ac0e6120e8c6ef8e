package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/singleflight"

	"github.com/sessionkit/sessionkit/internal/transport"
	"github.com/sessionkit/sessionkit/sdk/realtime"
	"github.com/sessionkit/sessionkit/sdk/session/lock"
)

// Mode selects how refresh and logout carry credentials: "json" puts the
// refresh token in the request body, the other modes rely on
// transport-level attachment such as an ambient cookie.
type Mode string

const (
	ModeCookie  Mode = "cookie"
	ModeJSON    Mode = "json"
	ModeSession Mode = "session"
)

const (
	// DefaultRefreshLead is how long before expiry a proactive refresh fires.
	DefaultRefreshLead = 30 * time.Second
	// DefaultLockKey names the cross-context refresh lock.
	DefaultLockKey = "sessionkit.refresh"
	// DefaultLockLease bounds how long a crashed refresh holder can keep
	// the fallback lock.
	DefaultLockLease = 10 * time.Second
)

// Server-reported lifetimes at or beyond this are treated as non-expiring
// and never scheduled for refresh.
const maxSchedulableLifetime = 10 * 365 * 24 * time.Hour

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"

	refreshFlightKey = "refresh"
)

// Config describes an immutable session setup.
type Config struct {
	// BaseURL is the HTTP endpoint of the auth server.
	BaseURL string
	// Mode selects the credential carry mode. Defaults to ModeCookie.
	Mode Mode
	// RefreshLead is how long before expiry the proactive refresh fires.
	// Defaults to DefaultRefreshLead.
	RefreshLead time.Duration
	// DisableAutoRefresh turns off the proactive refresh timer; tokens are
	// then refreshed only reactively through Token and Refresh.
	DisableAutoRefresh bool
	// CredentialsPolicy is passed through to the transport unchanged.
	CredentialsPolicy string

	// Transport performs the HTTP calls. Required.
	Transport transport.Transport
	// Store persists the credential record. Defaults to an in-memory store.
	Store CredentialStore
	// Locker serializes refresh attempts across processes sharing the
	// store. Nil keeps refreshes in-process only.
	Locker lock.Locker
	// LockKey names the refresh lock. Defaults to DefaultLockKey.
	LockKey string
	// LockLease bounds a crashed holder on the fallback lock path.
	// Defaults to DefaultLockLease.
	LockLease time.Duration
	// Channel, when set, is authenticated after login and kept
	// authenticated by the realtime reauth handshake.
	Channel realtime.Channel
}

// LoginOptions captures per-login knobs.
type LoginOptions struct {
	// OTP is the one-time password for accounts with two-factor auth.
	OTP string
}

// AuthSession orchestrates login, logout, and token retrieval, owns the
// credential record's lifecycle, and decides when to refresh. Callers never
// observe a "broken" session while a refresh is in flight, only latency.
type AuthSession struct {
	cfg       Config
	store     CredentialStore
	handshake *realtime.Handshake
	endpoints endpoints

	sched  refreshScheduler
	flight singleflight.Group

	now func() time.Time
}

type endpoints struct {
	login   string
	refresh string
	logout  string
}

// New validates the configuration, fills in defaults, and returns a session
// in the unauthenticated state.
func New(cfg Config) (*AuthSession, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("session: base URL is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCookie
	}
	switch cfg.Mode {
	case ModeCookie, ModeJSON, ModeSession:
	default:
		return nil, fmt.Errorf("session: unknown mode %q", cfg.Mode)
	}
	if cfg.RefreshLead <= 0 {
		cfg.RefreshLead = DefaultRefreshLead
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = DefaultLockLease
	}

	eps, err := resolveEndpoints(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	s := &AuthSession{
		cfg:       cfg,
		store:     cfg.Store,
		endpoints: eps,
		now:       time.Now,
	}
	if cfg.Channel != nil {
		s.handshake = realtime.NewHandshake(cfg.Channel)
	}
	return s, nil
}

func resolveEndpoints(base string) (endpoints, error) {
	var eps endpoints
	var err error
	if eps.login, err = url.JoinPath(base, loginPath); err != nil {
		return eps, fmt.Errorf("session: invalid base URL: %w", err)
	}
	eps.refresh, _ = url.JoinPath(base, refreshPath)
	eps.logout, _ = url.JoinPath(base, logoutPath)
	return eps, nil
}

// Login authenticates with the identifier/secret pair, stores the returned
// credential record, and arms the proactive refresh. When a realtime
// channel is configured its auth handshake runs after credential storage,
// so a concurrent expiry message already finds a valid refresh token.
func (s *AuthSession) Login(ctx context.Context, identifier, secret string, opts *LoginOptions) (CredentialRecord, error) {
	// Drop existing credentials and any pending refresh first so a stale
	// refresh cannot race the new login.
	s.sched.Cancel()
	if err := s.store.Set(ctx, CredentialRecord{}); err != nil {
		return CredentialRecord{}, err
	}

	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "email", identifier)
	body, _ = sjson.SetBytes(body, "password", secret)
	if opts != nil && opts.OTP != "" {
		body, _ = sjson.SetBytes(body, "otp", opts.OTP)
	}
	body, _ = sjson.SetBytes(body, "mode", string(s.cfg.Mode))

	payload, err := s.send(ctx, s.endpoints.login, body)
	if err != nil {
		return CredentialRecord{}, wrapTransportError(err)
	}
	rec := recordFromPayload(payload)
	if err = s.setCredentials(ctx, rec); err != nil {
		return CredentialRecord{}, err
	}

	if s.handshake != nil {
		if err = s.handshake.Begin(ctx, identifier, secret); err != nil {
			return rec, fmt.Errorf("session: realtime auth: %w", err)
		}
	}
	return rec, nil
}

// Refresh exchanges the stored refresh token for a new credential record.
// Concurrent callers join the refresh already in flight and observe its
// outcome; a failed refresh leaves the record cleared and reports the same
// error to every joined caller.
func (s *AuthSession) Refresh(ctx context.Context) (CredentialRecord, error) {
	ch := s.flight.DoChan(refreshFlightKey, func() (any, error) {
		// Once issued, a refresh runs to completion or failure regardless
		// of what happens to the caller that triggered it.
		return s.doRefresh(context.Background())
	})
	select {
	case <-ctx.Done():
		return CredentialRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return CredentialRecord{}, res.Err
		}
		return res.Val.(CredentialRecord), nil
	}
}

func (s *AuthSession) doRefresh(ctx context.Context) (CredentialRecord, error) {
	prior, err := s.store.Get(ctx)
	if err != nil {
		return CredentialRecord{}, err
	}
	if prior.IsZero() {
		return CredentialRecord{}, ErrUnauthenticated
	}

	if s.cfg.Locker == nil {
		// Clear before the exchange so a concurrent Token never reads a
		// half-refreshed record as valid.
		if err = s.store.Set(ctx, CredentialRecord{}); err != nil {
			return CredentialRecord{}, err
		}
		return s.refreshExchange(ctx, prior)
	}

	var rec CredentialRecord
	errAcquire := s.cfg.Locker.Acquire(ctx, s.cfg.LockKey, s.cfg.LockLease, func(ctx context.Context) error {
		// Re-read under the lock: another process may have refreshed the
		// shared record while this one waited, consuming the prior refresh
		// token. Touching the store before holding the lock would erase
		// that process's fresh record.
		current, errGet := s.store.Get(ctx)
		if errGet != nil {
			return errGet
		}
		if current.IsZero() {
			return ErrUnauthenticated
		}
		if current != prior {
			rec = current
			return nil
		}
		if errClear := s.store.Set(ctx, CredentialRecord{}); errClear != nil {
			return errClear
		}
		var errExchange error
		rec, errExchange = s.refreshExchange(ctx, current)
		return errExchange
	})
	if errors.Is(errAcquire, lock.ErrNotAcquired) {
		// Another process holds the lock and is refreshing the shared
		// credential; abandon this attempt and pick up whatever it stored.
		log.WithField("key", s.cfg.LockKey).Debugf("session: refresh lock busy, skipping attempt")
		return s.store.Get(ctx)
	}
	if errAcquire != nil {
		return CredentialRecord{}, errAcquire
	}
	return rec, nil
}

func (s *AuthSession) refreshExchange(ctx context.Context, prior CredentialRecord) (CredentialRecord, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "mode", string(s.cfg.Mode))
	if s.cfg.Mode == ModeJSON {
		body, _ = sjson.SetBytes(body, "refresh_token", prior.RefreshToken)
	}
	payload, err := s.send(ctx, s.endpoints.refresh, body)
	if err != nil {
		return CredentialRecord{}, wrapTransportError(err)
	}
	rec := recordFromPayload(payload)
	if err = s.setCredentials(ctx, rec); err != nil {
		return CredentialRecord{}, err
	}
	return rec, nil
}

// Token returns the current access token, refreshing it first when it has
// expired. Unexpired records (and records without an expiry) return
// immediately. An unauthenticated session returns the empty string with no
// error; so does a session whose refresh just failed, since the failure
// already degraded it to unauthenticated.
func (s *AuthSession) Token(ctx context.Context) (string, error) {
	rec, err := s.store.Get(ctx)
	if err != nil {
		return "", err
	}
	if rec.AccessToken != "" && !rec.ExpiredAt(s.now()) {
		return rec.AccessToken, nil
	}
	if rec.IsZero() {
		return "", nil
	}

	// Expired: join (or start) the in-flight refresh. The refresh error is
	// swallowed at this call site; callers that need it use Refresh.
	fresh, errRefresh := s.Refresh(ctx)
	switch {
	case errRefresh == nil:
		return fresh.AccessToken, nil
	case errors.Is(errRefresh, context.Canceled), errors.Is(errRefresh, context.DeadlineExceeded):
		return "", errRefresh
	default:
		log.Warnf("session: reactive refresh failed: %v", errRefresh)
	}

	rec, err = s.store.Get(ctx)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// SetToken installs an out-of-band access token. The record keeps no
// refresh token and no expiry, which disables auto-refresh for this
// credential.
func (s *AuthSession) SetToken(ctx context.Context, token string) error {
	return s.setCredentials(ctx, CredentialRecord{AccessToken: token})
}

// Logout notifies the server and tears the session down. The timer cancel,
// realtime listener removal, and store clear run even when the network call
// fails.
func (s *AuthSession) Logout(ctx context.Context) error {
	rec, errGet := s.store.Get(ctx)

	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "mode", string(s.cfg.Mode))
	if s.cfg.Mode == ModeJSON && rec.RefreshToken != "" {
		body, _ = sjson.SetBytes(body, "refresh_token", rec.RefreshToken)
	}
	var errSend error
	if _, err := s.send(ctx, s.endpoints.logout, body); err != nil {
		errSend = wrapTransportError(err)
	}

	s.sched.Cancel()
	if s.handshake != nil {
		s.handshake.Close()
	}
	if err := s.store.Set(ctx, CredentialRecord{}); err != nil && errSend == nil {
		errSend = err
	}
	if errGet != nil && errSend == nil {
		errSend = errGet
	}
	return errSend
}

// setCredentials derives the absolute expiry, persists the record, and
// re-arms the proactive refresh timer. At most one scheduled refresh is
// pending at any time; re-arming replaces the previous timer.
func (s *AuthSession) setCredentials(ctx context.Context, rec CredentialRecord) error {
	if rec.ExpiresIn > 0 {
		rec.ExpiresAt = s.now().UnixMilli() + rec.ExpiresIn
	} else {
		rec.ExpiresAt = 0
	}
	if err := s.store.Set(ctx, rec); err != nil {
		return err
	}

	s.sched.Cancel()
	lifetime := time.Duration(rec.ExpiresIn) * time.Millisecond
	if !s.cfg.DisableAutoRefresh && lifetime > 0 && lifetime < maxSchedulableLifetime {
		s.sched.Arm(lifetime-s.cfg.RefreshLead, s.scheduledRefresh)
	}
	return nil
}

// scheduledRefresh is the timer-driven proactive refresh. It has no caller
// to report to: a failure is logged and the session degrades to
// unauthenticated, which the next Token call observes as an empty token.
func (s *AuthSession) scheduledRefresh() {
	if _, err := s.Refresh(context.Background()); err != nil {
		log.Warnf("session: scheduled refresh failed: %v", err)
	}
}

func (s *AuthSession) send(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	return s.cfg.Transport.Send(ctx, transport.Request{
		Method:            http.MethodPost,
		URL:               endpoint,
		Body:              body,
		CredentialsPolicy: s.cfg.CredentialsPolicy,
	})
}

// recordFromPayload extracts the credential fields from a login or refresh
// response. Fields are read from the "data" envelope when present and from
// the top level otherwise; the lifetime is reported in milliseconds under
// "expires" (or "expires_in").
func recordFromPayload(payload []byte) CredentialRecord {
	doc := gjson.ParseBytes(payload)
	if data := doc.Get("data"); data.Exists() {
		doc = data
	}
	expires := doc.Get("expires")
	if !expires.Exists() {
		expires = doc.Get("expires_in")
	}
	return CredentialRecord{
		AccessToken:  doc.Get("access_token").String(),
		RefreshToken: doc.Get("refresh_token").String(),
		ExpiresIn:    expires.Int(),
	}
}
