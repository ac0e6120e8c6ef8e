// Package main provides the sessionctl command line tool. It wires a
// concrete client together from the YAML configuration (transport, storage
// backend, cross-context lock, optional realtime channel) and performs
// session operations against the configured auth server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/sessionkit/sessionkit/internal/config"
	"github.com/sessionkit/sessionkit/internal/kvstore"
	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/internal/transport"
	"github.com/sessionkit/sessionkit/sdk/realtime"
	"github.com/sessionkit/sessionkit/sdk/session"
	"github.com/sessionkit/sessionkit/sdk/session/lock"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		configPath string
		doLogin    bool
		doRefresh  bool
		doLogout   bool
		doToken    bool
		doWatch    bool
		email      string
		password   string
		otp        string
	)

	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.BoolVar(&doLogin, "login", false, "Log in with email and password")
	flag.BoolVar(&doRefresh, "refresh", false, "Refresh the stored credentials")
	flag.BoolVar(&doLogout, "logout", false, "Log out and clear stored credentials")
	flag.BoolVar(&doToken, "token", false, "Print the current access token")
	flag.BoolVar(&doWatch, "watch", false, "Keep the session alive, logging refreshes")
	flag.StringVar(&email, "email", "", "Account email for -login")
	flag.StringVar(&password, "password", "", "Account password for -login")
	flag.StringVar(&otp, "otp", "", "One-time password for -login")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Debugf("loaded environment overrides from .env")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err = logging.Configure(logging.Options{
		ToFile:    cfg.Logging.ToFile,
		Dir:       cfg.Logging.Dir,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		Debug:     cfg.Debug,
	}); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, cleanup, err := buildSession(ctx, cfg)
	if err != nil {
		log.Fatalf("build session: %v", err)
	}
	defer cleanup()

	switch {
	case doLogin:
		if email == "" || password == "" {
			log.Fatalf("-login requires -email and -password")
		}
		rec, errLogin := sess.Login(ctx, email, password, &session.LoginOptions{OTP: otp})
		if errLogin != nil {
			log.Fatalf("login failed: %v", errLogin)
		}
		log.Infof("logged in, token expires in %s", time.Duration(rec.ExpiresIn)*time.Millisecond)
	case doRefresh:
		rec, errRefresh := sess.Refresh(ctx)
		if errRefresh != nil {
			log.Fatalf("refresh failed: %v", errRefresh)
		}
		log.Infof("refreshed, token expires in %s", time.Duration(rec.ExpiresIn)*time.Millisecond)
	case doLogout:
		if errLogout := sess.Logout(ctx); errLogout != nil {
			log.Fatalf("logout failed: %v", errLogout)
		}
		log.Infof("logged out")
	case doToken:
		token, errToken := sess.Token(ctx)
		if errToken != nil {
			log.Fatalf("token retrieval failed: %v", errToken)
		}
		if token == "" {
			log.Fatalf("not authenticated")
		}
		fmt.Println(token)
	case doWatch:
		watch(ctx, sess)
	default:
		fmt.Printf("sessionctl Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		flag.Usage()
	}
}

// watch keeps the process alive so the proactive refresh timer maintains
// the session, logging the token state periodically.
func watch(ctx context.Context, sess *session.AuthSession) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infof("watch stopped")
			return
		case <-ticker.C:
			token, err := sess.Token(ctx)
			switch {
			case err != nil:
				log.Warnf("watch: token retrieval failed: %v", err)
			case token == "":
				log.Warnf("watch: session is unauthenticated")
			default:
				log.Debugf("watch: session healthy")
			}
		}
	}
}

// buildSession assembles the configured storage backend, lock strategy,
// transport, and optional realtime channel into an AuthSession.
func buildSession(ctx context.Context, cfg *config.Config) (*session.AuthSession, func(), error) {
	cleanup := func() {}

	var backend kvstore.Store
	switch cfg.Store.Backend {
	case "memory":
		backend = kvstore.NewMemoryStore()
	case "file":
		store, err := kvstore.NewFileStore(cfg.Store.File.Dir)
		if err != nil {
			return nil, cleanup, err
		}
		backend = store
	case "redis":
		store, err := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
		if err != nil {
			return nil, cleanup, err
		}
		backend = store
		cleanup = func() { _ = store.Close() }
	case "postgres":
		store, err := kvstore.NewPostgresStore(ctx, kvstore.PostgresConfig{
			DSN:    cfg.Store.Postgres.DSN,
			Schema: cfg.Store.Postgres.Schema,
			Table:  cfg.Store.Postgres.Table,
		})
		if err != nil {
			return nil, cleanup, err
		}
		backend = store
		cleanup = store.Close
	case "object":
		store, err := kvstore.NewObjectStore(ctx, kvstore.ObjectStoreConfig{
			Endpoint:  cfg.Store.Object.Endpoint,
			Bucket:    cfg.Store.Object.Bucket,
			AccessKey: cfg.Store.Object.AccessKey,
			SecretKey: cfg.Store.Object.SecretKey,
			Region:    cfg.Store.Object.Region,
			Prefix:    cfg.Store.Object.Prefix,
			UseSSL:    cfg.Store.Object.UseSSL,
			PathStyle: cfg.Store.Object.PathStyle,
		})
		if err != nil {
			return nil, cleanup, err
		}
		backend = store
	default:
		return nil, cleanup, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	sessionCfg := session.Config{
		BaseURL:            cfg.BaseURL,
		Mode:               session.Mode(cfg.Mode),
		RefreshLead:        cfg.RefreshLead(),
		DisableAutoRefresh: !cfg.AutoRefreshEnabled(),
		CredentialsPolicy:  cfg.CredentialsPolicy,
		Transport:          transport.NewHTTPTransport(transport.Options{ProxyURL: cfg.ProxyURL}),
		LockLease:          time.Duration(cfg.Lock.LeaseMs) * time.Millisecond,
	}

	// A process-local memory backend needs neither shared credential
	// storage nor a cross-process lock.
	if cfg.Store.Backend != "memory" {
		sessionCfg.Store = session.NewKVStore(backend, session.DefaultCredentialKey)
		sessionCfg.Locker = lock.New(backend, lock.LeaseOptions{
			PollInterval: time.Duration(cfg.Lock.PollIntervalMs) * time.Millisecond,
			MaxAttempts:  cfg.Lock.MaxAttempts,
		})
	}

	if cfg.RealtimeURL != "" {
		channel := realtime.NewWebSocketChannel(cfg.RealtimeURL)
		if err := channel.Connect(ctx); err != nil {
			return nil, cleanup, err
		}
		sessionCfg.Channel = channel
	}

	sess, err := session.New(sessionCfg)
	if err != nil {
		return nil, cleanup, err
	}
	return sess, cleanup, nil
}
