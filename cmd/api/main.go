package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/config"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/httpapi"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/invoice"
	"opsdesk.org/internal/notify"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/sharing"
	"opsdesk.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("missing database DSN: set OPSDESK_DATABASE_DSN or database.dsn")
	}
	if cfg.Auth.TokenSecret == "" {
		log.Fatal("missing token secret: set OPSDESK_AUTH_TOKEN_SECRET or auth.token_secret")
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	store.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	store.DB().SetMaxIdleConns(cfg.Database.MaxIdleConns)

	trail, err := audit.NewRecorder(store.AuditLog())
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}
	hub := notify.NewHub()
	events := notify.Fanout{hub, notify.LogEmitter{}}

	accounts, err := identity.NewService(store.Principals())
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	tokens, err := identity.NewAuthenticator(cfg.Auth.TokenSecret,
		identity.WithAccessTTL(cfg.Auth.AccessTTL()))
	if err != nil {
		log.Fatalf("token authenticator: %v", err)
	}
	credentials, err := credential.NewService(store.Credentials(), store.Grants(), trail, events)
	if err != nil {
		log.Fatalf("credential service: %v", err)
	}
	shares, err := sharing.NewManager(store.Grants(), credentials, trail, events)
	if err != nil {
		log.Fatalf("sharing manager: %v", err)
	}
	invoices, err := invoice.NewService(store.Invoices(), trail, events)
	if err != nil {
		log.Fatalf("invoice service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trail.Run(ctx)

	api := httpapi.New(httpapi.Deps{
		Identity:    accounts,
		Tokens:      tokens,
		Credentials: credentials,
		Shares:      shares,
		Invoices:    invoices,
		Trail:       trail,
		Ready:       store,
		Version:     version,
	})

	handler := httpapi.RateLimit(api.Handler(), cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	cancel()
	if n := trail.RetryPending(shutdownCtx); n > 0 {
		log.Printf("%d audit entries still pending at shutdown", n)
	}
	log.Println("Stopped")
}
