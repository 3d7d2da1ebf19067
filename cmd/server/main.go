// Package main runs the sitepatrol backend: photo submission, GPS
// verification, fraud reporting, and the live change feed over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sitepatrol/backend/internal/config"
	"github.com/sitepatrol/backend/internal/db"
	"github.com/sitepatrol/backend/internal/feed"
	"github.com/sitepatrol/backend/internal/fraud"
	"github.com/sitepatrol/backend/internal/geocode"
	"github.com/sitepatrol/backend/internal/httpapi"
	"github.com/sitepatrol/backend/internal/logging"
	"github.com/sitepatrol/backend/internal/ratelimit"
	"github.com/sitepatrol/backend/internal/storage"
	"github.com/sitepatrol/backend/internal/submit"
)

func main() {
	logging.Init(os.Stdout, logrus.InfoLevel)
	cfg := config.Load()

	if len(cfg.JWTSecret) == 0 {
		logging.Error("AUTH_JWT_SECRET is required", nil, nil)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logging.Error("server exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Migrate(); err != nil {
		return err
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	photos, err := storage.NewDiskStore(cfg.PhotoDir, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	resolver := geocode.NewClient(cfg.GeocodeBaseURL, cfg.GeocodeUserAgent, cfg.GeocodeTimeout)
	changeFeed := feed.New(0)

	assembler := submit.NewAssembler(repo, photos, resolver, changeFeed, submit.Options{
		ProximityToleranceMeters: cfg.ProximityToleranceMeters,
		GeocodeTimeout:           cfg.GeocodeTimeout,
		PhotoFolder:              cfg.PhotoFolder,
	})

	engine := fraud.NewEngine(fraud.Policy{
		TimestampSkew:    cfg.TimestampSkew,
		InvalidRateAlert: cfg.InvalidRateAlert,
	})

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RateLimit > 0 {
		limiter = ratelimit.NewSlidingWindow(cfg.RateLimit, cfg.RateLimitWindow)
	}

	auth := httpapi.NewAuth(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	server := httpapi.NewServer(repo, assembler, engine, changeFeed, photos, limiter, auth, cfg.PhotoDir)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("server listening", map[string]interface{}{"addr": cfg.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logging.Info("shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}

		// Let in-flight address resolutions land before the process exits.
		assembler.WaitAddress()
		return nil
	})

	return g.Wait()
}
