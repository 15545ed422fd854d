package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/olehkaliuzhnyi/certwallet/internal/config"
	"github.com/olehkaliuzhnyi/certwallet/internal/feed"
	"github.com/olehkaliuzhnyi/certwallet/internal/metrics"
	"github.com/olehkaliuzhnyi/certwallet/internal/service"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage/postgres"
	httptransport "github.com/olehkaliuzhnyi/certwallet/internal/transport/http"
)

// main wires storage, the wallet service, the HTTP transport and the
// registry feed, and runs them until interrupted.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.FromEnv(), logger); err != nil {
		logger.Error("walletd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.JWTSigningKey == "" {
		return errors.New("WALLET_JWT_SIGNING_KEY is required")
	}

	tx, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := service.New(tx, cfg.PublicEndpointURL,
		service.WithMetrics(m),
		service.WithDepositVersion(cfg.DepositEndpointVersion),
	)
	router := httptransport.NewRouter(svc,
		httptransport.NewJWTValidator(cfg.JWTSigningKey, cfg.JWTIssuer),
		prometheus.DefaultGatherer,
		logger.With("component", "http"),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting walletd", "addr", cfg.HTTPAddr, "public_url", cfg.PublicEndpointURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.FeedEnabled() {
		source, err := feed.NewKafkaSource(cfg.FeedBrokers, cfg.FeedTopic, cfg.FeedGroup)
		if err != nil {
			return err
		}
		defer source.Close()
		ingester := feed.NewIngester(source, tx, cfg.FeedPollInterval, feed.WithMetrics(m))
		g.Go(func() error {
			return ingester.Run(ctx)
		})
	} else {
		logger.Info("registry feed disabled")
	}

	return g.Wait()
}

// openStore selects PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Tx, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory storage")
		return storage.NewMemoryStore(), func() {}, nil
	}
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.WithTxTimeout(cfg.TxTimeout))
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}
