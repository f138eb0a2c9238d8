package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "kycflow/internal/jwt_token"
	"kycflow/internal/kyc/analyzer"
	"kycflow/internal/kyc/handler"
	kycmetrics "kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/policy"
	"kycflow/internal/kyc/provider"
	"kycflow/internal/kyc/service"
	"kycflow/internal/kyc/store"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/logger"
	"kycflow/internal/platform/metrics"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/platform/redis"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/audit/publishers/compliance"
	kafkastore "kycflow/pkg/platform/audit/store/kafka"
	auditmemory "kycflow/pkg/platform/audit/store/memory"
	"kycflow/pkg/platform/circuit"
	"kycflow/pkg/platform/httputil"
	"kycflow/pkg/platform/middleware/auth"
	"kycflow/pkg/platform/middleware/metadata"
	"kycflow/pkg/platform/middleware/request"
	"kycflow/pkg/platform/middleware/requesttime"
	"kycflow/pkg/platform/privacy"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies and owns the process lifecycle. Business logic
// lives in internal/kyc.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kycflow exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	kycPolicy, err := loadPolicy(cfg)
	if err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sessions, closeStore, err := buildStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	auditStore, closeAudit, err := buildAuditStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(registry)

	svc := service.New(sessions, buildProvider(cfg, log),
		service.WithLogger(log),
		service.WithPolicy(kycPolicy),
		service.WithMetrics(kycmetrics.New(registry)),
		service.WithAuditPublisher(compliance.New(auditStore, compliance.WithLogger(log))),
		service.WithHasher(privacy.NewHasher([]byte(cfg.KYC.AuditHashKey))),
		service.WithDemoApproval(cfg.KYC.DemoEnabled, cfg.Server.IsProduction()),
	)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Health(r.Context()); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwttoken.NewMiddlewareValidator(jwtService), log))
		handler.New(svc, log).Register(r)
	})

	writeTimeout := max(kycPolicy.DocumentTimeout, kycPolicy.BiometricTimeout) + 15*time.Second
	srv := httpserver.New(cfg.Server.Addr, r, writeTimeout)

	var locker service.Locker = service.NewLocalLocker()
	if redisClient != nil {
		locker = service.NewRedisLocker(redisClient.Client)
	}
	sweeper := service.NewSweeper(svc, locker, cfg.KYC.SweepInterval, kycPolicy.SessionTTL, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting kycflow",
			"addr", cfg.Server.Addr,
			"env", cfg.Server.Environment,
			"store", cfg.Store,
			"provider", cfg.Provider.Kind,
			"demo_approval", svc.DemoApprovalEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		// Let detached analyses record their results before stores close.
		svc.Wait()
		return nil
	})
	return g.Wait()
}

// loadPolicy reads the policy file when one is configured. Without one the
// defaults are tuned by the KYC_* environment knobs.
func loadPolicy(cfg config.Config) (policy.Policy, error) {
	if cfg.KYC.PolicyFile != "" {
		p, err := policy.LoadFile(cfg.KYC.PolicyFile)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("load policy: %w", err)
		}
		return p, nil
	}
	p := policy.Default()
	p.DocumentTimeout = cfg.KYC.DocumentTimeout
	p.BiometricTimeout = cfg.KYC.BiometricTimeout
	p.MaxAttempts = cfg.KYC.MaxAttempts
	p.SessionTTL = cfg.KYC.SessionTTL
	if err := p.Validate(); err != nil {
		return policy.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func buildStore(ctx context.Context, cfg config.Config, redisClient *redis.Client) (service.SessionStore, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		return store.NewRedis(redisClient.Client), func() {}, nil
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate sessions: %w", err)
		}
		return pg, func() { db.Close() }, nil
	default:
		return store.NewInMemory(), func() {}, nil
	}
}

func buildProvider(cfg config.Config, log *slog.Logger) service.Provider {
	if cfg.Provider.Kind == config.ProviderRemote {
		breaker := circuit.New("kyc-provider", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))
		return provider.NewRemote(cfg.Provider.BaseURL, cfg.Provider.APIKey,
			provider.WithPollInterval(cfg.Provider.PollInterval),
			provider.WithArtifactRoot(cfg.Provider.ImageRoot),
			provider.WithBreaker(breaker),
			provider.WithLogger(log),
		)
	}

	opts := []analyzer.Option{analyzer.WithImageRoot(cfg.Provider.ImageRoot)}
	if !cfg.Server.IsProduction() {
		opts = append(opts, analyzer.WithFixtures(analyzer.DemoFixtures()))
	}
	ref := analyzer.NewReference(opts...)
	return provider.NewLocal(ref, ref)
}

// buildAuditStore produces to Kafka when brokers are configured and keeps
// events in memory otherwise.
func buildAuditStore(ctx context.Context, cfg config.Config, log *slog.Logger) (audit.Store, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, audit events are kept in memory only")
		return auditmemory.NewInMemoryStore(0), func() {}, nil
	}
	client, err := kafkastore.NewClient(cfg.Kafka.Brokers, "kycflow")
	if err != nil {
		return nil, nil, err
	}
	if err := kafkastore.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic, 3, 1); err != nil {
		client.Close()
		return nil, nil, err
	}
	return kafkastore.New(client, cfg.Kafka.AuditTopic), client.Close, nil
}
