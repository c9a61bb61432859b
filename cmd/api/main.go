package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-voucher/internal/auth"
	"github.com/noah-isme/backend-voucher/internal/common"
	"github.com/noah-isme/backend-voucher/internal/config"
	"github.com/noah-isme/backend-voucher/internal/discount"
	"github.com/noah-isme/backend-voucher/internal/health"
	"github.com/noah-isme/backend-voucher/internal/lock"
	"github.com/noah-isme/backend-voucher/internal/obs"
	"github.com/noah-isme/backend-voucher/internal/ratelimit"
	"github.com/noah-isme/backend-voucher/internal/resilience"
	"github.com/noah-isme/backend-voucher/internal/stats"
	"github.com/noah-isme/backend-voucher/internal/voucher"
	"github.com/noah-isme/backend-voucher/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics("voucher", nil)

	tracingEnabled := cfg.OTLPEndpoint != "" || cfg.TraceExporter == "none"
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "voucher-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TraceExporter,
			SamplingRatio: cfg.TraceSampleRate,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cfg.MigrateOnStart {
		m, err := migrate.New("file://migrations", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise migrations")
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "voucher-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	publicKey, err := cfg.PublicKeyPEM()
	if err != nil {
		logger.Fatal().Err(err).Msg("load jwt public key")
	}
	verifier, err := auth.NewVerifier(publicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	validate := validator.New()

	discountStore := discount.NewStore(pool)
	if err := discountStore.EnsureDefault(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap discount")
	}
	discountSvc := discount.NewService(discountStore, logger)
	discountHandler := &discount.Handler{Svc: discountSvc, Validate: validate}

	walletBreaker := resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget("wallet").
		WithLogger(logger)
	walletClient := wallet.NewClient(cfg.WalletServiceURL, cfg.WalletTimeout, walletBreaker, logger)

	locker := lock.Locker{R: redisClient}
	voucherStore := voucher.NewStore(pool)
	voucherSvc := voucher.NewService(voucherStore, discountSvc, walletClient, locker, logger)
	voucherHandler := &voucher.Handler{Svc: voucherSvc, Validate: validate}

	statsSvc := &stats.Service{Q: voucherStore, R: redisClient, TTL: cfg.StatsCacheTTL}
	statsHandler := &stats.Handler{Svc: statsSvc}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	issueLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:issue:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByIdentity,
			Window: cfg.IssueRateWindow,
			Max:    cfg.IssueRateMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	httpMetrics := obs.NewHTTPMetrics("voucher", nil, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.NewHandler(pool, redisClient, 500*time.Millisecond)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Use(authMiddleware.RequireAuth)

		api.Route("/vouchers", func(v chi.Router) {
			v.With(idem.Middleware, issueLimit.Middleware).Post("/", voucherHandler.Issue)
			v.Put("/buy/{pin}", voucherHandler.Redeem)
			v.Get("/pin/{pin}", voucherHandler.GetByPin)
			// The regex keeps the id route from colliding with the
			// page/perPage wildcards in chi's trie.
			v.Get("/{voucherID:[0-9]+}", voucherHandler.Get)
			v.Get("/{page}/{perPage}", voucherHandler.List)
		})

		api.Get("/me", voucherHandler.Mine)

		api.Route("/discount", func(d chi.Router) {
			d.Get("/", discountHandler.Get)
			d.With(authMiddleware.RequireAdmin).Put("/", discountHandler.Update)
		})

		api.Route("/stat", func(st chi.Router) {
			st.Get("/sumquery", statsHandler.Total)
			st.Get("/datequery", statsHandler.ByDay)
			st.Get("/monthquery", statsHandler.ByMonth)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
