// Command authcore-server exposes the authentication engine over HTTP.
//
// Configuration comes from the environment (and a .env file when
// present). DATABASE_URL selects the postgres user store; without it
// users are kept in memory. REDIS_ADDR selects the shared security store;
// without it an embedded miniredis is started, which is only suitable
// for a single instance.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/postgres"
	"github.com/alicebob/miniredis/v2"
	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -------- USER STORE --------
	var users authcore.UserStore
	var ready func(context.Context) error
	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
				return err
			}
		}
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		users, ready = pg, pg.Ping
		logger.Info("using postgres user store")
	} else {
		users = memory.New()
		logger.Warn("using in-memory user store")
	}

	// -------- SHARED STORE --------
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return err
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		logger.Warn("using embedded redis; security state is not shared")
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = rdb.Close() }()

	// -------- ENGINE --------
	sinks := authcore.MultiSink{}
	if cfg.AuditStdout {
		sinks = append(sinks, authcore.NewJSONWriterSink(os.Stdout))
	}
	if cfg.SentryDSN != "" {
		sinks = append(sinks, authcore.NewSentrySink(nil))
	}

	builder := authcore.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithUserStore(users).
		WithNotifier(logNotifier{logger: logger.Named("notifier")}).
		WithLogger(logger.Named("auth"))
	if len(sinks) > 0 {
		builder = builder.WithAuditSink(sinks)
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	// -------- ROUTES --------
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", prometheus.NewExporter(engine).Handler()).Methods(http.MethodGet)

	a := &api{engine: engine, logger: logger.Named("http")}
	a.routes(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
