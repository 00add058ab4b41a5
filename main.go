package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greenthread/internal/alerts"
	"greenthread/internal/audit"
	"greenthread/internal/auth"
	"greenthread/internal/explain"
	"greenthread/internal/explain/gemini"
	"greenthread/internal/identity"
	"greenthread/internal/observability/metrics"
	"greenthread/internal/sensors/application"
	sensors "greenthread/internal/sensors/domain"
	sensorpostgres "greenthread/internal/sensors/infrastructure/postgres"
	sensorsqlite "greenthread/internal/sensors/infrastructure/sqlite"
	sensorhttp "greenthread/internal/sensors/interfaces/http"
	"greenthread/internal/sensors/interfaces/webhook"
	"greenthread/internal/storage/sqlite"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	registry := sensors.DefaultRegistry()
	if cfg.SensorConfigPath != "" {
		loaded, err := sensors.LoadRegistry(cfg.SensorConfigPath)
		if err != nil {
			logger.Fatalf("sensor config error: %v", err)
		}
		registry = loaded
	}

	store, err := openStorage(cfg)
	if err != nil {
		logger.Fatalf("storage error: %v", err)
	}
	defer store.close()

	metrics.Init(store.db, logger)

	ledger, err := audit.NewLedger(store.ledger, logger)
	if err != nil {
		logger.Fatalf("audit ledger error: %v", err)
	}
	recorder, err := audit.NewSensorRecorder(ledger, registry)
	if err != nil {
		logger.Fatalf("audit recorder error: %v", err)
	}

	currentService, err := application.NewCurrentReadingsService(registry, store.query, logger)
	if err != nil {
		logger.Fatalf("current readings service error: %v", err)
	}
	historyService, err := application.NewHistoryService(registry, store.query, application.SystemClock{})
	if err != nil {
		logger.Fatalf("history service error: %v", err)
	}
	sensorHistoryService, err := application.NewSensorHistoryService(registry, store.query)
	if err != nil {
		logger.Fatalf("sensor history service error: %v", err)
	}
	ingestOpts := []application.IngestOption{application.WithAuditor(recorder)}
	if cfg.AlertWebhookURL != "" {
		notifier, err := buildAlertNotifier(cfg, registry, logger)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		ingestOpts = append(ingestOpts, application.WithNotifier(notifier))
	}
	ingestService, err := application.NewIngestService(registry, store.readings, logger, ingestOpts...)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}
	ingestHandler, err := webhook.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	authClient, err := identity.NewClient(cfg.AuthURL, cfg.AuthAnonKey)
	if err != nil {
		logger.Fatalf("auth client error: %v", err)
	}
	identityService, err := identity.NewService(authClient, store.profiles, logger,
		identity.WithActionRecorder(ledger),
	)
	if err != nil {
		logger.Fatalf("identity service error: %v", err)
	}
	identityHandler, err := identity.NewHandler(identityService, logger, cfg.CookieSecure)
	if err != nil {
		logger.Fatalf("identity handler error: %v", err)
	}

	var backend explain.Backend = unconfiguredBackend{}
	if cfg.GeminiAPIKey != "" {
		backend, err = gemini.NewClient(context.Background(), cfg.GeminiAPIKey,
			gemini.WithBaseURL(cfg.GeminiBaseURL),
			gemini.WithModel(cfg.GeminiModel),
			gemini.WithTimeout(cfg.AITimeout),
		)
		if err != nil {
			logger.Fatalf("gemini client error: %v", err)
		}
	} else {
		logger.Printf("GEMINI_API_KEY not set: /ai/explain will report an error")
	}
	explainService, err := explain.NewService(registry, currentService, store.query, backend, logger,
		explain.WithRatePerMinute(cfg.AIRatePerMinute),
	)
	if err != nil {
		logger.Fatalf("explain service error: %v", err)
	}
	explainHandler, err := explain.NewHandler(explainService, logger)
	if err != nil {
		logger.Fatalf("explain handler error: %v", err)
	}

	if cfg.WebhookSecret == "" {
		logger.Printf("WEBHOOK_SECRET not set: /data/webhooks will reject every request")
	}
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	webhookAuth := auth.NewWebhookSecretMiddleware(cfg.WebhookSecret)

	mux := http.NewServeMux()
	mux.Handle("/data/current", sensorhttp.NewCurrentHandler(currentService, logger))
	mux.Handle("/data/history", sensorhttp.NewHistoryHandler(historyService, logger))
	mux.Handle("/data/sensor-history", sensorhttp.NewSensorHistoryHandler(sensorHistoryService, logger))
	mux.Handle("/data/sensor-history/export", sensorhttp.NewExportHandler(sensorHistoryService, recorder, logger))
	mux.Handle("/data/webhooks", webhookAuth.Wrap(ingestHandler))
	mux.Handle("/ai/explain", explainHandler)
	mux.Handle("/audit/transactions", audit.NewTransactionsHandler(ledger, logger))
	mux.Handle("/audit/verify", audit.NewVerifyHandler(ledger, logger))
	identityHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Printf("http listening on %s (storage=%s)", cfg.HTTPAddr, cfg.StorageDriver)
	logger.Fatal(server.ListenAndServe())
}

// storage bundles the backends selected by STORAGE_DRIVER.
type storage struct {
	db       *sql.DB
	readings sensors.ReadingRepository
	query    sensors.ReadingQuery
	ledger   audit.Store
	profiles identity.ProfileRepository
}

func (s storage) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func openStorage(cfg config) (storage, error) {
	if cfg.StorageDriver == "sqlite" {
		gormDB, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return storage{}, err
		}
		db, err := gormDB.DB()
		if err != nil {
			return storage{}, err
		}
		readings, err := sensorsqlite.NewStore(gormDB)
		if err != nil {
			return storage{}, err
		}
		ledger, err := audit.NewSQLiteStore(gormDB)
		if err != nil {
			return storage{}, err
		}
		profiles, err := identity.NewSQLiteProfiles(gormDB)
		if err != nil {
			return storage{}, err
		}
		return storage{db: db, readings: readings, query: readings, ledger: ledger, profiles: profiles}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return storage{}, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return storage{}, err
	}
	return storage{
		db:       db,
		readings: sensorpostgres.NewReadingRepository(db),
		query:    sensorpostgres.NewReadingQuery(db),
		ledger:   audit.NewRepository(db),
		profiles: identity.NewPostgresProfiles(db),
	}, nil
}

func buildAlertNotifier(cfg config, registry *sensors.Registry, logger *log.Logger) (*alerts.Notifier, error) {
	channel, err := alerts.NewWebhookChannel(cfg.AlertWebhookURL)
	if err != nil {
		return nil, err
	}
	tpl, err := alerts.NewTemplate(cfg.AlertTemplate)
	if err != nil {
		return nil, err
	}
	return alerts.NewNotifier(registry, channel, tpl, logger,
		alerts.WithCooldown(cfg.AlertCooldown),
		alerts.WithRequestTimeout(cfg.AlertTimeout),
		alerts.WithDashboardURL(strings.TrimRight(cfg.AppBaseURL, "/")+"/dashboard"),
	)
}

type unconfiguredBackend struct{}

func (unconfiguredBackend) StreamText(context.Context, explain.Request) (explain.TokenStream, error) {
	return nil, &explain.BackendError{Status: http.StatusServiceUnavailable, Message: "AI backend is not configured"}
}

type config struct {
	StorageDriver    string
	DatabaseURL      string
	SQLitePath       string
	HTTPAddr         string
	AppBaseURL       string
	WebhookSecret    string
	AuthURL          string
	AuthAnonKey      string
	JWTSecret        string
	CookieSecure     bool
	GeminiAPIKey     string
	GeminiModel      string
	GeminiBaseURL    string
	AIRatePerMinute  int
	AITimeout        time.Duration
	SensorConfigPath string
	AlertWebhookURL  string
	AlertTemplate    string
	AlertCooldown    time.Duration
	AlertTimeout     time.Duration
}

func loadConfig() config {
	cfg := config{
		StorageDriver:    strings.ToLower(getenvDefault("STORAGE_DRIVER", "postgres")),
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SQLitePath:       getenvDefault("SQLITE_PATH", "greenthread.db"),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		AppBaseURL:       getenvDefault("APP_BASE_URL", "http://localhost:8080"),
		WebhookSecret:    getenvDefault("WEBHOOK_SECRET", ""),
		AuthURL:          getenvDefault("AUTH_URL", ""),
		AuthAnonKey:      getenvDefault("AUTH_ANON_KEY", ""),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		CookieSecure:     getenvBoolDefault("AUTH_COOKIE_SECURE", true),
		GeminiAPIKey:     getenvDefault("GEMINI_API_KEY", ""),
		GeminiModel:      getenvDefault("GEMINI_MODEL", gemini.DefaultModel),
		GeminiBaseURL:    getenvDefault("GEMINI_BASE_URL", gemini.DefaultBaseURL),
		AIRatePerMinute:  getenvIntDefault("AI_RATE_PER_MINUTE", explain.DefaultRatePerMinute),
		AITimeout:        getenvDuration("AI_TIMEOUT", gemini.DefaultTimeout),
		SensorConfigPath: getenvDefault("SENSOR_CONFIG_PATH", ""),
		AlertWebhookURL:  getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertTemplate:    getenvDefault("ALERT_TEMPLATE", ""),
		AlertCooldown:    getenvDuration("ALERT_COOLDOWN", 15*time.Minute),
		AlertTimeout:     getenvDuration("ALERT_TIMEOUT", 5*time.Second),
	}
	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL or PG_DSN is required")
		}
	case "sqlite":
	default:
		log.Fatalf("STORAGE_DRIVER must be postgres or sqlite, got %q", cfg.StorageDriver)
	}
	if cfg.AuthURL == "" || cfg.AuthAnonKey == "" {
		log.Fatal("AUTH_URL and AUTH_ANON_KEY are required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps streamed responses working behind the logger.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
