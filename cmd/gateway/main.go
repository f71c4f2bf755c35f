package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	api "github.com/evalboard/evalboard-server/internal/api/http"
	"github.com/evalboard/evalboard-server/internal/audit"
	auth "github.com/evalboard/evalboard-server/internal/auth/middleware"
	"github.com/evalboard/evalboard-server/internal/config"
	"github.com/evalboard/evalboard-server/internal/db"
	"github.com/evalboard/evalboard-server/internal/evaluation"
	"github.com/evalboard/evalboard-server/internal/notify"
	"github.com/evalboard/evalboard-server/internal/rbac"
	"github.com/evalboard/evalboard-server/internal/roster"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}

	store := evaluation.NewSQLStore(dbh)
	dir := roster.NewSQLDirectory(dbh)
	events := audit.NewEventRepo(dbh)

	// --- Notification sink ---
	var notifier evaluation.Notifier
	switch cfg.NotifyDriver {
	case "kafka":
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kn.Close() }()
		notifier = kn
	default:
		notifier = notify.NewLogNotifier(logger)
	}

	svc := evaluation.NewService(store, dir,
		evaluation.WithNotifier(notifier),
		evaluation.WithEventSink(events),
		evaluation.WithLogger(logger),
		evaluation.WithReviewRecipients(cfg.ReviewNotify),
	)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.AdminUser, cfg.AdminPassHash)
	validate := validator.New()

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc))

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.Require("evaluation:submit")).
			Post("/boards/{boardID}/teams/{teamID}/phases/{phase}/evaluations",
				api.SubmitEvaluationHandler(svc, validate))
		pr.With(rbac.Require("session:view")).
			Get("/boards/{boardID}/teams/{teamID}/phases/{phase}/evaluations",
				api.GetSessionHandler(svc))

		pr.With(rbac.Require("evaluation:review")).
			Get("/evaluations/pending", api.ListPendingHandler(svc))
		pr.With(rbac.Require("evaluation:review")).
			Post("/evaluations/{sessionID}/review", api.ReviewSessionHandler(svc, validate))
		pr.With(rbac.Require("evaluation:review")).
			Get("/evaluations/status-counts", api.StatusCountsHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	logger.Info("listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("db", cfg.DBDriver),
		zap.String("notify", cfg.NotifyDriver),
	)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
