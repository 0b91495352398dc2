package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/omnibridge/dispatch/internal/config"
	"github.com/omnibridge/dispatch/internal/notification"
	"github.com/omnibridge/dispatch/pkg/database"
	"github.com/omnibridge/dispatch/pkg/jsonutil"
	"github.com/omnibridge/dispatch/pkg/messaging"
	"github.com/omnibridge/dispatch/pkg/observability"
	"github.com/omnibridge/dispatch/pkg/secrets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher: scheduler, event consumer and ops API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger("dispatcher")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: "dispatcher",
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
	})
	if err != nil {
		logger.Warn("tracer init failed, continuing without tracing", "error", err)
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer shutdownTracer(context.Background())

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.MigrateUp(db, cfg.MigrationsDir); err != nil {
		return err
	}

	store := notification.NewPostgresStore(db)

	var tenants notification.TenantRegistry
	if len(cfg.Tenants) > 0 {
		tenants = notification.NewStaticTenantRegistry(cfg.Tenants)
	} else {
		tenants = notification.NewPostgresTenantRegistry(db)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, in-flight dedup disabled", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		}
	}

	resolver := secrets.NewResolver(ctx, logger.Logger)
	resendKey := resolver.Lookup(ctx, cfg.ResendAPIKeySecret, "RESEND_API_KEY")
	webhookSecret := resolver.Lookup(ctx, cfg.WebhookSecretName, "WEBHOOK_SIGNING_SECRET")

	senders := notification.NewSenderRegistry()
	senders.Register(notification.NewEmailSender(resendKey, cfg.FromEmail, logger))
	senders.Register(notification.NewWebhookSender(webhookSecret, logger))
	senders.Register(notification.NewSMSSender(logger))
	senders.Register(notification.NewPushSender(logger))
	senders.Register(notification.NewInAppSender(logger))
	senders.Register(notification.NewDashboardSender(logger))

	dispatcher := notification.NewDispatcher(store, senders, redisClient, logger)
	creator := notification.NewCreator(store, logger)
	queries := notification.NewQueries(store, logger)

	scheduler := notification.NewScheduler(dispatcher, tenants, notification.SchedulerConfig{
		NormalInterval: cfg.NormalInterval,
		UrgentInterval: cfg.UrgentInterval,
		BatchLimit:     cfg.BatchLimit,
	}, logger)
	scheduler.Start()
	defer scheduler.Stop()

	rabbit, err := messaging.NewClient(messaging.Config{URL: cfg.RabbitURL}, logger.Logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, event ingestion disabled", "error", err)
	} else {
		defer rabbit.Close()
		if _, err := rabbit.DeclareQueueWithDLQ(cfg.EventsQueue); err != nil {
			return err
		}
		ingestor := notification.NewIngestor(creator, logger)
		go func() {
			if err := rabbit.Consume(ctx, cfg.EventsQueue, ingestor.HandleMessage); err != nil {
				logger.Error("event consumer stopped", "error", err)
			}
		}()
	}

	ops := &opsServer{
		dispatcher: dispatcher,
		queries:    queries,
		batchLimit: cfg.BatchLimit,
		healthy: func() bool {
			return db.Ping() == nil && (rabbit == nil || rabbit.IsHealthy())
		},
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(ops.routes(), "ops"),
	}

	go func() {
		logger.Info("ops server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "error", err)
		}
	}()

	logger.Info("dispatcher started",
		"normal_interval", cfg.NormalInterval.String(),
		"urgent_interval", cfg.UrgentInterval.String(),
		"batch_limit", cfg.BatchLimit)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "error", err)
	}
	return nil
}

// opsServer exposes health, metrics and operational endpoints over the
// store and dispatcher.
type opsServer struct {
	dispatcher *notification.Dispatcher
	queries    *notification.Queries
	batchLimit int
	healthy    func() bool
}

func (s *opsServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/tenants/{tenantID}/process", s.handleProcess).Methods("POST")
	r.HandleFunc("/tenants/{tenantID}/notifications", s.handleList).Methods("GET")
	r.HandleFunc("/tenants/{tenantID}/notifications/{id}", s.handleGet).Methods("GET")
	r.HandleFunc("/tenants/{tenantID}/notifications/{id}", s.handleDelete).Methods("DELETE")
	r.HandleFunc("/tenants/{tenantID}/notifications/{id}/read", s.handleMarkRead).Methods("POST")
	r.HandleFunc("/tenants/{tenantID}/notifications/read", s.handleMarkManyRead).Methods("POST")
	r.HandleFunc("/tenants/{tenantID}/stats", s.handleStats).Methods("GET")
	return r
}

func (s *opsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.healthy() {
		jsonutil.WriteErrorJSON(w, http.StatusServiceUnavailable, "degraded")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *opsServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantID"]
	urgentOnly := r.URL.Query().Get("urgent") == "true"

	limit := s.batchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	summary, err := s.dispatcher.ProcessTenant(r.Context(), tenantID, limit, urgentOnly)
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, summary)
}

func (s *opsServer) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantID"]
	q := r.URL.Query()

	f := notification.Filter{
		Status:     notification.Status(q.Get("status")),
		Type:       q.Get("type"),
		TypePrefix: q.Get("type_prefix"),
		UserID:     q.Get("user_id"),
	}
	if sev := q.Get("severity"); sev != "" {
		sv, err := notification.SeverityFromString(sev)
		if err != nil {
			jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Severity = sv
	}

	limit, offset := 50, 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	list, err := s.queries.List(r.Context(), tenantID, f, limit, offset)
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
	})
}

func (s *opsServer) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := s.queries.Get(r.Context(), vars["tenantID"], vars["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, n)
}

func (s *opsServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.queries.Delete(r.Context(), vars["tenantID"], vars["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *opsServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.queries.MarkRead(r.Context(), vars["tenantID"], vars["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"id": vars["id"], "status": "read"})
}

func (s *opsServer) handleMarkManyRead(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantID"]

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "ids required")
		return
	}

	updated, err := s.queries.MarkManyRead(r.Context(), tenantID, req.IDs)
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *opsServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Stats(r.Context(), mux.Vars(r)["tenantID"])
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, stats)
}

func (s *opsServer) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, notification.ErrNotFound) {
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, "notification not found")
		return
	}
	jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, err.Error())
}
