// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package supervisor runs the L08 Supervision Core: the online policy
// decision point that evaluates agent requests, enforces constraints,
// watches for behavioral anomalies, and hands anything uncertain to a
// human through EscalationOrchestrator, behind one HTTP surface.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"guardrail/platform/internal/supervision/adapters/counterstore"
	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/notifier"
	"guardrail/platform/internal/supervision/adapters/signing"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/errcode"
	"guardrail/platform/internal/supervision/obslog"
	"guardrail/platform/internal/supervision/service"
	"guardrail/platform/shared/logger"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// buildAdapters constructs the DataStore/CounterStore/SigningAdapter/
// NotifierAdapter implementations. The DataStore and CounterStore use
// their in-process fallback when cfg.DevMode is set or the
// corresponding external dependency isn't configured; the signer and
// notifier are always the dev-mode DevSigner and DevNotifier.
func buildAdapters(ctx context.Context, cfg *config.Config, svcLog *logger.Logger) (datastore.Store, counterstore.Store, signing.Signer, notifier.Notifier, error) {
	var store datastore.Store
	if cfg.DevMode || getEnv("DATABASE_URL", "") == "" {
		store = datastore.NewMemStore()
	} else {
		pg, err := datastore.NewPostgresStore(os.Getenv("DATABASE_URL"))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		store = pg
	}

	var counter counterstore.Store
	if cfg.DevMode || cfg.RedisURL == "" {
		counter = counterstore.NewMemStore()
	} else {
		redisStore, err := counterstore.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisScriptTimeoutMS)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		counter = redisStore
	}

	signer, err := signing.NewDevSigner()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	webhookSecret := getEnv("L08_WEBHOOK_SECRET", "dev-webhook-secret")
	notif := notifier.NewDevNotifier(webhookSecret, svcLog)

	return store, counter, signer, notif, nil
}

// Run is the exported entry point for the supervisor service.
func Run() {
	port := getEnv("PORT", "8083")
	cfg := config.Load()
	if path := os.Getenv("L08_CONFIG_FILE"); path != "" {
		if err := cfg.LoadYAML(path); err != nil {
			log.Fatalf("supervisor: loading L08_CONFIG_FILE: %v", err)
		}
	}

	svcLog := obslog.New("service")

	bg := context.Background()
	store, counter, signer, notif, err := buildAdapters(bg, cfg, svcLog)
	if err != nil {
		log.Fatalf("supervisor: building adapters: %v", err)
	}

	svc, err := service.New(bg, service.Deps{
		Store:         store,
		Counter:       counter,
		Signer:        signer,
		Notifier:      notif,
		Config:        cfg,
		MetricsPrefix: cfg.MetricsPrefix,
		Log:           svcLog,
		SessionSecret: []byte(getEnv("L08_SESSION_SECRET", "dev-session-secret")),
	})
	if err != nil {
		log.Fatalf("supervisor: constructing service: %v", err)
	}

	router := newRouter(svc)
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("supervisor: L08 Supervision Core listening on :%s (dev_mode=%v)", port, cfg.DevMode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("supervisor: server error: %v", err)
	}
}

func newRouter(svc *service.SupervisionService) *mux.Router {
	r := mux.NewRouter()
	h := &handlers{svc: svc}

	r.HandleFunc("/health", h.health).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/v1/evaluate", h.evaluate).Methods("POST")
	r.HandleFunc("/v1/constraints/check", h.checkConstraint).Methods("POST")
	r.HandleFunc("/v1/metrics", h.recordMetric).Methods("POST")
	r.HandleFunc("/v1/metrics/baseline", h.setBaseline).Methods("POST")
	r.HandleFunc("/v1/escalations", h.createEscalation).Methods("POST")
	r.HandleFunc("/v1/escalations/{id}/resolve", h.resolveEscalation).Methods("POST")
	r.HandleFunc("/v1/audit", h.queryAudit).Methods("GET")
	r.HandleFunc("/v1/audit/verify", h.verifyAudit).Methods("GET")
	r.HandleFunc("/v1/compliance/{entityID}", h.compliance).Methods("GET")
	r.HandleFunc("/v1/compliance", h.compliance).Methods("GET")
	r.HandleFunc("/v1/stats", h.stats).Methods("GET")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the service's error envelope: every expected
// failure carries its E8xxx code; anything else is reported as an
// internal error.
func writeError(w http.ResponseWriter, status int, err error) {
	var e *errcode.Error
	if errors.As(err, &e) {
		payload := map[string]any{"code": string(e.Code), "message": e.Message}
		if len(e.Details) > 0 {
			payload["details"] = e.Details
		}
		writeJSON(w, status, map[string]any{"error": payload})
		return
	}
	writeJSON(w, status, map[string]any{"error": map[string]any{
		"code":    string(errcode.InternalError),
		"message": err.Error(),
	}})
}
