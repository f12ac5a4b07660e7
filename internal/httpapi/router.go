package httpapi

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the trigger/status API routes.
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoverMiddleware)

	// Health endpoints
	router.HandleFunc("/api/health", h.CheckHealth).Methods("GET")
	router.HandleFunc("/api/health/db", h.CheckStorageHealth).Methods("GET")

	// Sync triggers
	router.HandleFunc("/api/sync", h.RunFullSync).Methods("POST")
	router.HandleFunc("/api/sync/push", h.PushLocal).Methods("POST")
	router.HandleFunc("/api/sync/pull", h.PullRemote).Methods("POST")
	router.HandleFunc("/api/sync/retry-failed", h.RetryFailed).Methods("POST")
	router.HandleFunc("/api/sync/status", h.SyncStatus).Methods("GET")

	// Conflicts
	router.HandleFunc("/api/conflicts", h.ListConflicts).Methods("GET")
	router.HandleFunc("/api/conflicts/{recordId}/resolve", h.ResolveConflict).Methods("POST")

	// Archive import (background, cancellable)
	router.HandleFunc("/api/archive/import", h.StartImport).Methods("POST")
	router.HandleFunc("/api/archive/import", h.CancelImport).Methods("DELETE")
	router.HandleFunc("/api/archive/import/progress", h.ImportProgress).Methods("GET")

	// Recovery (background, cancellable)
	router.HandleFunc("/api/recovery", h.StartRecovery).Methods("POST")
	router.HandleFunc("/api/recovery", h.CancelRecovery).Methods("DELETE")
	router.HandleFunc("/api/recovery/status", h.RecoveryStatus).Methods("GET")

	// Agenda window
	router.HandleFunc("/api/agenda", h.GetAgenda).Methods("GET")
	router.HandleFunc("/api/agenda/{direction}", h.ScrollAgenda).Methods("POST")

	// Collections & telemetry
	router.HandleFunc("/api/collections", h.ListCollections).Methods("GET")
	router.HandleFunc("/api/collections/{collectionId}", h.SetCollectionEnabled).Methods("PATCH")
	router.HandleFunc("/api/telemetry", h.ListTelemetry).Methods("GET")

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
