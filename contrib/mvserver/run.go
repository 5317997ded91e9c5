package mvserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surrealdb/multiversion/internal/rand"
	"github.com/surrealdb/multiversion/pkg/compaction"
)

const (
	requestIDLength = 16
	requestIDHeader = "X-Request-Id"
	shutdownTimeout = 5 * time.Second
)

// Router returns the HTTP handler with every route of the API:
//
//	GET    /api/health
//	GET    /api/records                    - ids of all records
//	POST   /api/records?type=              - create a record
//	GET    /api/records/{id}               - current document
//	PUT    /api/records/{id}               - write, base from _rev or If-Match
//	DELETE /api/records/{id}?rev=          - tombstone
//	GET    /api/records/{id}/revisions     - full history
//	GET    /api/records/{id}/conflicts     - losing live leaves
//	GET    /api/records/{id}/diff?from=&to= - JSON merge patch between revisions
//	POST   /api/records/{id}/compact       - compact with the configured policy
//	GET    /api/workspaces
//	POST   /api/workspaces
//	DELETE /api/workspaces/{id}            - id or name
//	GET    /metrics
//
// Record routes operate in the workspace named by the X-Workspace header or
// the workspace query parameter, and in the default workspace otherwise.
func (a *App) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(a.requestLogger)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/records", a.handleListRecords).Methods(http.MethodGet)
	api.HandleFunc("/records", a.handleCreateRecord).Methods(http.MethodPost)
	api.HandleFunc("/records/{id}", a.handleGetRecord).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}", a.handleWriteRecord).Methods(http.MethodPut)
	api.HandleFunc("/records/{id}", a.handleDeleteRecord).Methods(http.MethodDelete)
	api.HandleFunc("/records/{id}/revisions", a.handleRevisions).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/conflicts", a.handleConflicts).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/diff", a.handleDiff).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/compact", a.handleCompact).Methods(http.MethodPost)

	api.HandleFunc("/workspaces", a.handleListWorkspaces).Methods(http.MethodGet)
	api.HandleFunc("/workspaces", a.handleCreateWorkspace).Methods(http.MethodPost)
	api.HandleFunc("/workspaces/{id}", a.handleDeleteWorkspace).Methods(http.MethodDelete)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = rand.NewRequestID(requestIDLength)
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		a.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Run serves the API on the configured address until ctx is cancelled, then
// shuts down gracefully. Background compaction runs alongside when
// configured.
func (a *App) Run(ctx context.Context, _ *RunCommand) error {
	server := &http.Server{
		Addr:              a.config.Listen,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.config.CompactInterval > 0 {
		runner := compaction.NewRunner(a.manager, a.policy, a.config.CompactInterval, compaction.WithLogger(a.logger))
		go func() {
			_ = runner.Run(ctx)
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	a.logger.Info().
		Str("listen", a.config.Listen).
		Str("default_workspace", a.config.DefaultWorkspace).
		Msg("server started")

	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
