package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/leads"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/scan"
	"github.com/sells-group/lead-scanner/internal/store"
)

// ownerHeader carries the authenticated owner id set by the upstream
// auth proxy.
const ownerHeader = "X-User-ID"

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan job API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown. Running scans finish in env.Close; a second
		// signal kills the process.
		go func() {
			<-ctx.Done()
			stop()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("waiting for running scans")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api adapts the scan and lead services to HTTP.
type api struct {
	scans *scan.Service
	leads *leads.Service
}

func newRouter(env *appEnv, origins []string) http.Handler {
	a := &api{scans: env.Scans, leads: env.Leads}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", ownerHeader},
			MaxAge:         300,
		}),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan/start", a.startScan)
		r.Get("/scan/status/{jobId}", a.scanStatus)

		r.Get("/leads", a.listLeads)
		r.Get("/leads/export", a.exportLeads)
		r.Patch("/leads/{id}", a.updateLead)
		r.Get("/leads/fake/{userId}", a.fakeLeads)
		r.Delete("/leads/fake/{userId}", a.removeFakeLeads)

		r.Get("/analytics/dashboard", a.dashboard)
	})

	return r
}

func (a *api) startScan(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req struct {
		City     string `json:"city"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := a.scans.StartScan(r.Context(), owner, req.City, req.Category)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "jobId": jobID})
}

func (a *api) scanStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.scans.GetJobStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (a *api) listLeads(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	list, err := a.leads.List(r.Context(), owner, r.URL.Query().Get("leadType"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "leads": list})
}

func (a *api) updateLead(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var upd store.LeadWorkflowUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lead, err := a.leads.UpdateWorkflow(r.Context(), owner, chi.URLParam(r, "id"), upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lead": lead})
}

func (a *api) exportLeads(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	list, err := a.leads.Export(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename=leads.xlsx")
		err = leads.WriteXLSX(w, list)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=leads.csv")
		err = leads.WriteCSV(w, list)
	}
	if err != nil {
		zap.L().Error("export failed", zap.String("owner", owner), zap.Error(err))
	}
}

func (a *api) fakeLeads(w http.ResponseWriter, r *http.Request) {
	owner, ok := requirePathOwner(w, r)
	if !ok {
		return
	}
	report, err := a.leads.ClassifyFakeLeads(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*leads.FakeReport
	}{true, report})
}

func (a *api) removeFakeLeads(w http.ResponseWriter, r *http.Request) {
	owner, ok := requirePathOwner(w, r)
	if !ok {
		return
	}
	res, err := a.leads.RemoveFakeLeads(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	msg := "No fake leads found to remove"
	if res.DeletedCount > 0 {
		msg = fmt.Sprintf("Successfully removed %d fake leads", res.DeletedCount)
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*leads.RemoveResult
	}{true, msg, res})
}

func (a *api) dashboard(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	d, err := a.leads.Stats(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*leads.Dashboard
	}{true, d})
}

// requireOwner reads the owner id, writing 401 when it is absent.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return "", false
	}
	return owner, true
}

// requirePathOwner is requireOwner for routes that also name the owner in
// the path. Another owner's id is reported as not found.
func requirePathOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return "", false
	}
	if chi.URLParam(r, "userId") != owner {
		writeError(w, http.StatusNotFound, "not found")
		return "", false
	}
	return owner, true
}

// statusFor maps service errors onto HTTP statuses and client messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, scan.ErrAccountNotFound):
		return http.StatusNotFound, "User not found. Please refresh page."
	case errors.Is(err, scan.ErrQuotaExceeded):
		return http.StatusForbidden, "No scans remaining. Please upgrade your plan."
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, scan.ErrInvalidRequest),
		errors.Is(err, leads.ErrInvalidLeadType),
		errors.Is(err, leads.ErrEmptyUpdate):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
