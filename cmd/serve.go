package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
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

	"github.com/sells-group/listpull-cli/internal/batch"
	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the approval command server",
	Long:  "Exposes the inbound approval channel: approve-batch commands from the notification channel land here, plus batch status and audit lookups.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gate, err := initGate(st)
		if err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/commands/approve-batch", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				BatchID  string `json:"batch_id"`
				Approver string `json:"approver"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if body.BatchID == "" || body.Approver == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "batch_id and approver are required"})
				return
			}

			res, err := gate.Approve(req.Context(), body.BatchID, body.Approver)
			if err != nil {
				zap.L().Error("approve command failed",
					zap.String("batch_id", body.BatchID), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "approval failed"})
				return
			}

			status := http.StatusOK
			if res.Outcome == batch.OutcomeNotFound {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]any{
				"outcome":  res.Outcome,
				"response": res.Response(),
			})
		})

		r.Get("/batches", func(w http.ResponseWriter, req *http.Request) {
			filter := store.BatchFilter{Tenant: req.URL.Query().Get("tenant")}
			if m := req.URL.Query().Get("month"); m != "" {
				month, err := model.ParseMonth(m)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
					return
				}
				filter.Month = month
			}
			if s := req.URL.Query().Get("status"); s != "" {
				status, err := model.ParseBatchStatus(s)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
					return
				}
				filter.Status = status
			}

			batches, err := st.ListBatches(req.Context(), filter)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
				return
			}
			writeJSON(w, http.StatusOK, batches)
		})

		r.Get("/batches/{id}", func(w http.ResponseWriter, req *http.Request) {
			b, err := st.GetBatch(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
				return
			}
			if b == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
				return
			}
			writeJSON(w, http.StatusOK, b)
		})

		r.Get("/batches/{id}/audit", func(w http.ResponseWriter, req *http.Request) {
			trail, err := st.AuditTrail(req.Context(), "batch", chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
				return
			}
			writeJSON(w, http.StatusOK, trail)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return runServer(ctx, &http.Server{Handler: r}, ln, 10*time.Second)
	},
}

// runServer serves until ctx is canceled, then drains in-flight requests
// before returning. The drain uses a fresh context: the signal context is
// already canceled at that point, and Shutdown with a dead context aborts
// active handlers instead of waiting for them.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, drainTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
