package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/model"
)

var servePort int

// discoveryRunner is the slice of the pipeline the HTTP surface needs.
type discoveryRunner interface {
	RunSingle(ctx context.Context, agencyID string) (model.AgencyResult, error)
	RunBatch(ctx context.Context) ([]model.AgencyResult, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for discovery requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner, err := initRunner(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(runner),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(runner discoveryRunner) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/procurement-search", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			AgencyID string `json:"agencyId"`
			Mode     string `json:"mode"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		mode := body.Mode
		if mode == "" {
			mode = "single"
		}

		var results []model.AgencyResult
		switch mode {
		case "single":
			if body.AgencyID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agencyId is required for single mode"})
				return
			}
			result, err := runner.RunSingle(req.Context(), body.AgencyID)
			if err != nil {
				zap.L().Error("serve: discovery failed",
					zap.String("agency_id", body.AgencyID),
					zap.Error(err),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			results = []model.AgencyResult{result}
		case "batch":
			var err error
			results, err = runner.RunBatch(req.Context())
			if err != nil {
				zap.L().Error("serve: batch discovery failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be single or batch"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"processed": len(results),
			"results":   results,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
