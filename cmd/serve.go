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
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/internal/pipeline"
)

var servePort int

// drainTimeout bounds how long shutdown waits for in-flight background
// delivery work before giving up.
const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the appraisal pipeline HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Background delivery work outlives inbound requests; it is bounded
		// by this context, cancelled only after the drain below.
		workCtx, cancelWork := context.WithCancel(context.Background())
		defer cancelWork()

		// Re-arm offers scheduled before a restart and keep sweeping.
		env.Tracker.Go("offer-sweeper", func() {
			env.Sweeper.Run(workCtx)
		})

		r := newRouter(env, workCtx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		// The response-side is closed; now drain outstanding background
		// delivery before letting the process exit.
		zap.L().Info("draining background work", zap.Int64("outstanding", env.Tracker.Outstanding()))
		cancelWork()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := env.Tracker.Drain(drainCtx); err != nil {
			zap.L().Warn("background work did not drain in time", zap.Error(err))
		}

		return nil
	},
}

func newRouter(env *appEnv, workCtx context.Context) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/stages/{stage}", handleStage(env))
		r.Post("/process", handleProcess(env))
		r.Post("/submit", handleSubmit(env, workCtx))
		r.Get("/status", handleStatus(env))
	})

	return r
}

// envelope is the response shape shared by the pipeline entry points.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Results any    `json:"results,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleStage is the stage invocation endpoint and the target of the
// coordinator's self-healing trigger. Invocation is idempotent, so repeated
// triggers are harmless.
func handleStage(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		stage := chi.URLParam(r, "stage")

		raw, err := env.Invoker.Invoke(r.Context(), sessionID, stage)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrSessionNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, envelope{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Message: fmt.Sprintf("stage %s complete", stage),
			Results: json.RawMessage(raw),
		})
	}
}

// handleProcess runs the coordinator synchronously. Partial stage failure is
// a success with a non-fatal error summary; only a missing session is hard.
func handleProcess(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		result, err := env.Coord.Run(r.Context(), sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrSessionNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, envelope{Success: false, Error: err.Error()})
			return
		}

		resp := envelope{Success: true, Message: "pipeline run complete", Results: result}
		if len(result.Errors) > 0 {
			resp.Message = fmt.Sprintf("pipeline run complete with %d stage failures", len(result.Errors))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleSubmit accepts the email submission and answers immediately; report
// generation and delivery continue as supervised background work bound to
// workCtx, not to this request.
func handleSubmit(env *appEnv, workCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Email == "" {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "email is required"})
			return
		}

		// Fail fast on unknown sessions; everything past this point is
		// background work with no caller to answer to.
		exists, err := env.Artifacts.Exists(r.Context(), sessionID, model.ArtifactMetadata)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}
		if !exists {
			writeJSON(w, http.StatusNotFound, envelope{Success: false, Error: "session not found"})
			return
		}

		env.Dispatcher.Dispatch(workCtx, sessionID, req.Email)
		writeJSON(w, http.StatusAccepted, envelope{Success: true, Message: "submission accepted"})
	}
}

func handleStatus(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		status, err := env.Status.Status(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}

		// Results are attached only once the session is complete, assembled
		// from existing artifacts alone; a status poll never runs a stage.
		var results *model.RunResult
		if status.Overall == model.SessionComplete {
			if run, resErr := env.Status.Results(r.Context(), sessionID); resErr == nil {
				results = run
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"sessionId": status.SessionID,
				"status":    status.Overall,
				"stages":    status.Stages,
				"results":   results,
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
