package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/calibration"
	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/recorder"
	"github.com/meridian-clinical/triage-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRecorders(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		mux := newServeMux(env, cfg.Calibration.Buckets)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			if err := drainServer(srv, 10*time.Second); err != nil {
				zap.L().Warn("shutdown incomplete", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// drainServer stops accepting connections and waits for in-flight
// requests. The signal context is already canceled by the time shutdown
// starts, so draining gets its own deadline.
func drainServer(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// newServeMux wires the review API routes.
func newServeMux(env *recorderEnv, buckets int) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /records/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := env.Store.GetRecord(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		// Downstream consumers get the restricted projection only.
		writeJSON(w, http.StatusOK, rec.Final())
	})

	mux.HandleFunc("GET /records/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
		rec, err := env.Store.GetRecord(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("POST /review", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RecordID     string `json:"record_id"`
			Outcome      string `json:"outcome"`
			Decision     string `json:"decision"`
			Reason       string `json:"reason"`
			Notes        string `json:"notes"`
			ReviewerID   string `json:"reviewer_id"`
			DurationSecs int64  `json:"duration_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		rec, err := env.Reviewer.Apply(r.Context(), recorder.Review{
			RecordID:       req.RecordID,
			Outcome:        model.Outcome(req.Outcome),
			HumanDecision:  model.TriageDecision(req.Decision),
			OverrideReason: model.OverrideReason(req.Reason),
			OverrideNotes:  req.Notes,
			ReviewerID:     req.ReviewerID,
			Duration:       time.Duration(req.DurationSecs) * time.Second,
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, rec)
		case recorder.IsInvalidReview(err):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			writeStoreError(w, err)
		}
	})

	mux.HandleFunc("GET /calibration", func(w http.ResponseWriter, r *http.Request) {
		report, err := calibration.NewAnalyzer(env.Store, buckets).
			Analyze(r.Context(), store.RecordFilter{})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
