// Command mockagents runs a stand-in downstream fleet for local development
// and load tests. It answers the two agent endpoints and a health probe.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
)

func main() {
	r := chi.NewRouter()
	r.Post("/route", agentHandler("Axis", "Route processed successfully"))
	r.Post("/process", agentHandler("M", "Policy check completed"))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "agents": []string{"Axis", "M"}})
	})

	addr := ":" + getenv("PORT", "8001")
	slog.Info("mock agents listening", slog.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock agents stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func agentHandler(agent, result string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		traceID := "unknown"
		if v, ok := payload["trace_id"].(string); ok && v != "" {
			traceID = v
		}
		writeJSON(w, map[string]any{
			"status":   "success",
			"agent":    agent,
			"result":   result,
			"trace_id": traceID,
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string { if v := os.Getenv(k); v != "" { return v }; return def }
