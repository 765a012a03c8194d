package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avolkoff/inferelay/internal/backend"
	"github.com/avolkoff/inferelay/internal/ollama"
	"github.com/avolkoff/inferelay/internal/relay"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewHandler returns the HTTP route table. All decision logic lives in the
// adapter; handlers parse, dispatch, and map tagged errors to status codes.
func NewHandler(a *backend.Adapter, stats *relay.Stats) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(countConnections(stats))

	r.Get("/health", handleHealth)
	r.Get("/api/status", handleStatus(a, stats))
	r.Get("/api/tags", handleModels(a))
	r.Post("/api/chat", handleChat(a))
	r.Post("/api/generate", handleGenerate(a))
	r.Post("/api/embed", handleEmbeddings(a))

	// Model management; each forwards the raw body to the adapter.
	r.Post("/api/create", handleManage(a, "create"))
	r.Delete("/api/delete", handleManage(a, "delete"))
	r.Post("/api/copy", handleManage(a, "copy"))
	r.Post("/api/show", handleManage(a, "show"))
	r.Post("/api/pull", handleManage(a, "pull"))
	r.Post("/api/push", handleManage(a, "push"))

	return r
}

// requestID tags each request with a UUID for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		slog.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// countConnections reports hi/bye events to the relay stats.
func countConnections(stats *relay.Stats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stats.Hi()
			defer stats.Bye()
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(a *backend.Adapter, stats *relay.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := a.Status()
		snap := stats.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"mode":        status.Mode,
			"endpoint":    status.Endpoint,
			"cli_active":  status.CliActive,
			"connections": snap.Connections,
			"uptime":      snap.UptimeSeconds,
		})
	}
}

func handleModels(a *backend.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := a.ListModels(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if models == nil {
			models = []ollama.Model{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	}
}

func handleChat(a *backend.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body: %v", err)
			return
		}
		if req.Model == "" {
			badRequest(w, "model is required")
			return
		}

		resp, err := a.Chat(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, resp)
	}
}

func handleGenerate(a *backend.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ollama.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body: %v", err)
			return
		}
		if req.Model == "" {
			badRequest(w, "model is required")
			return
		}

		resp, err := a.Generate(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, resp)
	}
}

func handleEmbeddings(a *backend.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			badRequest(w, "reading request body: %v", err)
			return
		}

		resp, err := a.Embeddings(r.Context(), body)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}
}

func handleManage(a *backend.Adapter, op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		params, err := io.ReadAll(r.Body)
		if err != nil {
			badRequest(w, "reading request body: %v", err)
			return
		}

		body, err := a.ManageModel(r.Context(), op, params)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// writeResponse emits a normalized envelope: plain JSON for single bodies,
// server-sent events (one JSON object per event) for chunk sequences.
func writeResponse(w http.ResponseWriter, resp *backend.Response) {
	if !resp.Streaming() {
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp.Body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorStatus(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range resp.Chunks {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}
	if err := <-resp.Errs; err != nil {
		slog.Warn("upstream stream ended with error", "error", err)
		errPayload, marshalErr := json.Marshal(map[string]any{
			"error": map[string]any{
				"message": "upstream read error",
				"type":    "server_error",
			},
		})
		if marshalErr == nil {
			fmt.Fprintf(w, "data: %s\n\n", errPayload)
			flusher.Flush()
		}
	}
}

// writeError maps adapter error kinds to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ue *backend.UpstreamError
	switch {
	case errors.Is(err, backend.ErrBackendUnavailable):
		writeErrorStatus(w, http.StatusServiceUnavailable, "backend_unavailable", "%v", err)
	case errors.Is(err, backend.ErrStreamingUnsupported):
		writeErrorStatus(w, http.StatusBadRequest, "streaming_unsupported", "%v", err)
	case errors.Is(err, backend.ErrUnsupportedByMode):
		writeErrorStatus(w, http.StatusBadRequest, "unsupported_by_mode", "%v", err)
	case errors.Is(err, backend.ErrCliTimeout):
		writeErrorStatus(w, http.StatusGatewayTimeout, "cli_timeout", "%v", err)
	case errors.Is(err, backend.ErrCliOutputTooLarge):
		writeErrorStatus(w, http.StatusBadGateway, "cli_output_too_large", "%v", err)
	case errors.As(err, &ue):
		writeErrorStatus(w, http.StatusBadGateway, "upstream_error", "%s", ue.Message)
	default:
		writeErrorStatus(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", format, args...)
}

func writeErrorStatus(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
