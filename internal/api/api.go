package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/gateway"
	"github.com/joescharf/tamv/internal/llm"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/schema"
	"github.com/joescharf/tamv/internal/store"
)

const maxBodyBytes = 1 << 20

// Chatter streams an assistant reply for a conversation.
type Chatter interface {
	StreamChat(ctx context.Context, history []llm.Message, status string, onDelta func(string) error) (string, error)
}

// StatusProber reports the status of the auxiliary services.
type StatusProber interface {
	Status(ctx context.Context) *gateway.Status
}

// Options holds the optional collaborators of a Server.
type Options struct {
	// Chat may be nil if no API key is configured.
	Chat    Chatter
	Gateway StatusProber
	Logger  *zap.Logger
	// LiveInterval is the push period of the live feed; defaults to 5s.
	LiveInterval time.Duration
}

// Server provides the REST API handlers.
type Server struct {
	store     store.Store
	dash      *dashboard.Service
	validator *schema.Validator
	chat      Chatter
	gateway   StatusProber
	logger    *zap.Logger
	interval  time.Duration
}

// NewServer creates a new API server.
func NewServer(s store.Store, opts Options) (*Server, error) {
	v, err := schema.New()
	if err != nil {
		return nil, err
	}
	srv := &Server{
		store:     s,
		dash:      dashboard.New(s),
		validator: v,
		chat:      opts.Chat,
		gateway:   opts.Gateway,
		logger:    opts.Logger,
		interval:  opts.LiveInterval,
	}
	if srv.logger == nil {
		srv.logger = zap.NewNop()
	}
	if srv.interval <= 0 {
		srv.interval = 5 * time.Second
	}
	return srv, nil
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/repositories", s.listRepositories)
	mux.HandleFunc("POST /api/v1/repositories", s.createRepository)
	mux.HandleFunc("GET /api/v1/repositories/{id}", s.getRepository)
	mux.HandleFunc("PUT /api/v1/repositories/{id}", s.updateRepository)
	mux.HandleFunc("DELETE /api/v1/repositories/{id}", s.deleteRepository)

	mux.HandleFunc("GET /api/v1/modules", s.listModules)
	mux.HandleFunc("POST /api/v1/modules", s.createModule)
	mux.HandleFunc("GET /api/v1/modules/{id}", s.getModule)
	mux.HandleFunc("PUT /api/v1/modules/{id}", s.updateModule)
	mux.HandleFunc("DELETE /api/v1/modules/{id}", s.deleteModule)

	mux.HandleFunc("GET /api/v1/tasks", s.listTasks)
	mux.HandleFunc("POST /api/v1/tasks", s.createTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.deleteTask)

	mux.HandleFunc("GET /api/v1/deployments", s.listDeployments)
	mux.HandleFunc("POST /api/v1/deployments", s.createDeployment)
	mux.HandleFunc("GET /api/v1/deployments/{id}", s.getDeployment)
	mux.HandleFunc("DELETE /api/v1/deployments/{id}", s.deleteDeployment)

	mux.HandleFunc("GET /api/v1/progress-history", s.listProgressHistory)
	mux.HandleFunc("POST /api/v1/progress-history/record", s.recordProgress)

	mux.HandleFunc("GET /api/v1/dashboard", s.getDashboard)
	mux.HandleFunc("GET /api/v1/layers", s.listLayers)
	mux.HandleFunc("GET /api/v1/layers/{layer}", s.getLayer)
	mux.HandleFunc("GET /api/v1/live", s.live)

	mux.HandleFunc("POST /api/v1/chat", s.chatStream)
	mux.HandleFunc("GET /api/v1/gateway/status", s.gatewayStatus)

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps sentinel errors to status codes: unknown ids are
// 404, validation failures 400, everything else 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var ve *schema.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      ve.Error(),
			"violations": ve.Violations,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readBody reads the request body and checks it against the kind's create or
// patch schema.
func (s *Server) readBody(r *http.Request, kind schema.Kind, patch bool) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrInvalid, err)
	}
	if patch {
		err = s.validator.ValidatePatch(kind, body)
	} else {
		err = s.validator.ValidateCreate(kind, body)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}
