package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/llm"
)

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// chatStream proxies a conversation to the assistant and relays the reply as
// server-sent events: one {"delta": ...} frame per fragment, then [DONE].
// Errors before the first fragment are plain JSON responses.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured (set TAMV_ANTHROPIC_API_KEY)")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	send := func(payload any) error {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	_, err := s.chat.StreamChat(r.Context(), req.Messages, s.chatStatus(r.Context()), func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return send(map[string]string{"delta": delta})
	})

	if err != nil && !started {
		switch {
		case errors.Is(err, llm.ErrInvalidHistory):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, llm.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		default:
			s.logger.Error("chat failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	if !started {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}
	if err != nil {
		s.logger.Warn("chat stream interrupted", zap.Error(err))
		_ = send(map[string]string{"error": err.Error()})
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// chatStatus renders the current dashboard figures as context for the
// assistant. A failed fetch yields no context rather than failing the chat.
func (s *Server) chatStatus(ctx context.Context) string {
	sum, err := s.dash.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("chat context unavailable", zap.Error(err))
		return ""
	}
	return dashboard.StatusText(sum)
}
