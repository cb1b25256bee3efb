package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// webhookHandler handles POST /webhook. It always answers 200; failures are
// reported in the body so the gateway does not redeliver.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var event models.WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxWebhookBody)).Decode(&event); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Error(flow.MsgInvalidJSON))
		return
	}
	slog.Debug("Server.webhookHandler: payload received", "event", event.Event, "remoteJID", event.RemoteJID(), "messageID", event.MessageID())

	res := s.handler.HandleEvent(r.Context(), &event)
	writeJSONResponse(w, http.StatusOK, res.Response())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Health())
}

// recoverer turns a panic into a 200 error body.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Server.recoverer: panic while handling request", "path", r.URL.Path, "panic", rec)
				writeJSONResponse(w, http.StatusOK, models.Error(fmt.Sprintf("Error processing webhook: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
