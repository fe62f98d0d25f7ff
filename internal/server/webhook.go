package server

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/BadgerOps/jobindex/internal/safety"
	"github.com/BadgerOps/jobindex/internal/transport"
)

// webhookEvents are the GitHub events forwarded to the scraper
var webhookEvents = []string{"installation", "installation_repositories", "push"}

// handleWebhook validates a GitHub webhook delivery and publishes it.
// Deliveries are refused while no secret is configured: an empty HMAC key
// would let anyone sign an event.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.config.GitHubWebhookSecret == "" {
		s.logger.Warn("Rejecting webhook, no GitHub webhook secret configured")
		jsonError(w, http.StatusServiceUnavailable, "Webhook secret is not configured")
		return
	}

	body, err := safety.ReadAllWithLimit(r.Body, s.config.Server.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		s.logger.Warn("failed to read webhook body", "error", err)
		jsonError(w, http.StatusBadRequest, "Payload is missing or not a valid JSON")
		return
	}

	if !validPayload(body) {
		jsonError(w, http.StatusBadRequest, "Payload is missing or not a valid JSON")
		return
	}

	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		jsonError(w, http.StatusBadRequest, "X-GitHub-Delivery header missing.")
		return
	}

	signature := r.Header.Get("X-Hub-Signature")
	if signature == "" {
		jsonError(w, http.StatusUnauthorized, "X-Hub-Signature header missing.")
		return
	}
	if !validSignature(s.config.GitHubWebhookSecret, body, signature) {
		jsonError(w, http.StatusUnauthorized, "Request signature does not match calculated signature.")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	processed := false
	if slices.Contains(webhookEvents, event) {
		msg := &transport.Message{Event: event, Delivery: delivery, Payload: json.RawMessage(body)}
		if err := s.publisher.Publish(r.Context(), msg); err != nil {
			s.logger.Error("failed to publish event", "event", event, "delivery", delivery, "error", err)
			jsonError(w, http.StatusServiceUnavailable, "Failed to publish event")
			return
		}
		s.logger.Info("Published event", "event", event, "delivery", delivery)
		processed = true
	} else {
		s.logger.Debug("Ignoring event", "event", event, "delivery", delivery)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"event_processed": processed})
}

// validPayload reports whether body is JSON holding a non-empty value.
func validPayload(body []byte) bool {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	switch v := payload.(type) {
	case nil:
		return false
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	case string:
		return v != ""
	case float64:
		return v != 0
	case bool:
		return v
	}
	return true
}

// validSignature compares the X-Hub-Signature header against the HMAC-SHA1
// of body in constant time.
func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := "sha1=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
