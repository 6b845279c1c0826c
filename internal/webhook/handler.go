// Package webhook receives database-insert webhooks for the tickets table
// and starts processing for each new ticket.
//
// The database sends a POST whose JSON body looks like
//
//	{"type": "INSERT", "table": "tickets", "record": {"id": "...", "storage_path": "..."}}
//
// signed with X-Webhook-Signature: sha256=<hex HMAC-SHA256 of the body>.
// Events for other tables or other operations are acknowledged and ignored.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/store"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Webhook-Signature"

// TicketsTable is the table whose inserts start processing.
const TicketsTable = "tickets"

// Event is a database change notification.
type Event struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Record store.TicketRef `json:"record"`
}

// Dispatcher starts processing for a ticket.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref store.TicketRef) error
}

// Handler validates and dispatches ticket insert webhooks.
type Handler struct {
	secret     string
	dispatcher Dispatcher
}

// NewHandler creates a webhook handler. secret is the shared key the
// database signs payloads with.
func NewHandler(secret string, d Dispatcher) *Handler {
	return &Handler{secret: secret, dispatcher: d}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook event: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body) == 0 {
		log.Warn().Msg("Webhook event: empty body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		log.Warn().Msg("Webhook event: missing signature header")
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}
	if !h.verifySignature(body, signature) {
		log.Warn().Msg("Webhook event: invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !strings.EqualFold(evt.Type, "INSERT") || evt.Table != TicketsTable {
		log.Debug().Str("type", evt.Type).Str("table", evt.Table).Msg("Webhook event ignored")
		w.WriteHeader(http.StatusOK)
		return
	}
	if evt.Record.ID == "" {
		http.Error(w, "record.id is required", http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), evt.Record); err != nil {
		log.Error().Err(err).Str("ticketId", evt.Record.ID).Msg("Webhook event: dispatch failed")
		http.Error(w, "dispatch failed", http.StatusBadGateway)
		return
	}
	log.Info().Str("ticketId", evt.Record.ID).Msg("Webhook event dispatched")
	w.WriteHeader(http.StatusAccepted)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a "sha256=<hex>" header against the body's HMAC
// in constant time.
func (h *Handler) verifySignature(body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	received, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}
