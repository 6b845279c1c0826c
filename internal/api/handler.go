// Package api is the HTTP surface for the ticket client: listing and
// inspecting tickets, retry and clear-errors, export bundles, presigned
// upload URLs and the sheet append hook.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/bundle"
	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/jobs"
	"github.com/fpang/incident-tickets/internal/statusview"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
	"github.com/fpang/incident-tickets/internal/webhook"
)

const (
	ticketsPrefix = "/api/tickets/"
	webhookPath   = "/api/webhooks/ticket-inserted"

	// DefaultPresignTTL bounds presigned upload and download URLs.
	DefaultPresignTTL = 15 * time.Minute

	maxListLimit = 500
)

// SheetAppender appends an uploaded file name to the incident sheet.
type SheetAppender interface {
	AppendFileName(ctx context.Context, fileName string) error
}

// Config wires the handler's dependencies. Sheet, OriginSecret and
// WebhookSecret are optional.
type Config struct {
	Store         store.TicketStore
	Storage       storage.Gateway
	Dispatcher    statusview.Dispatcher
	Sheet         SheetAppender
	OriginSecret  string
	WebhookSecret string
	PresignTTL    time.Duration
	Now           func() time.Time
}

// Server serves the client API.
type Server struct {
	cfg     Config
	actions *statusview.Actions
}

func New(cfg Config) *Server {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{cfg: cfg, actions: statusview.NewActions(cfg.Store, cfg.Dispatcher)}
}

// Handler returns the routed handler with origin verification and request
// metrics applied. The ticket insert webhook is signed by the database and
// skips origin verification.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/tickets", s.handleListTickets)
	mux.HandleFunc(ticketsPrefix, s.handleTicketRoutes)
	mux.HandleFunc("/api/incidents/upload-url", s.handleUploadURL)
	mux.HandleFunc("/api/sheet/append", s.handleSheetAppend)

	root := http.NewServeMux()
	if s.cfg.WebhookSecret != "" && s.cfg.Dispatcher != nil {
		root.Handle(webhookPath, webhook.NewHandler(s.cfg.WebhookSecret, s.cfg.Dispatcher))
	}
	root.Handle("/", withOriginVerify(s.cfg.OriginSecret, mux))
	return withMetrics(root)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/tickets?limit=N
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	opts := store.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			httpError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		opts.Limit = n
	}
	tickets, err := s.cfg.Store.ListTickets(r.Context(), opts)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list tickets", err.Error())
		return
	}
	if tickets == nil {
		tickets = []*store.Ticket{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tickets": tickets})
}

func (s *Server) handleTicketRoutes(w http.ResponseWriter, r *http.Request) {
	id, action, ok := jobs.ParseRoute(r.URL.Path, ticketsPrefix)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if !jobs.ValidID(id) {
		httpError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	method := http.MethodGet
	switch action {
	case "retry", "clear-errors", "export":
		method = http.MethodPost
	case "", "recordings", "errors":
	default:
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != method {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "":
		s.handleGetTicket(w, r, id)
	case "recordings":
		s.handleRecordings(w, r, id)
	case "errors":
		s.handleErrors(w, r, id)
	case "retry":
		s.handleRetry(w, r, id)
	case "clear-errors":
		s.handleClearErrors(w, r, id)
	case "export":
		s.handleExport(w, r, id)
	}
}

// loadTicket writes a 404 or 500 and returns nil when the ticket cannot
// be read.
func (s *Server) loadTicket(w http.ResponseWriter, r *http.Request, id string) *store.Ticket {
	t, err := s.cfg.Store.GetTicket(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load ticket", err.Error())
		return nil
	}
	if t == nil {
		httpError(w, http.StatusNotFound, "ticket not found")
		return nil
	}
	return t
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request, id string) {
	if t := s.loadTicket(w, r, id); t != nil {
		respondJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request, id string) {
	if s.loadTicket(w, r, id) == nil {
		return
	}
	recs, err := s.cfg.Store.ListRecordings(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list recordings", err.Error())
		return
	}
	if recs == nil {
		recs = []*store.Recording{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"recordings": recs})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request, id string) {
	if s.loadTicket(w, r, id) == nil {
		return
	}
	errs, err := s.cfg.Store.ListTicketErrors(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list errors", err.Error())
		return
	}
	if errs == nil {
		errs = []*store.TicketError{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"errors": errs})
}

// POST /api/tickets/{id}/retry
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, id string) {
	t, err := s.actions.Retry(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, statusview.ErrNotRetryable):
		httpError(w, http.StatusConflict, "ticket is "+string(t.Status))
	case errors.Is(err, statusview.ErrNoDispatcher):
		httpError(w, http.StatusServiceUnavailable, "processing is not configured")
	case err != nil:
		httpError(w, http.StatusInternalServerError, "failed to start processing", err.Error())
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
	}
}

// POST /api/tickets/{id}/clear-errors
func (s *Server) handleClearErrors(w http.ResponseWriter, r *http.Request, id string) {
	n, err := s.actions.ClearErrors(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to clear errors", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// POST /api/tickets/{id}/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	t := s.loadTicket(w, r, id)
	if t == nil {
		return
	}
	recs, err := s.cfg.Store.ListRecordings(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list recordings", err.Error())
		return
	}
	key, err := bundle.Build(r.Context(), s.cfg.Storage, t, recs)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to build export", err.Error())
		return
	}
	url, err := s.cfg.Storage.PresignDownload(r.Context(), key, s.cfg.PresignTTL)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to sign export URL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "url": url})
}

type uploadURLRequest struct {
	// IncidentTime is unix seconds; zero means now.
	IncidentTime int64               `json:"incidentTime"`
	Files        []ingest.UploadFile `json:"files"`
}

type presignedObject struct {
	ingest.PlannedObject
	URL string `json:"url"`
}

type uploadURLResponse struct {
	StoragePath string            `json:"storagePath"`
	Uploads     []presignedObject `json:"uploads"`
	ManifestKey string            `json:"manifestKey"`
	ManifestURL string            `json:"manifestUrl"`
	Manifest    *ingest.Manifest  `json:"manifest"`
}

// POST /api/incidents/upload-url
// Returns presigned PUT URLs for every recording and for the manifest. The
// client uploads the recordings first and the manifest last.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req uploadURLRequest
	if !decodeBody(w, r, &req) {
		return
	}

	now := s.cfg.Now()
	incident := now
	if req.IncidentTime > 0 {
		incident = time.Unix(req.IncidentTime, 0)
	}
	plan, err := ingest.PlanUpload(ingest.NewStoragePath(now), incident, req.Files)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := uploadURLResponse{
		StoragePath: plan.StoragePath,
		ManifestKey: plan.ManifestKey,
		Manifest:    plan.Manifest,
	}
	for _, obj := range plan.Objects {
		url, err := s.cfg.Storage.PresignUpload(r.Context(), obj.Key, obj.ContentType, s.cfg.PresignTTL)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to generate upload URL", err.Error())
			return
		}
		resp.Uploads = append(resp.Uploads, presignedObject{PlannedObject: obj, URL: url})
	}
	resp.ManifestURL, err = s.cfg.Storage.PresignUpload(r.Context(), plan.ManifestKey, "application/json", s.cfg.PresignTTL)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to generate upload URL", err.Error())
		return
	}

	log.Info().
		Str("storagePath", plan.StoragePath).
		Int("files", len(plan.Objects)).
		Msg("Upload URLs issued")
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/sheet/append {"fileName": "..."}
func (s *Server) handleSheetAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Sheet == nil {
		httpError(w, http.StatusServiceUnavailable, "sheet export is not configured")
		return
	}
	var req struct {
		FileName string `json:"fileName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FileName == "" {
		httpError(w, http.StatusBadRequest, "fileName is required in the request body")
		return
	}
	if err := s.cfg.Sheet.AppendFileName(r.Context(), req.FileName); err != nil {
		httpError(w, http.StatusBadGateway, "failed to append to sheet", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Successfully appended to sheet"})
}
