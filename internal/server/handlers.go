package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"polibrief/internal/capture"
	"polibrief/internal/classify"
	"polibrief/internal/core"
	"polibrief/internal/pipeline"
	"polibrief/internal/scheduler"
)

const (
	maxCaptureBytes   = 4 << 20
	defaultDigestList = 20
	maxDigestList     = 200
)

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StatusResponse is the body of /api/status
type StatusResponse struct {
	Uptime       string `json:"uptime"`
	LatestDigest string `json:"latest_digest,omitempty"`
}

// CaptureResponse is returned by POST /api/content
type CaptureResponse struct {
	Item    *core.ContentItem `json:"item"`
	Created bool              `json:"created"`
}

// ContentResponse is an item with its analysis and classification history
type ContentResponse struct {
	Item            *core.ContentItem           `json:"item"`
	Analysis        *core.PoliticalAnalysis     `json:"analysis,omitempty"`
	Classifications []core.ClassificationResult `json:"classifications"`
}

// OutcomeResponse reports a single-item reprocess or override
type OutcomeResponse struct {
	ItemID   string                  `json:"item_id"`
	Decision classify.Decision       `json:"decision"`
	Category string                  `json:"category,omitempty"`
	Analysis *core.PoliticalAnalysis `json:"analysis,omitempty"`
}

// DigestSummary is a digest without its rendered bodies
type DigestSummary struct {
	DigestDate          string    `json:"digest_date"`
	ItemsConsidered     int       `json:"items_considered"`
	PoliticalItemsCount int       `json:"political_items_count"`
	Clusters            int       `json:"clusters"`
	DeliveryStatus      string    `json:"delivery_status"`
	CreatedAt           time.Time `json:"created_at"`
}

type overrideRequest struct {
	Category string `json:"category"`
}

// handleHealth handles the /healthz endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		checks["database"] = "error"
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}

	checks["database"] = "ok"
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Uptime: time.Since(s.started).Round(time.Second).String()}
	latest, err := s.deps.Store.ListDigests(r.Context(), 1)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(latest) > 0 {
		resp.LatestDigest = latest[0].DigestDate
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var p capture.Payload
	if err := decodeJSON(w, r, maxCaptureBytes, &p); err != nil {
		s.respondError(w, r, err)
		return
	}

	item, created, err := s.deps.Capturer.Capture(r.Context(), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, CaptureResponse{Item: item, Created: created})
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	item, err := s.deps.Store.GetContent(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := ContentResponse{Item: item, Classifications: []core.ClassificationResult{}}
	analysis, err := s.deps.Store.GetAnalysis(ctx, id)
	switch {
	case err == nil:
		resp.Analysis = analysis
	case !core.Is(err, core.ErrNotFound):
		s.respondError(w, r, err)
		return
	}

	history, err := s.deps.Store.ListClassifications(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if history != nil {
		resp.Classifications = history
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Processor.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse(out))
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, 4<<10, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	out, err := s.deps.Processor.Override(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Category))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse(out))
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	limit := defaultDigestList
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, r, core.NewInvalidRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxDigestList)
	}

	digests, err := s.deps.Store.ListDigests(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]DigestSummary, 0, len(digests))
	for _, d := range digests {
		out = append(out, DigestSummary{
			DigestDate:          d.DigestDate,
			ItemsConsidered:     d.ItemsConsidered,
			PoliticalItemsCount: d.PoliticalItemsCount,
			Clusters:            len(d.Clusters),
			DeliveryStatus:      d.DeliveryStatus,
			CreatedAt:           d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, err := s.deps.Store.GetDigest(r.Context(), date)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, rec)
	case "markdown", "md":
		writeBody(w, "text/markdown; charset=utf-8", rec.Body)
	case "html":
		writeBody(w, "text/html; charset=utf-8", rec.HTMLBody)
	default:
		s.respondError(w, r, core.NewInvalidRequest("unknown format %q", format))
	}
}

func (s *Server) handleGenerateDigest(w http.ResponseWriter, r *http.Request) {
	force, err := boolQuery(r, "force")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// generation outlives a dropped client; the request timeout still bounds it
	ctx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	rec, err := s.deps.Digests.GenerateDigest(ctx, chi.URLParam(r, "date"), scheduler.Options{Force: force})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, err := s.deps.Digests.Redeliver(r.Context(), date)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DigestSummary{
		DigestDate:          rec.DigestDate,
		ItemsConsidered:     rec.ItemsConsidered,
		PoliticalItemsCount: rec.PoliticalItemsCount,
		Clusters:            len(rec.Clusters),
		DeliveryStatus:      rec.DeliveryStatus,
		CreatedAt:           rec.CreatedAt,
	})
}

func outcomeResponse(o pipeline.Outcome) OutcomeResponse {
	return OutcomeResponse{ItemID: o.ItemID, Decision: o.Decision, Category: o.Category, Analysis: o.Analysis}
}

func dateParam(r *http.Request) (string, error) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(core.DigestDateLayout, date); err != nil {
		return "", core.NewInvalidRequest("invalid digest date %q, want YYYY-MM-DD", date)
	}
	return date, nil
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, core.NewInvalidRequest("%s must be true or false", name)
	}
	return v, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewInvalidRequest("request body exceeds %d bytes", tooLarge.Limit)
		}
		return core.NewInvalidRequest("invalid JSON body: %v", err)
	}
	return nil
}

// respondError maps typed errors to their status; anything else is a 500
// whose detail stays in the log.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var e *core.Error
	switch {
	case errors.As(err, &e):
		status := e.HTTPStatus()
		if status >= http.StatusInternalServerError {
			s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		}
		writeError(w, status, string(e.Code), e.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request timed out")
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBody(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
