package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/nullable"

	"github.com/glyphic-ai/render-api/internal/app/admission"
	"github.com/glyphic-ai/render-api/internal/app/generations"
	"github.com/glyphic-ai/render-api/internal/domain"
)

// Server holds the HTTP handlers for the generation API.
type Server struct {
	svc *generations.Service
	log *slog.Logger
}

func NewServer(svc *generations.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, log: log}
}

type submitRequest struct {
	Prompt       string            `json:"prompt"`
	Params       map[string]string `json:"params,omitempty"`
	Tier         string            `json:"tier,omitempty"`
	PriorityHint int               `json:"priorityHint,omitempty"`
	CallbackURL  string            `json:"callbackUrl,omitempty"`
}

type artifactResponse struct {
	URL         string    `json:"url"`
	ContentType string    `json:"contentType,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type cachedResponse struct {
	Status      string           `json:"status"`
	Fingerprint string           `json:"fingerprint"`
	Artifact    artifactResponse `json:"artifact"`
}

type acceptedResponse struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	Priority       int    `json:"priority"`
	QuotaRemaining *int   `json:"quotaRemaining,omitempty"`
}

type jobResponse struct {
	JobID       string            `json:"jobId"`
	State       string            `json:"state"`
	Tier        string            `json:"tier"`
	Priority    int               `json:"priority"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError,omitempty"`
	Result      *artifactResponse `json:"result,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// SubmitGeneration handles POST /v1/generations. A cache hit returns the
// stored artifact with 200; an admitted request returns 202 with the
// queued job; denials map to 429/422/503 with machine-readable codes.
func (s *Server) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing subject", nil)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON", nil)
		return
	}

	tier, err := parseTier(req.Tier)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid tier", map[string]any{"tier": req.Tier})
		return
	}

	res, err := s.svc.Submit(r.Context(), generations.SubmitInput{
		Subject:      subject,
		Prompt:       req.Prompt,
		Params:       req.Params,
		Tier:         tier,
		PriorityHint: req.PriorityHint,
		CallbackURL:  req.CallbackURL,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	dec := res.Decision
	switch {
	case dec.CachedArtifact != nil:
		writeJSON(w, http.StatusOK, cachedResponse{
			Status:      "cached",
			Fingerprint: string(dec.Fingerprint),
			Artifact:    toArtifactResponse(*dec.CachedArtifact),
		})
	case dec.Allowed:
		writeJSON(w, http.StatusAccepted, acceptedResponse{
			JobID:          string(res.Job.ID),
			Status:         "queued",
			Fingerprint:    string(dec.Fingerprint),
			Priority:       res.Job.Priority,
			QuotaRemaining: dec.QuotaRemaining,
		})
	default:
		s.writeDenial(w, r, dec)
	}
}

// GetGeneration handles GET /v1/generations/{jobID}.
func (s *Server) GetGeneration(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing subject", nil)
		return
	}
	id := domain.JobID(chi.URLParam(r, "jobID"))

	job, err := s.svc.Status(r.Context(), subject, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// CancelGeneration handles DELETE /v1/generations/{jobID}.
func (s *Server) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing subject", nil)
		return
	}
	id := domain.JobID(chi.URLParam(r, "jobID"))

	job, err := s.svc.Cancel(r.Context(), subject, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// ListDeadLetters handles GET /v1/deadletters. The limit query parameter
// caps the result set; it defaults to 100.
func (s *Server) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid limit", map[string]any{"limit": raw})
			return
		}
		limit = n
	}

	jobs, err := s.svc.DeadLetters(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": out})
}

// writeDenial maps an admission denial onto the HTTP surface. Throttling
// denials carry Retry-After so well-behaved clients can back off without
// parsing the body.
func (s *Server) writeDenial(w http.ResponseWriter, r *http.Request, dec admission.Decision) {
	switch dec.Reason {
	case admission.ReasonRateLimited, admission.ReasonQuotaExceeded:
		body := ErrorBody{
			Code:    denialCode(dec.Reason),
			Message: "request was throttled",
		}
		if dec.ResetAt != nil {
			body.ResetAt = nullable.NewNullableWithValue(*dec.ResetAt)
			secs := int(time.Until(*dec.ResetAt).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeErrorBody(w, r, http.StatusTooManyRequests, body)
	case admission.ReasonContentViolation:
		body := ErrorBody{
			Code:    "CONTENT_VIOLATION",
			Message: "prompt was rejected by content moderation",
		}
		if len(dec.Categories) > 0 {
			body.Categories = nullable.NewNullableWithValue(dec.Categories)
		}
		writeErrorBody(w, r, http.StatusUnprocessableEntity, body)
	case admission.ReasonQueueSaturated:
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusServiceUnavailable, "QUEUE_SATURATED", "the system is at capacity, retry later", nil)
	default:
		writeError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "a dependency is unavailable", nil)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *generations.Error
	if errors.As(err, &svcErr) {
		writeError(w, r, svcErr.Status, svcErr.Code, svcErr.Message, svcErr.Details)
		return
	}
	s.log.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "a dependency is unavailable", nil)
}

func denialCode(reason admission.Reason) string {
	if reason == admission.ReasonQuotaExceeded {
		return "QUOTA_EXCEEDED"
	}
	return "RATE_LIMITED"
}

func parseTier(raw string) (domain.Tier, error) {
	switch raw {
	case "", string(domain.TierFree):
		return domain.TierFree, nil
	case string(domain.TierPaid):
		return domain.TierPaid, nil
	default:
		return "", errors.New("unknown tier")
	}
}

func toArtifactResponse(a domain.Artifact) artifactResponse {
	return artifactResponse{
		URL:         a.URL,
		ContentType: a.ContentType,
		Provider:    a.Provider,
		GeneratedAt: a.GeneratedAt,
	}
}

func toJobResponse(j domain.Job) jobResponse {
	out := jobResponse{
		JobID:       string(j.ID),
		State:       string(j.State),
		Tier:        string(j.Tier),
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Result != nil {
		ar := toArtifactResponse(*j.Result)
		out.Result = &ar
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
