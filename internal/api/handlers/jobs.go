package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/statement-converter/internal/api/middleware"
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/jobs"
	"github.com/dvloznov/statement-converter/internal/logger"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
	}
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	InputURI   string `json:"input_uri"`
	OutputURI  string `json:"output_uri"`
	From       string `json:"from"`
	To         string `json:"to"`
	MaxRetries int    `json:"max_retries"`
}

// CreateJob handles POST /api/jobs
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.InputURI == "" || req.OutputURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "input_uri and output_uri are required")
		return
	}
	if req.MaxRetries < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "max_retries must not be negative")
		return
	}
	from, err := convert.ParseFormat(req.From)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := convert.ParseFormat(req.To)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	job := &jobs.ConvertJob{
		InputURI:   req.InputURI,
		OutputURI:  req.OutputURI,
		From:       from.String(),
		To:         to.String(),
		MaxRetries: req.MaxRetries,
	}
	if err := h.publisher.PublishConvert(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue conversion job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue conversion job")
		return
	}

	log.Info().
		Str("job_id", job.JobID).
		Str("input", job.InputURI).
		Str("output", job.OutputURI).
		Msg("Conversion job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		InputURI: query.Get("input_uri"),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

