package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docrewrite/docrewrite/internal/admission"
	"github.com/docrewrite/docrewrite/internal/auth"
	apperrors "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
	"github.com/docrewrite/docrewrite/internal/segment"
	"github.com/docrewrite/docrewrite/internal/service"
)

const maxJSONBody = 4 << 20

// DocumentService is what the document endpoints need from the service layer.
type DocumentService interface {
	ProcessSegment(ctx context.Context, text, style string) (*rewrite.Result, error)
	ProcessBatch(ctx context.Context, segments []string, style string) (*rewrite.Aggregate, error)
	Submit(ctx context.Context, segments []string, style string) (string, error)
	Status(ctx context.Context, jobID string) (jobs.Job, error)
	RateStatus(ctx context.Context, identity string) (admission.Status, error)
}

// TextRequest is the body of POST /process-text.
type TextRequest struct {
	Content string `json:"content"`
	Style   string `json:"style,omitempty"`
}

// BatchRequest is the body of POST /process-text-batch and POST /jobs.
type BatchRequest struct {
	Texts []string `json:"texts"`
	Style string   `json:"style,omitempty"`
}

// ParagraphsRequest is the body of POST /process-paragraphs.
type ParagraphsRequest struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
}

type ParagraphsResponse struct {
	Result              string                   `json:"result"`
	TotalProcessingTime float64                  `json:"total_processing_time"`
	Failed              []rewrite.SegmentFailure `json:"failed,omitempty"`
}

// JobResponse acknowledges an accepted job.
type JobResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// JobStatusResponse is the body of GET /status/{job_id}.
type JobStatusResponse struct {
	JobID     string             `json:"job_id"`
	Status    jobs.Status        `json:"status"`
	Message   string             `json:"message"`
	Segments  int                `json:"segments"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Result    *rewrite.Aggregate `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Documents serves /api/v1/documents and /api/v1/rate-limit.
type Documents struct {
	svc            DocumentService
	maxUploadBytes int64
}

func NewDocuments(svc DocumentService, maxUploadBytes int64) *Documents {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Documents{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Routes mounts the document endpoints on r.
func (d *Documents) Routes(r chi.Router) {
	r.Post("/process-text", d.ProcessText)
	r.Post("/process-text-batch", d.ProcessTextBatch)
	r.Post("/process-paragraphs", d.ProcessParagraphs)
	r.Post("/process", d.ProcessUpload)
	r.Post("/jobs", d.SubmitJob)
	r.Get("/status/{job_id}", d.JobStatus)
}

// ProcessText rewrites and cleans one text synchronously.
func (d *Documents) ProcessText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !d.decode(w, r, &req) {
		return
	}
	result, err := d.svc.ProcessSegment(r.Context(), req.Content, req.Style)
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ProcessTextBatch runs several texts through the pipeline and waits.
func (d *Documents) ProcessTextBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !d.decode(w, r, &req) {
		return
	}
	agg, err := d.svc.ProcessBatch(r.Context(), req.Texts, req.Style)
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// ProcessParagraphs splits text on blank lines, rewrites each paragraph and
// joins the cleaned paragraphs back together.
func (d *Documents) ProcessParagraphs(w http.ResponseWriter, r *http.Request) {
	var req ParagraphsRequest
	if !d.decode(w, r, &req) {
		return
	}
	agg, err := d.svc.ProcessBatch(r.Context(), segment.Split(req.Text), req.Style)
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}

	cleaned := make([]string, 0, len(agg.Results))
	for _, res := range agg.Results {
		cleaned = append(cleaned, res.Cleaned)
	}
	writeJSON(w, http.StatusOK, ParagraphsResponse{
		Result:              strings.Join(cleaned, "\n\n"),
		TotalProcessingTime: agg.TotalProcessingTime,
		Failed:              agg.Failed,
	})
}

// ProcessUpload accepts a multipart "file" and queues its paragraphs as a job.
func (d *Documents) ProcessUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, d.maxUploadBytes)
	if err := r.ParseMultipartForm(d.maxUploadBytes); err != nil {
		respondWithError(w, r, uploadError(r.Context(), err))
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "multipart field \"file\" is required"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, r, uploadError(r.Context(), err))
		return
	}

	segments, err := segment.Extract(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}
	d.submit(w, r, segments, r.FormValue("style"))
}

// SubmitJob queues JSON texts as a job.
func (d *Documents) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !d.decode(w, r, &req) {
		return
	}
	d.submit(w, r, req.Texts, req.Style)
}

func (d *Documents) submit(w http.ResponseWriter, r *http.Request, segments []string, style string) {
	ctx := jobs.WithOwner(r.Context(), auth.IdentityFromContext(r.Context()))
	id, err := d.svc.Submit(ctx, segments, style)
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{
		JobID:   id,
		Status:  jobs.StatusPending,
		Message: "Job created successfully",
	})
}

// JobStatus reports a job's current state.
func (d *Documents) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := d.svc.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, JobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Message:   job.Message(),
		Segments:  job.Segments,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Result:    job.Result,
		Error:     job.Error,
	})
}

// RateLimit reports the caller's admission window without counting.
func (d *Documents) RateLimit(w http.ResponseWriter, r *http.Request) {
	status, err := d.svc.RateStatus(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		respondWithError(w, r, MapError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (d *Documents) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewPayloadTooLargeError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
			return false
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "malformed JSON request body"))
		return false
	}
	return true
}

func uploadError(ctx context.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return apperrors.NewPayloadTooLargeError(fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
	}
	return apperrors.WrapInvalidInput(ctx, err, "could not read multipart upload")
}

// MapError turns service errors into response envelopes.
func MapError(ctx context.Context, err error) error {
	var failure *rewrite.Failure
	switch {
	case stderrors.Is(err, service.ErrNoSegments):
		return apperrors.WrapInvalidInput(ctx, err, "no text to process")
	case stderrors.Is(err, segment.ErrUnsupportedContentType):
		return apperrors.Wrap(ctx, apperrors.CodeUnsupportedMedia, err, "unsupported file type")
	case stderrors.Is(err, jobs.ErrNotFound):
		return apperrors.WrapNotFound(ctx, err, "job not found or expired")
	case stderrors.Is(err, jobs.ErrQueueFull):
		return apperrors.WrapServiceUnavailable(ctx, err, "job queue is full, retry later")
	case stderrors.Is(err, jobs.ErrClosed):
		return apperrors.WrapServiceUnavailable(ctx, err, "service is shutting down")
	case stderrors.Is(err, auth.ErrUnauthenticated):
		return apperrors.WrapUnauthorized(ctx, err, "valid API key or bearer token required")
	case stderrors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapTimeout(ctx, err, "rewrite timed out")
	case stderrors.As(err, &failure):
		return apperrors.Wrap(ctx, apperrors.CodeExternalService, err, "rewrite provider call failed")
	}
	return apperrors.WrapInternal(ctx, err, "request failed")
}
