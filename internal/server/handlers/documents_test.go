package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/admission"
	"github.com/docrewrite/docrewrite/internal/auth"
	apperrors "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
	"github.com/docrewrite/docrewrite/internal/segment"
	"github.com/docrewrite/docrewrite/internal/service"
)

type fakeDocs struct {
	submitErr error
	owner     string
	segments  []string
}

func (f *fakeDocs) ProcessSegment(_ context.Context, text, _ string) (*rewrite.Result, error) {
	return &rewrite.Result{Original: text, Rewritten: text, Cleaned: text}, nil
}

func (f *fakeDocs) ProcessBatch(_ context.Context, segments []string, _ string) (*rewrite.Aggregate, error) {
	f.segments = segments
	agg := &rewrite.Aggregate{}
	for i, seg := range segments {
		if seg == "bad" {
			agg.Failed = append(agg.Failed, rewrite.SegmentFailure{Index: i, Code: "REWRITE_FAILED"})
			continue
		}
		agg.Results = append(agg.Results, rewrite.Result{Index: i, Original: seg, Cleaned: "<" + seg + ">"})
	}
	return agg, nil
}

func (f *fakeDocs) Submit(ctx context.Context, segments []string, _ string) (string, error) {
	f.owner = jobs.OwnerFromContext(ctx)
	f.segments = segments
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakeDocs) Status(context.Context, string) (jobs.Job, error) {
	return jobs.Job{}, jobs.ErrNotFound
}

func (f *fakeDocs) RateStatus(_ context.Context, identity string) (admission.Status, error) {
	return admission.Status{Identity: identity, Limit: 10, Remaining: 10}, nil
}

func TestMapError(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		code string
	}{
		{service.ErrNoSegments, apperrors.CodeInvalidInput},
		{fmt.Errorf("%w: x.exe", segment.ErrUnsupportedContentType), apperrors.CodeUnsupportedMedia},
		{jobs.ErrNotFound, apperrors.CodeNotFound},
		{fmt.Errorf("submit: %w", jobs.ErrQueueFull), apperrors.CodeServiceUnavailable},
		{jobs.ErrClosed, apperrors.CodeServiceUnavailable},
		{auth.ErrUnauthenticated, apperrors.CodeUnauthorized},
		{&rewrite.Failure{Cause: context.DeadlineExceeded}, apperrors.CodeTimeout},
		{&rewrite.Failure{Cause: stderrors.New("502 from provider")}, apperrors.CodeExternalService},
		{stderrors.New("boom"), apperrors.CodeInternal},
	}
	for _, tc := range cases {
		var env *gferrors.ErrorEnvelope
		require.True(t, stderrors.As(MapError(ctx, tc.err), &env))
		assert.Equal(t, tc.code, env.Code, tc.err.Error())
	}
}

func TestProcessParagraphsJoinsCleanedText(t *testing.T) {
	docs := NewDocuments(&fakeDocs{}, 0)
	body := `{"text":"one\n\nbad\n\n\ntwo"}`

	rec := httptest.NewRecorder()
	docs.ProcessParagraphs(rec, httptest.NewRequest(http.MethodPost, "/process-paragraphs", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ParagraphsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "<one>\n\n<two>", resp.Result)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, 1, resp.Failed[0].Index)
}

func TestSubmitRecordsOwnerAndMapsQueueFull(t *testing.T) {
	fake := &fakeDocs{}
	docs := NewDocuments(fake, 0)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"texts":["a"]}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), "key:abcd"))
	rec := httptest.NewRecorder()
	docs.SubmitJob(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "key:abcd", fake.owner)
	assert.Contains(t, rec.Body.String(), `"job_id":"job-1"`)

	fake.submitErr = jobs.ErrQueueFull
	rec = httptest.NewRecorder()
	docs.SubmitJob(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"texts":["a"]}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDecodeRejectsUnknownFieldsAndOversizedBodies(t *testing.T) {
	docs := NewDocuments(&fakeDocs{}, 0)

	rec := httptest.NewRecorder()
	docs.ProcessText(rec, httptest.NewRequest(http.MethodPost, "/process-text", strings.NewReader(`{"contents":"typo"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	huge := `{"content":"` + strings.Repeat("a", maxJSONBody) + `"}`
	rec = httptest.NewRecorder()
	docs.ProcessText(rec, httptest.NewRequest(http.MethodPost, "/process-text", strings.NewReader(huge)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
