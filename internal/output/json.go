package output

import (
	"encoding/json"

	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatAggregate(agg *rewrite.Aggregate) (string, error) {
	if agg == nil {
		return "", nil
	}
	return f.marshal(agg)
}

// FormatJob renders the same body GET /status/{job_id} returns.
func (f *JSONFormatter) FormatJob(job jobs.Job) (string, error) {
	return f.marshal(struct {
		jobs.Job
		Message string `json:"message"`
	}{Job: job, Message: job.Message()})
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
