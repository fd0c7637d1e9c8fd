package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// maxTraceBody is the largest body kept in a trace entry.
const maxTraceBody = 64 * 1024

// TraceEntry is one provider round trip. Headers are never recorded.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Model       string          `json:"model,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Truncated   bool            `json:"truncated,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer writes entries as NDJSON.
type Tracer struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *json.Encoder
}

// NewTracer wraps out. Close closes out.
func NewTracer(out io.WriteCloser) *Tracer {
	return &Tracer{out: out, enc: json.NewEncoder(out)}
}

var active atomic.Pointer[Tracer]

// EnableTracing appends every provider call to path until the returned
// function (or DisableTracing) is called.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	if prev := active.Swap(NewTracer(f)); prev != nil {
		_ = prev.Close()
	}
	return DisableTracing, nil
}

// DisableTracing stops tracing and closes the trace file.
func DisableTracing() {
	if prev := active.Swap(nil); prev != nil {
		_ = prev.Close()
	}
}

// IsTracingEnabled reports whether Trace writes anywhere.
func IsTracingEnabled() bool {
	return active.Load() != nil
}

// Trace records entry on the active tracer, if any.
func Trace(entry TraceEntry) {
	if t := active.Load(); t != nil {
		t.Write(entry)
	}
}

// Write records entry. Bodies over maxTraceBody are dropped and the entry
// is marked truncated.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if len(entry.RequestBody) > maxTraceBody {
		entry.RequestBody, entry.Truncated = nil, true
	}
	if len(entry.Response) > maxTraceBody {
		entry.Response, entry.Truncated = nil, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}

// Close closes the underlying writer. Later writes are dropped.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return nil
	}
	err := t.out.Close()
	t.out, t.enc = nil, nil
	return err
}
