package metrics

import (
	"strconv"

	"github.com/docrewrite/docrewrite/internal/observability"
)

const (
	ErrorsTotal           = "errors_total"
	ErrorsByEndpoint      = "errors_by_endpoint"
	PanicsTotal           = "panics_total"
	ProviderFailuresTotal = "provider_failures_total"
)

func count(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotal, map[string]string{"error_code": errorCode, "http_status": strconv.Itoa(httpStatus)})
}

// RecordErrorByEndpoint counts an error response by route.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpoint, map[string]string{"endpoint": endpoint, "error_code": errorCode})
}

// RecordPanic counts a recovered panic in a handler or job worker.
func RecordPanic() {
	count(PanicsTotal, nil)
}

// RecordProviderFailure counts a classified provider failure. Credential
// labels are operator-chosen names, never key material.
func RecordProviderFailure(code, credential string) {
	count(ProviderFailuresTotal, map[string]string{"code": code, "credential": credential})
}
