package logger

import "context"

// Keys shared by every component that logs about a scan or a request.
const (
	ScanIDKey        = "scan_id"
	PatientIDKey     = "patient_id"
	CorrelationIDKey = "correlation_id"
)

var (
	scanIDKey        = internKey(ScanIDKey)
	patientIDKey     = internKey(PatientIDKey)
	correlationIDKey = internKey(CorrelationIDKey)
)

// ScanID tags a record with the scan it concerns.
func ScanID(id string) Field {
	return Field{Key: scanIDKey, Value: id}
}

// PatientID tags a record with the owning patient.
func PatientID(id string) Field {
	return Field{Key: patientIDKey, Value: id}
}

// CorrelationID tags a record with the request it belongs to. Error bodies
// return the same value.
func CorrelationID(id string) Field {
	return Field{Key: correlationIDKey, Value: id}
}

type scopeKey struct{}

// scope is what a request has learned about itself so far.
type scope struct {
	correlationID string
	scanID        string
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// WithCorrelation returns ctx carrying the request correlation ID for
// Logger.WithContext.
func WithCorrelation(ctx context.Context, id string) context.Context {
	s := scopeFrom(ctx)
	s.correlationID = id
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithScan returns ctx carrying the scan being processed. Statements logged by
// the datastore under ctx carry the scan ID.
func WithScan(ctx context.Context, scanID string) context.Context {
	s := scopeFrom(ctx)
	s.scanID = scanID
	return context.WithValue(ctx, scopeKey{}, s)
}

// CorrelationFromContext returns the correlation ID set by WithCorrelation.
func CorrelationFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).correlationID
	return id, id != ""
}

func (s scope) fields() []Field {
	var fields []Field
	if s.correlationID != "" {
		fields = append(fields, CorrelationID(s.correlationID))
	}
	if s.scanID != "" {
		fields = append(fields, ScanID(s.scanID))
	}
	return fields
}
