package catalog

// Status tags the variant held by a Result.
type Status int

const (
	// StatusAbsent means the catalog answered but had no matching entry.
	StatusAbsent Status = iota
	// StatusFound means the catalog returned a usable record.
	StatusFound
	// StatusTransportError means the call failed: network error, timeout,
	// non-success status or an undecodable body.
	StatusTransportError
)

// String returns the label used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusTransportError:
		return "transport_error"
	default:
		return "absent"
	}
}

// Result is the outcome of one catalog call: Found(value), Absent or
// TransportError(err). Callers that treat enrichment as best-effort collapse
// it with Value.
type Result[T any] struct {
	Status Status
	Record T
	Err    error
}

// Found wraps a matching record.
func Found[T any](record T) Result[T] {
	return Result[T]{Status: StatusFound, Record: record}
}

// Absent reports a successful call without a match.
func Absent[T any]() Result[T] {
	return Result[T]{Status: StatusAbsent}
}

// TransportError reports a failed call.
func TransportError[T any](err error) Result[T] {
	return Result[T]{Status: StatusTransportError, Err: err}
}

// Value collapses the result: the record and true when found, otherwise the
// zero value and false. Transport errors are indistinguishable from absence here.
func (r Result[T]) Value() (T, bool) {
	if r.Status != StatusFound {
		var zero T
		return zero, false
	}
	return r.Record, true
}
