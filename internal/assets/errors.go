package assets

import "fmt"

// Kind classifies a domain error so the RPC layer can map it to a stable
// wire error code independent of the underlying Go error's text, per
// spec.md §7.
type Kind uint8

const (
	// KindNotFound means the requested asset id, path, or artifact hash
	// has no corresponding record.
	KindNotFound Kind = iota
	// KindInvalidArgument means a request's arguments are structurally
	// invalid (wrong id length, path not valid UTF-8).
	KindInvalidArgument
	// KindSchemaError means a decoded wire value used a reserved or
	// unrecognized variant this core does not implement.
	KindSchemaError
	// KindUnavailable means a dependency (store, file source) could not
	// service the request right now; retrying later may succeed.
	KindUnavailable
	// KindInternal covers anything else: corrupted storage, an invariant
	// violated by a bug.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindSchemaError:
		return "schema_error"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the domain error type carried through the core and translated
// to a wire error by internal/rpc. It never embeds a stack trace or
// transport detail.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a domain error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a domain error of the given kind around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NotFound is a convenience constructor for the most common error kind.
func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

// InvalidArgument is a convenience constructor.
func InvalidArgument(msg string) *Error {
	return New(KindInvalidArgument, msg)
}

// KindOf extracts the Kind of err if it is, or wraps, an *Error; otherwise
// it returns KindInternal, treating unclassified errors as internal bugs
// rather than silently defaulting to a lenient kind.
func KindOf(err error) Kind {
	var de *Error
	if ok := asError(err, &de); ok {
		return de.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
