package httpapi

import "errors"

// Kind classifies a request-handling failure so a single switch can map it
// to an HTTP status, instead of re-deriving the status ad hoc per handler.
type Kind int

const (
	// KindInvalidPath: the virtual path named an unknown root, escaped its
	// root, or was malformed.
	KindInvalidPath Kind = iota
	// KindSourceMissing: the resolved source file does not exist.
	KindSourceMissing
	// KindCachedFailure: a failure sentinel is cached for this thumbnail.
	KindCachedFailure
	// KindNotMedia: probing the source found no video or audio stream.
	KindNotMedia
	// KindTranscodeError: the job's error marker is present.
	KindTranscodeError
	// KindStartFailed: starting the ffmpeg process itself failed.
	KindStartFailed
	// KindReadinessTimeout: the playlist never appeared in time.
	KindReadinessTimeout
	// KindBadRequest: the request body or query was malformed.
	KindBadRequest
)

// Error pairs a Kind with the underlying cause, so handlers can both log
// detail and respond with a stable status.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// kindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindBadRequest otherwise.
func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBadRequest
}
