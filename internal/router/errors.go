package router

import "errors"

// Failure kinds recovered at the router boundary. Each maps to exactly one
// apology message.
var (
	ErrAttachmentFetch = errors.New("attachment fetch failed")
	ErrTranscription   = errors.New("transcription failed")
	ErrSessionInit     = errors.New("session init failed")
	ErrProvider        = errors.New("assistant request failed")
	ErrStorage         = errors.New("image storage failed")
)

// Error tags a pipeline failure with its kind. errors.Is matches both the
// kind and the cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// Apology returns the user-facing message for a pipeline failure.
func Apology(err error) string {
	switch {
	case errors.Is(err, ErrAttachmentFetch):
		return MsgAttachmentFetchFailed
	case errors.Is(err, ErrTranscription):
		return MsgTranscriptionFailed
	case errors.Is(err, ErrSessionInit):
		return MsgSessionInitFailed
	case errors.Is(err, ErrStorage):
		return MsgStorageFailed
	default:
		return MsgProviderFailed
	}
}
