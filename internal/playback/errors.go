package playback

import (
	"errors"
	"fmt"

	"github.com/zsiec/reel/internal/source"
)

// ErrNoMedia is returned by operations that need loaded media.
var ErrNoMedia = errors.New("playback: no media loaded")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("playback: engine closed")

// ErrorCode classifies user-visible playback errors.
type ErrorCode int

const (
	NoError ErrorCode = iota
	ResourceError
	FormatError
	NetworkError
	AccessDeniedError
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case ResourceError:
		return "resource error"
	case FormatError:
		return "format error"
	case NetworkError:
		return "network error"
	case AccessDeniedError:
		return "access denied"
	default:
		return fmt.Sprintf("error(%d)", int(c))
	}
}

// Error is a playback error reported to the application.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("playback: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("playback: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// openError classifies a failure to open media.
func openError(err error) *Error {
	code := ResourceError
	switch {
	case errors.Is(err, source.ErrAccessDenied):
		code = AccessDeniedError
	case errors.Is(err, source.ErrNetwork):
		code = NetworkError
	case errors.Is(err, source.ErrInvalidData), errors.Is(err, source.ErrUnknownFormat),
		errors.Is(err, source.ErrUnsupportedScheme):
		code = FormatError
	}
	return &Error{Code: code, Message: "could not open media", Err: err}
}
