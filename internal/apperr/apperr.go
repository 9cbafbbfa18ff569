// Package apperr defines the categorized errors the render pipeline reports
// to its callers. Every error carries a machine-readable category and, where
// the user can act on it, a suggestion.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category is the machine-readable error class.
type Category string

const (
	Validation             Category = "VALIDATION"
	CredentialMissing      Category = "CREDENTIAL_MISSING"
	RateLimited            Category = "RATE_LIMITED"
	NoFramesResolved       Category = "NO_FRAMES_RESOLVED"
	NoFramesMaterialized   Category = "NO_FRAMES_MATERIALIZED"
	EncodingFailed         Category = "ENCODING_FAILED"
	EnvironmentUnsupported Category = "ENVIRONMENT_UNSUPPORTED"
	NotFound               Category = "NOT_FOUND"
	Internal               Category = "INTERNAL"
)

// Sentinel errors for errors.Is checks. Each *Error unwraps to the sentinel
// of its category.
var (
	ErrValidation             = errors.New("validation error")
	ErrCredentialMissing      = errors.New("credential missing")
	ErrRateLimited            = errors.New("rate limited")
	ErrNoFramesResolved       = errors.New("no frames resolved")
	ErrNoFramesMaterialized   = errors.New("no frames materialized")
	ErrEncodingFailed         = errors.New("encoding failed")
	ErrEnvironmentUnsupported = errors.New("environment unsupported")
	ErrNotFound               = errors.New("not found")
	ErrInternal               = errors.New("internal error")
)

var sentinels = map[Category]error{
	Validation:             ErrValidation,
	CredentialMissing:      ErrCredentialMissing,
	RateLimited:            ErrRateLimited,
	NoFramesResolved:       ErrNoFramesResolved,
	NoFramesMaterialized:   ErrNoFramesMaterialized,
	EncodingFailed:         ErrEncodingFailed,
	EnvironmentUnsupported: ErrEnvironmentUnsupported,
	NotFound:               ErrNotFound,
	Internal:               ErrInternal,
}

var defaultSuggestions = map[Category]string{
	CredentialMissing:      "Add a Figma personal access token in settings.",
	RateLimited:            "The design tool is rate limiting requests. Wait a few minutes and try again.",
	NoFramesResolved:       "Select at least two frames or link them in the prototype.",
	NoFramesMaterialized:   "None of the frames could be exported. Check that the frames still exist.",
	EncodingFailed:         "Video encoding failed. Check that ffmpeg is installed and configured.",
	EnvironmentUnsupported: "Run in an environment with ffmpeg installed.",
}

var statuses = map[Category]int{
	Validation:             http.StatusBadRequest,
	CredentialMissing:      http.StatusUnauthorized,
	RateLimited:            http.StatusTooManyRequests,
	NoFramesResolved:       http.StatusBadRequest,
	NoFramesMaterialized:   http.StatusBadRequest,
	EncodingFailed:         http.StatusInternalServerError,
	EnvironmentUnsupported: http.StatusServiceUnavailable,
	NotFound:               http.StatusNotFound,
	Internal:               http.StatusInternalServerError,
}

// Error is a categorized failure.
type Error struct {
	Category   Category
	Msg        string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" {
		msg = sentinelFor(e.Category).Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the category sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{sentinelFor(e.Category)}
	}
	return []error{sentinelFor(e.Category), e.Err}
}

// New creates an error with the category's default suggestion.
func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Msg: msg, Suggestion: defaultSuggestions[cat]}
}

// Newf is New with formatting.
func Newf(cat Category, format string, args ...any) *Error {
	return New(cat, fmt.Sprintf(format, args...))
}

// Wrap attaches a category to err.
func Wrap(cat Category, err error, msg string) *Error {
	e := New(cat, msg)
	e.Err = err
	return e
}

// WithSuggestion replaces the suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// CategoryOf returns the category of the first *Error in err's chain, or
// Internal.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Internal
}

// SuggestionOf returns the suggestion of the first *Error in err's chain.
func SuggestionOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}

// HTTPStatus maps a category to the response status code.
func HTTPStatus(cat Category) int {
	if s, ok := statuses[cat]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func sentinelFor(cat Category) error {
	if s, ok := sentinels[cat]; ok {
		return s
	}
	return ErrInternal
}
