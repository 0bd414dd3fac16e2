// Package apperrors is the engine's error taxonomy. Every rejection carries a
// Type (what kind of failure) and a Reason (which rule rejected it), so the
// web layer can render a structured message without string matching.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// TypeValidation indicates malformed input, rejected before any state change.
	TypeValidation ErrorType = "validation"
	// TypeAuthorization indicates karma, self-vote, ownership or rate-limit rejections.
	TypeAuthorization ErrorType = "authorization"
	// TypeAuthentication indicates a missing session or bad credentials.
	TypeAuthentication ErrorType = "authentication"
	// TypeNotFound indicates a missing or deleted target.
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates a transaction that kept conflicting after retries.
	TypeConflict ErrorType = "conflict"
	TypeInternal ErrorType = "internal"
)

// Reason identifies the rule behind a rejection.
type Reason string

const (
	ReasonInvalidInput      Reason = "invalid_input"
	ReasonLoginRequired     Reason = "login_required"
	ReasonBadCredentials    Reason = "bad_credentials"
	ReasonAlreadyAuthor     Reason = "already_author"
	ReasonInsufficientKarma Reason = "insufficient_karma"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonItemNotFound      Reason = "item_not_found"
	ReasonCommentNotFound   Reason = "comment_not_found"
	ReasonUserNotFound      Reason = "user_not_found"
	ReasonNotificationGone  Reason = "notification_not_found"
	ReasonDuplicateURL      Reason = "duplicate_url"
	ReasonEditWindowExpired Reason = "edit_window_expired"
	ReasonNotAuthor         Reason = "not_author"
	ReasonTransient         Reason = "transient"
	ReasonInternal          Reason = "internal"
)

// Error is a structured engine error.
type Error struct {
	Type    ErrorType
	Reason  Reason
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s(%s): %s: %v", e.Type, e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s(%s): %s", e.Type, e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same Type and Reason, so callers can write
// errors.Is(err, apperrors.RateLimited("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Reason == t.Reason
}

// HTTPStatus returns the status code the web layer should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypeAuthorization:
		if e.Reason == ReasonRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		if e.Reason == ReasonDuplicateURL {
			return http.StatusConflict
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds a context field (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Status  string         `json:"status"`
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Reason  Reason         `json:"reason"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Status:  "err",
		Error:   e.Message,
		Type:    e.Type,
		Reason:  e.Reason,
		Context: e.Context,
	}
}

func newError(t ErrorType, r Reason, message string) *Error {
	return &Error{Type: t, Reason: r, Message: message}
}

func Invalid(message string) *Error {
	return newError(TypeValidation, ReasonInvalidInput, message)
}

func LoginRequired() *Error {
	return newError(TypeAuthentication, ReasonLoginRequired, "login required")
}

func BadCredentials() *Error {
	return newError(TypeAuthentication, ReasonBadCredentials, "wrong username or password")
}

func AlreadyAuthor() *Error {
	return newError(TypeAuthorization, ReasonAlreadyAuthor, "you can't vote your own content")
}

func InsufficientKarma(message string) *Error {
	return newError(TypeAuthorization, ReasonInsufficientKarma, message)
}

func RateLimited(message string) *Error {
	return newError(TypeAuthorization, ReasonRateLimited, message)
}

func NotAuthor() *Error {
	return newError(TypeAuthorization, ReasonNotAuthor, "only the author can change this")
}

func EditWindowExpired() *Error {
	return newError(TypeAuthorization, ReasonEditWindowExpired, "the edit window has expired")
}

func ItemNotFound() *Error {
	return newError(TypeNotFound, ReasonItemNotFound, "news not found")
}

func CommentNotFound() *Error {
	return newError(TypeNotFound, ReasonCommentNotFound, "comment not found")
}

func UserNotFound() *Error {
	return newError(TypeNotFound, ReasonUserNotFound, "user not found")
}

func NotificationNotFound() *Error {
	return newError(TypeNotFound, ReasonNotificationGone, "notification not found")
}

// DuplicateURL reports a repost; the existing item id travels in Context["news_id"].
func DuplicateURL(existingID uint) *Error {
	return newError(TypeConflict, ReasonDuplicateURL, "this URL was already submitted recently").
		WithContext("news_id", existingID)
}

func Transient(cause error) *Error {
	e := newError(TypeConflict, ReasonTransient, "concurrent update, please retry")
	e.Cause = cause
	return e
}

func Internal(message string, cause error) *Error {
	e := newError(TypeInternal, ReasonInternal, message)
	e.Cause = cause
	return e
}

// As converts any error into a structured Error. Unknown errors become internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal server error", err)
}

// ReasonOf returns the rejection reason of err, or "" if err is nil.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	return As(err).Reason
}
