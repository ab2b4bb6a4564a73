package server

import (
	"errors"

	"github.com/npezzotti/go-chatserver/internal/auth"
)

var (
	ErrUnauthenticated   = auth.ErrUnauthenticated
	ErrInvalidCredential = auth.ErrInvalidCredential
	ErrUserNotFound      = auth.ErrUserNotFound

	ErrAccessDenied   = errors.New("access denied")
	ErrInvalidContent = errors.New("invalid content")
	ErrInvalidReply   = errors.New("invalid reply")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrInvalidEmoji   = errors.New("invalid reaction")
	ErrStorage        = errors.New("storage failure")
	ErrNotFound       = errors.New("not found")

	ErrInvalidMessage = errors.New("invalid message format")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

const (
	CodeUnauthenticated   = "unauthenticated"
	CodeInvalidCredential = "invalid_credential"
	CodeUserNotFound      = "user_not_found"
	CodeAccessDenied      = "access_denied"
	CodeInvalidContent    = "invalid_content"
	CodeInvalidReply      = "invalid_reply"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidReaction   = "invalid_reaction"
	CodeStorage           = "storage_error"
	CodeNotFound          = "not_found"
	CodeInvalidMessage    = "invalid_message"
	CodeUnknownEvent      = "unknown_event"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

var errorCodes = []struct {
	err     error
	code    string
	message string
}{
	{ErrUnauthenticated, CodeUnauthenticated, "authentication required"},
	{ErrInvalidCredential, CodeInvalidCredential, "invalid credential"},
	{ErrUserNotFound, CodeUserNotFound, "user not found"},
	{ErrAccessDenied, CodeAccessDenied, "access denied"},
	{ErrInvalidContent, CodeInvalidContent, "message content must be between 1 and 2000 characters"},
	{ErrInvalidReply, CodeInvalidReply, "replied-to message not found"},
	{ErrInvalidStatus, CodeInvalidStatus, "status must be online, away or busy"},
	{ErrInvalidEmoji, CodeInvalidReaction, "reaction is not valid"},
	{ErrStorage, CodeStorage, "failed to save message"},
	{ErrNotFound, CodeNotFound, "not found"},
	{ErrInvalidMessage, CodeInvalidMessage, "invalid message format"},
	{ErrUnknownEvent, CodeUnknownEvent, "unknown event type"},
	{ErrRateLimited, CodeRateLimited, "too many messages, slow down"},
}

// ErrorCode maps an error to the stable code sent to clients.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// NewErrorData builds the payload of an error event. Wrapped causes are
// not exposed to clients.
func NewErrorData(err error) ErrorData {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return ErrorData{Message: e.message, Code: e.code}
		}
	}
	return ErrorData{Message: "internal server error", Code: CodeInternal}
}
