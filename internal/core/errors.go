package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeInvalidUsername = "invalid_username"
	ErrCodeUserExists      = "user_exists"
	ErrCodeUserNotFound    = "user_not_found"
	ErrCodeBadCredential   = "bad_credential"
	ErrCodeAlreadyOnline   = "already_online"
	ErrCodeNotOnline       = "not_online"
	ErrCodeRoomNotFound    = "room_not_found"
	ErrCodeRoomExists      = "room_exists"
	ErrCodeInvalidRoomName = "invalid_room_name"
	ErrCodeAlreadyInRoom   = "already_in_room"
	ErrCodeNotOwner        = "not_owner"
	ErrCodeProtectedRoom   = "protected_room"
	ErrCodeEmptyMessage    = "empty_message"
	ErrCodeMessageTooLong  = "message_too_long"
	ErrCodeSelfTarget      = "self_target"
	ErrCodePersistence     = "persistence_error"
)

// ErrNotOnline is returned by session lookups for offline users.
var ErrNotOnline = errors.New("not online")

// Error wraps a code and a human-readable message. The message is what the
// acting client sees in its system notice.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func domainError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Code extracts the domain error code, or "" for non-domain errors.
func Code(err error) string {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return ""
}
