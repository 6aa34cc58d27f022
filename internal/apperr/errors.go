// Package apperr holds the errors a client is allowed to see.
//
// The message of each error is sent verbatim in HTTP responses and error
// frames, so it must stay human readable and free of internal detail.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidCredentials       = errors.New("Invalid credentials")
	ErrInvalidCredentialsFormat = errors.New("Invalid credentials format")
	ErrUserExists               = errors.New("User already exists")
	ErrUserDoesNotExist         = errors.New("This user does not exist")
	ErrSelfChatNotSupported     = errors.New("You cannot chat with yourself")
	ErrInvalidFileType          = errors.New("Invalid file type")
	ErrInvalidFileHash          = errors.New("Invalid file hash")
	ErrForbidden                = errors.New("Forbidden")
	ErrNotFound                 = errors.New("Not found")
	ErrInvalidFields            = errors.New("Invalid fields")
	ErrIsAlreadyMember          = errors.New("The user is already in this group")
	ErrNewPasswordRepeated      = errors.New("New password should not match the old one")
	ErrInvalidMessage           = errors.New("Invalid message")
	ErrRateLimited              = errors.New("Too many messages")
)

const serverError = "Server error"

var statuses = []struct {
	err    error
	status int
}{
	{ErrForbidden, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidCredentials, http.StatusUnauthorized},
	{ErrInvalidCredentialsFormat, http.StatusBadRequest},
	{ErrUserExists, http.StatusBadRequest},
	{ErrUserDoesNotExist, http.StatusBadRequest},
	{ErrSelfChatNotSupported, http.StatusBadRequest},
	{ErrInvalidFileType, http.StatusBadRequest},
	{ErrInvalidFileHash, http.StatusBadRequest},
	{ErrInvalidFields, http.StatusBadRequest},
	{ErrIsAlreadyMember, http.StatusBadRequest},
	{ErrNewPasswordRepeated, http.StatusBadRequest},
	{ErrInvalidMessage, http.StatusBadRequest},
	{ErrRateLimited, http.StatusTooManyRequests},
}

func lookup(err error) (error, int) {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.err, s.status
		}
	}
	return nil, http.StatusInternalServerError
}

// Status maps err to an HTTP status code. Unknown errors are 500.
func Status(err error) int {
	_, status := lookup(err)
	return status
}

// Message returns the client-facing message for err. Unknown errors never
// leak their text.
func Message(err error) string {
	known, _ := lookup(err)
	if known == nil {
		return serverError
	}
	return known.Error()
}

// Known reports whether err wraps one of the client-facing errors.
func Known(err error) bool {
	known, _ := lookup(err)
	return known != nil
}
