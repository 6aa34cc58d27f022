package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusAndMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"forbidden", ErrForbidden, http.StatusForbidden, "Forbidden"},
		{"wrapped forbidden", fmt.Errorf("add message: %w", ErrForbidden), http.StatusForbidden, "Forbidden"},
		{"missing user", ErrUserDoesNotExist, http.StatusBadRequest, "This user does not exist"},
		{"self chat", ErrSelfChatNotSupported, http.StatusBadRequest, "You cannot chat with yourself"},
		{"invalid fields", ErrInvalidFields, http.StatusBadRequest, "Invalid fields"},
		{"bad login", ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
		{"store failure", fmt.Errorf("insert room: %w", errors.New("connection refused")), http.StatusInternalServerError, "Server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.status {
				t.Errorf("Status() = %d, want %d", got, tt.status)
			}
			if got := Message(tt.err); got != tt.message {
				t.Errorf("Message() = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	if !Known(fmt.Errorf("x: %w", ErrIsAlreadyMember)) {
		t.Error("wrapped ErrIsAlreadyMember should be known")
	}
	if Known(errors.New("pq: relation does not exist")) {
		t.Error("store error should not be known")
	}
}
