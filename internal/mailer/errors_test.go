package mailer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestDispatchError(t *testing.T) {
	cause := errors.New("connection reset")
	de := &DispatchError{Temporary: true, Message: "DATA failed: connection reset", Err: cause}

	if de.Error() != "DATA failed: connection reset" {
		t.Errorf("Error() = %q", de.Error())
	}
	if !errors.Is(de, cause) {
		t.Error("DispatchError should unwrap to its cause")
	}

	wrapped := fmt.Errorf("send: %w", de)
	var got *DispatchError
	if !errors.As(wrapped, &got) || got != de {
		t.Error("errors.As should find a wrapped DispatchError")
	}
}

func TestIsTemporaryError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"temporary dispatch error", &DispatchError{Temporary: true}, true},
		{"permanent dispatch error", &DispatchError{Temporary: false}, false},
		{"wrapped permanent", fmt.Errorf("x: %w", &DispatchError{}), false},
		{"unknown error", errors.New("unknown"), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTemporaryError(tc.err); got != tc.expected {
				t.Errorf("IsTemporaryError() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTemporary bool
	}{
		{"smtp 550", &smtp.SMTPError{Code: 550, Message: "User unknown"}, false},
		{"smtp 535", &smtp.SMTPError{Code: 535, Message: "Bad credentials"}, false},
		{"smtp 421", &smtp.SMTPError{Code: 421, Message: "Try later"}, true},
		{"text 552", errors.New("552 Mailbox full"), false},
		{"text 450", errors.New("450 Mailbox unavailable"), true},
		{"no code", errors.New("i/o timeout"), true},
		{"code inside word", errors.New("error5501 happened"), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			de := categorizeError(tc.err, "RCPT TO")
			if de.Temporary != tc.wantTemporary {
				t.Errorf("Temporary = %v, want %v", de.Temporary, tc.wantTemporary)
			}
			if !errors.Is(de, tc.err) {
				t.Error("categorized error should wrap the cause")
			}
		})
	}
}
