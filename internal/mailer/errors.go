package mailer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
)

// DispatchError is returned for every failed send
type DispatchError struct {
	Temporary bool
	Message   string
	Err       error
}

func (e *DispatchError) Error() string {
	return e.Message
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func permanent(err error, format string, args ...any) *DispatchError {
	return &DispatchError{Message: fmt.Sprintf(format, args...), Err: err}
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError determines if a relay error is temporary or permanent
func categorizeError(err error, stage string) *DispatchError {
	de := &DispatchError{
		Temporary: true,
		Message:   fmt.Sprintf("%s failed: %v", stage, err),
		Err:       err,
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		de.Temporary = smtpErr.Code < 500
		return de
	}

	if matches := smtpCodePattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		de.Temporary = !strings.HasPrefix(matches[1], "5")
	}
	return de
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}
