package tracking

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the type of a tracking event
type Kind string

const (
	KindOpen  Kind = "open"
	KindClick Kind = "click"
	KindSent  Kind = "sent"
)

// TimeLayout is the timestamp layout used in log lines
const TimeLayout = "2006-01-02 15:04:05"

// Unknown is recorded when the client omits a header
const Unknown = "Unknown"

// Event is a single tracking record
type Event struct {
	Kind       Kind
	TrackingID ID
	Time       time.Time // Local wall clock
	ClientIP   string
	UserAgent  string
	Referer    string
	Recipient  string // Only set for KindSent
}

// NewOpen creates an open event stamped with the current time
func NewOpen(id ID, ip, userAgent, referer string) Event {
	return newClientEvent(KindOpen, id, ip, userAgent, referer)
}

// NewClick creates a click event stamped with the current time
func NewClick(id ID, ip, userAgent, referer string) Event {
	return newClientEvent(KindClick, id, ip, userAgent, referer)
}

// NewSent creates a sent event stamped with the current time
func NewSent(id ID, recipient string) Event {
	return Event{
		Kind:       KindSent,
		TrackingID: id,
		Time:       time.Now(),
		Recipient:  recipient,
	}
}

func newClientEvent(kind Kind, id ID, ip, userAgent, referer string) Event {
	if userAgent == "" {
		userAgent = Unknown
	}
	if referer == "" {
		referer = Unknown
	}
	return Event{
		Kind:       kind,
		TrackingID: id,
		Time:       time.Now(),
		ClientIP:   ip,
		UserAgent:  userAgent,
		Referer:    referer,
	}
}

// Line formats the event as a newline-terminated log line. Control
// characters in client supplied fields are escaped so an event always
// occupies exactly one line.
func (e Event) Line() string {
	ts := e.Time.Format(TimeLayout)
	id := escapeField(e.TrackingID.String())
	switch e.Kind {
	case KindOpen:
		return fmt.Sprintf("PIXEL | ID: %s | Fecha: %s | IP: %s | Navegador: %s | Referer: %s\n",
			id, ts, escapeField(e.ClientIP), escapeField(e.UserAgent), escapeField(e.Referer))
	case KindClick:
		return fmt.Sprintf("ENLACE | ID: %s | Fecha: %s | IP: %s | Navegador: %s | Referer: %s\n",
			id, ts, escapeField(e.ClientIP), escapeField(e.UserAgent), escapeField(e.Referer))
	case KindSent:
		return fmt.Sprintf("Email enviado a: %s | ID: %s | Fecha: %s\n", escapeField(e.Recipient), id, ts)
	default:
		return fmt.Sprintf("%s | ID: %s | Fecha: %s\n", escapeField(string(e.Kind)), id, ts)
	}
}

func escapeField(s string) string {
	if !strings.ContainsFunc(s, isControl) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case isControl(r):
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f || r == '\u2028' || r == '\u2029' || (r >= 0x80 && r < 0xa0)
}
