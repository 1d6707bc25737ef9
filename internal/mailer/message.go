package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/mailtrack/internal/email"
)

// Render builds the RFC 5322 form of an HTML message
func Render(msg *Message, now time.Time) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), email.ExtractDomainOrDefault(msg.From, "localhost")))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	// Quoted-printable keeps long generated lines under the 998 octet limit
	qp := quotedprintable.NewWriter(&buf)
	qp.Write([]byte(msg.HTML))
	qp.Close()
	buf.WriteString("\r\n")

	return buf.Bytes()
}
