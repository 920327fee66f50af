// Package mailer provides the outbound mail transport. The only production
// implementation speaks SMTP with STARTTLS; tests substitute the Transport
// interface.
package mailer

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string

	// DedupeKey, when set, becomes the Message-ID local part. A re-send of
	// the same logical message carries the same Message-ID so downstream
	// mail infrastructure can deduplicate it.
	DedupeKey string
}

// render produces the full RFC 5322 payload for the message. HTML content
// type so the tracking pixel renders.
func (m Message) render(domain string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	if m.DedupeKey != "" {
		fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", m.DedupeKey, domain)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}
