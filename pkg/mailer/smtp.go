package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/rotisserie/eris"
)

// Transport sends outbound mail. Synchronous, no built-in retry; retry is
// the caller's responsibility.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Option configures the SMTP transport.
type Option func(*smtpTransport)

// WithTimeout sets the dial plus session deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *smtpTransport) {
		t.timeout = d
	}
}

// WithMessageDomain sets the domain used in generated Message-ID headers.
func WithMessageDomain(domain string) Option {
	return func(t *smtpTransport) {
		t.domain = domain
	}
}

type smtpTransport struct {
	host     string
	port     int
	username string
	password string
	domain   string
	timeout  time.Duration
}

// NewSMTP creates an SMTP transport using STARTTLS and PLAIN auth.
func NewSMTP(host string, port int, username, password string, opts ...Option) Transport {
	t := &smtpTransport{
		host:     host,
		port:     port,
		username: username,
		password: password,
		domain:   host,
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *smtpTransport) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return eris.New("mailer: empty recipient")
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "mailer: dial %s", addr)
	}
	// The session deadline covers every subsequent SMTP command.
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return eris.Wrap(err, "mailer: smtp handshake")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return eris.Wrap(err, "mailer: starttls")
		}
	}

	if t.username != "" {
		auth := smtp.PlainAuth("", t.username, t.password, t.host)
		if err := client.Auth(auth); err != nil {
			return eris.Wrap(err, "mailer: auth")
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return eris.Wrap(err, "mailer: mail from")
	}
	if err := client.Rcpt(msg.To); err != nil {
		return eris.Wrapf(err, "mailer: rcpt %s", msg.To)
	}

	w, err := client.Data()
	if err != nil {
		return eris.Wrap(err, "mailer: data")
	}
	if _, err := w.Write([]byte(msg.render(t.domain, time.Now()))); err != nil {
		return eris.Wrap(err, "mailer: write body")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "mailer: close data")
	}

	return eris.Wrap(client.Quit(), "mailer: quit")
}
