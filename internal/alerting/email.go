package alerting

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/storage"
)

// SMTP connection security modes.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// EmailOptions configure the SMTP relay.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Security string
	Timeout  time.Duration
	// TLSConfig overrides the default client TLS settings.
	TLSConfig *tls.Config
}

// EmailChannel sends HTML alert mails through an SMTP relay. Sends are not
// retried since a relay may have accepted a message before the failure surfaced.
type EmailChannel struct {
	opts     EmailOptions
	contacts ContactLookup
	logger   zerolog.Logger
}

// NewEmailChannel constructs the email client.
func NewEmailChannel(opts EmailOptions, contacts ContactLookup, logger zerolog.Logger) *EmailChannel {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Security == "" {
		opts.Security = SecurityTLS
	}
	return &EmailChannel{
		opts:     opts,
		contacts: contacts,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return ChannelEmail }

// Send implements Channel.
func (e *EmailChannel) Send(ctx context.Context, p Payload) Result {
	to, err := resolveEndpoint(ctx, e.contacts, p.OwnerID, func(c storage.Contact) string { return c.Email })
	if err != nil {
		return recipientFailure(ChannelEmail, err, "no email address found for user "+p.OwnerID)
	}

	html, err := renderEmailHTML(p)
	if err != nil {
		return failure(ChannelEmail, CategoryUnexpected, "Unexpected error: %v", err)
	}
	msg := buildMessage(e.opts.From, to, emailSubject(p), html)

	if err := e.deliver(ctx, to, msg); err != nil {
		r := smtpFailure(err)
		r.Attempts = 1
		return r
	}

	e.logger.Info().Str("rule_id", p.RuleID).Str("user_id", p.OwnerID).Msg("email notification delivered")
	return success(ChannelEmail, 1)
}

// smtpStage tags which step of the SMTP exchange failed.
type smtpStage string

const (
	stageDial      smtpStage = "dial"
	stageHandshake smtpStage = "handshake"
	stageAuth      smtpStage = "auth"
	stageSend      smtpStage = "send"
)

type smtpError struct {
	stage smtpStage
	err   error
}

func (e *smtpError) Error() string { return fmt.Sprintf("smtp %s: %v", e.stage, e.err) }
func (e *smtpError) Unwrap() error { return e.err }

func (e *EmailChannel) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port))
	dialer := &net.Dialer{Timeout: e.opts.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &smtpError{stage: stageDial, err: err}
	}
	deadline := time.Now().Add(e.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if e.opts.Security == SecurityTLS {
		tlsConn := tls.Client(conn, e.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return &smtpError{stage: stageHandshake, err: err}
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, e.opts.Host)
	if err != nil {
		conn.Close()
		return &smtpError{stage: stageHandshake, err: err}
	}
	defer client.Close()

	if e.opts.Security == SecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return &smtpError{stage: stageHandshake, err: errors.New("server does not support STARTTLS")}
		}
		if err := client.StartTLS(e.tlsConfig()); err != nil {
			return &smtpError{stage: stageHandshake, err: err}
		}
	}

	if e.opts.Username != "" {
		auth := smtp.PlainAuth("", e.opts.Username, e.opts.Password, e.opts.Host)
		if err := client.Auth(auth); err != nil {
			return &smtpError{stage: stageAuth, err: err}
		}
	}

	if err := client.Mail(e.opts.From); err != nil {
		return &smtpError{stage: stageSend, err: err}
	}
	if err := client.Rcpt(to); err != nil {
		return &smtpError{stage: stageSend, err: err}
	}
	w, err := client.Data()
	if err != nil {
		return &smtpError{stage: stageSend, err: err}
	}
	if _, err := w.Write(msg); err != nil {
		return &smtpError{stage: stageSend, err: err}
	}
	if err := w.Close(); err != nil {
		return &smtpError{stage: stageSend, err: err}
	}
	if err := client.Quit(); err != nil {
		e.logger.Debug().Err(err).Msg("smtp quit failed after successful send")
	}
	return nil
}

func (e *EmailChannel) tlsConfig() *tls.Config {
	if e.opts.TLSConfig != nil {
		return e.opts.TLSConfig.Clone()
	}
	return &tls.Config{ServerName: e.opts.Host, MinVersion: tls.VersionTLS12}
}

func smtpFailure(err error) Result {
	var se *smtpError
	if !errors.As(err, &se) {
		return failure(ChannelEmail, CategoryUnexpected, "Unexpected error: %v", err)
	}

	if cat, _ := classifyNetError(se.err); cat == CategoryTimeout {
		return failure(ChannelEmail, CategoryTimeout, "Connection timed out: %v", se.err)
	}
	switch se.stage {
	case stageAuth:
		return failure(ChannelEmail, CategoryAuth, "Authentication failed: %v", se.err)
	case stageDial, stageHandshake:
		return failure(ChannelEmail, CategoryConnectivity, "Connection failed: %v", se.err)
	default:
		return failure(ChannelEmail, CategoryTransport, "Failed to send email: %v", se.err)
	}
}

func buildMessage(from, to, subject, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return []byte(b.String())
}

var _ Channel = (*EmailChannel)(nil)
