package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// Relay connection security modes
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// MailConfig contains the SMTP relay used for the email mirror
type MailConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	To       []string
	// Hostname is the EHLO name. STARTTLS sessions always greet as localhost.
	Hostname string
	Timeout  time.Duration
	TLS      string
	// RootCAs verifies the relay certificate; nil uses the system pool
	RootCAs *x509.CertPool
}

// DeliveryError represents a mail delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// MailSender mirrors notifications to email through an SMTP relay
type MailSender struct {
	cfg    MailConfig
	logger *slog.Logger
}

// NewMailSender creates a mail sink
func NewMailSender(cfg MailConfig, logger *slog.Logger) *MailSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	return &MailSender{cfg: cfg, logger: logger}
}

// Name implements Sink
func (m *MailSender) Name() string {
	return "mail"
}

// Deliver implements Sink
func (m *MailSender) Deliver(ctx context.Context, msg Message) error {
	data, err := m.buildMessage(msg)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", m.cfg.Addr, err),
		}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	client, err := m.newClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	if err := client.Mail(m.cfg.From, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	for _, rcpt := range m.cfg.To {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return categorizeError(err, fmt.Sprintf("RCPT TO %s", rcpt))
		}
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()

	m.logger.Debug("notification mailed", "to", m.cfg.To, "kind", msg.Kind)
	return nil
}

// newClient greets the relay over conn using the configured security mode
func (m *MailSender) newClient(conn net.Conn) (*smtp.Client, error) {
	host, _, _ := net.SplitHostPort(m.cfg.Addr)
	tlsConfig := &tls.Config{
		ServerName: host,
		RootCAs:    m.cfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	}

	switch m.cfg.TLS {
	case TLSStartTLS:
		client, err := smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, categorizeError(err, "STARTTLS")
		}
		return client, nil
	case TLSImplicit:
		conn = tls.Client(conn, tlsConfig)
	}

	client := smtp.NewClient(conn)
	if err := client.Hello(m.cfg.Hostname); err != nil {
		client.Close()
		return nil, categorizeError(err, "HELO")
	}
	return client, nil
}

// buildMessage constructs an RFC 5322 message with the image attached
func (m *MailSender) buildMessage(msg Message) ([]byte, error) {
	img, err := os.ReadFile(msg.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}

	var buf bytes.Buffer
	boundary := uuid.New().String()

	buf.WriteString(fmt.Sprintf("From: %s\r\n", m.cfg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(m.cfg.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Title)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), extractDomain(m.cfg.From)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Description, "\n", "\r\n"))
	buf.WriteString("\r\n\r\n")
	buf.WriteString(msg.URL)
	buf.WriteString("\r\n\r\n")
	buf.WriteString(msg.Footer)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: image/jpeg\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n", msg.ImageName()))
	buf.WriteString("\r\n")
	encoded := base64.StdEncoding.EncodeToString(img)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes(), nil
}

// categorizeError determines if an SMTP error is temporary or permanent
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   msg,
		}
	}

	// Network errors are temporary
	return &DeliveryError{
		Temporary: true,
		Message:   msg,
	}
}

func extractDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return "localhost"
}
