package provider

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPRelay implements the Provider interface over a plain SMTP submission
// relay with SASL PLAIN authentication.
type SMTPRelay struct {
	addr     string
	host     string
	username string
	password string
	from     string
	fromName string
}

// NewSMTPRelay creates an SMTP relay provider from the given configuration.
func NewSMTPRelay(cfg Config) *SMTPRelay {
	return &SMTPRelay{
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		host:     cfg.SMTPHost,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
	}
}

func (s *SMTPRelay) Name() string { return "smtp" }

// Send submits the message to the relay. The relay assigns no message id,
// so the generated Message-ID header doubles as the provider id.
func (s *SMTPRelay) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.host)
	mail := s.buildMail(msg, messageID)

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	if err := smtp.SendMail(s.addr, auth, s.from, []string{msg.Recipient}, bytes.NewReader(mail)); err != nil {
		return nil, &Error{
			Provider: "smtp",
			Message:  err.Error(),
			// SMTP errors carry no reliable permanence signal here;
			// leave them retryable.
			Permanent: false,
		}
	}

	return &DeliveryResult{
		ProviderMessageID: messageID,
		Timestamp:         time.Now(),
		Metadata:          map[string]string{"relay": s.addr},
	}, nil
}

// HealthCheck verifies the relay accepts connections.
func (s *SMTPRelay) HealthCheck(ctx context.Context) error {
	c, err := smtp.Dial(s.addr)
	if err != nil {
		return fmt.Errorf("smtp: health check dial: %w", err)
	}
	defer c.Close()

	if err := c.Noop(); err != nil {
		return fmt.Errorf("smtp: health check noop: %w", err)
	}
	return c.Quit()
}

// buildMail renders the message as an RFC 5322 mail, multipart/alternative
// when both text and HTML bodies are present.
func (s *SMTPRelay) buildMail(msg *Message, messageID string) []byte {
	var buf bytes.Buffer

	from := s.from
	if s.fromName != "" {
		from = mime.QEncoding.Encode("utf-8", s.fromName) + " <" + s.from + ">"
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		boundary := strings.ReplaceAll(uuid.New().String(), "-", "")
		fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.TextBody)
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.HTMLBody)
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case msg.HTMLBody != "":
		fmt.Fprintf(&buf, "Content-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", msg.HTMLBody)
	default:
		fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", msg.TextBody)
	}

	return buf.Bytes()
}
