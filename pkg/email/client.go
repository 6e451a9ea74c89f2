package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

const (
	headerTag       = "X-Carebook-Tag"
	headerRef       = "X-Carebook-Ref"
	headerRequestID = "X-Request-ID"
)

// Client sends notification mail over SMTP with gomail.
type Client struct {
	cfg    Config
	dialer *gomail.Dialer
}

func NewFromCentral(cfg config.EmailConfig) (*Client, error) {
	return New(FromCentralConfig(cfg))
}

func New(cfg Config) (*Client, error) {
	c := &Client{cfg: cfg}
	if !cfg.Enabled {
		return c, nil
	}
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, fmt.Errorf("%w: smtp host is required when email is enabled", ErrInvalidMessage)
	}

	c.dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	c.dialer.SSL = cfg.SMTPPort == 465
	if cfg.SMTPUseTLS {
		c.dialer.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12}
	}
	return c, nil
}

func (c *Client) Enabled() bool { return c.cfg.Enabled }

func (c *Client) Branding() (appName, baseURL string) { return c.cfg.AppName, c.cfg.BaseURL }

// Send gives up at the SMTP timeout or the context deadline, whichever is
// first. The dial keeps running in the background after a timeout.
func (c *Client) Send(ctx context.Context, m Message) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	msg, err := c.compose(ctx, m)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SMTPTimeout())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.dialer.DialAndSend(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSend, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSend, ctx.Err())
	}
}

func (c *Client) compose(ctx context.Context, m Message) (*gomail.Message, error) {
	msg, err := buildMessage(c.cfg.From, m)
	if err != nil {
		return nil, err
	}
	if rid := reqctx.RequestIDFromContext(ctx); rid != "" {
		msg.SetHeader(headerRequestID, rid)
	}
	return msg, nil
}

func buildMessage(from string, m Message) (*gomail.Message, error) {
	from = strings.TrimSpace(from)
	to := cleanAddrs(m.To)
	subject := strings.TrimSpace(m.Subject)
	switch {
	case from == "":
		return nil, fmt.Errorf("%w: from is required", ErrInvalidMessage)
	case len(to) == 0:
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	case subject == "":
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetDateHeader("Date", time.Now())
	if m.Tag != "" {
		msg.SetHeader(headerTag, m.Tag)
	}
	if m.RefID != "" {
		msg.SetHeader(headerRef, m.RefID)
	}

	text, html := strings.TrimSpace(m.TextBody) != "", strings.TrimSpace(m.HTMLBody) != ""
	switch {
	case text && html:
		msg.SetBody("text/plain", m.TextBody)
		msg.AddAlternative("text/html", m.HTMLBody)
	case html:
		msg.SetBody("text/html", m.HTMLBody)
	case text:
		msg.SetBody("text/plain", m.TextBody)
	default:
		return nil, fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return msg, nil
}

func cleanAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
