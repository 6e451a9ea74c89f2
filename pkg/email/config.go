package email

import (
	"strings"
	"time"

	"github.com/Alijeyrad/carebook_backend/config"
)

const defaultSMTPTimeout = 30 * time.Second

// Config flattens config.EmailConfig. BaseURL has no trailing slash so
// templates can append paths.
type Config struct {
	Enabled bool
	From    string
	AppName string
	BaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPUseTLS   bool
	Timeout      time.Duration
}

func (c Config) SMTPTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultSMTPTimeout
	}
	return c.Timeout
}

func FromCentralConfig(c config.EmailConfig) Config {
	return Config{
		Enabled:      c.Enabled,
		From:         strings.TrimSpace(c.From),
		AppName:      c.AppName,
		BaseURL:      strings.TrimRight(c.BaseURL, "/"),
		SMTPHost:     c.SMTP.Host,
		SMTPPort:     c.SMTP.Port,
		SMTPUsername: c.SMTP.Username,
		SMTPPassword: c.SMTP.Password,
		SMTPUseTLS:   c.SMTP.UseTLS,
		Timeout:      time.Duration(c.SMTP.TimeoutSeconds) * time.Second,
	}
}
