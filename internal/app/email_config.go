package app

import (
	"strings"
	"time"

	"github.com/charlesng35/postboard/pkg/mail"
)

// EmailConfig controls outbound email.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from"`
	ImplicitTLS bool          `mapstructure:"implicit_tls"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MailSettings converts the SMTP section into mailer settings.
func (c EmailConfig) MailSettings() mail.Settings {
	return mail.Settings{
		Enabled:     c.SMTP.Enabled,
		Host:        strings.TrimSpace(c.SMTP.Host),
		Port:        c.SMTP.Port,
		Username:    strings.TrimSpace(c.SMTP.Username),
		Password:    c.SMTP.Password,
		From:        strings.TrimSpace(c.SMTP.From),
		ImplicitTLS: c.SMTP.ImplicitTLS,
		Timeout:     c.SMTP.Timeout,
	}
}
