package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charlesng35/postboard/internal/models"
	"github.com/charlesng35/postboard/pkg/mail"
)

const resetMailSubject = "Reset your password"

// MailResetDelivery emails the reset token to the account address. When ResetURL is set
// the token is appended as a "token" query parameter so the user receives a clickable link.
type MailResetDelivery struct {
	Mailer   mail.Mailer
	ResetURL string
}

// NewMailResetDelivery validates the reset link base and builds the delivery.
func NewMailResetDelivery(mailer mail.Mailer, resetURL string) (*MailResetDelivery, error) {
	if mailer == nil {
		return nil, errors.New("reset delivery: mailer is required")
	}
	resetURL = strings.TrimSpace(resetURL)
	if resetURL != "" {
		parsed, err := url.Parse(resetURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("reset delivery: invalid reset url %q", resetURL)
		}
	}
	return &MailResetDelivery{Mailer: mailer, ResetURL: resetURL}, nil
}

// DeliverPasswordReset implements ResetDelivery.
func (d *MailResetDelivery) DeliverPasswordReset(ctx context.Context, user models.PublicUser, token string, expiresAt time.Time) error {
	return d.Mailer.Send(ctx, mail.Message{
		To:      []string{user.Email},
		Subject: resetMailSubject,
		Body:    d.body(user, token, expiresAt),
	})
}

func (d *MailResetDelivery) body(user models.PublicUser, token string, expiresAt time.Time) string {
	var b strings.Builder
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("We received a request to reset the password for your account.\n\n")

	if link := d.link(token); link != "" {
		fmt.Fprintf(&b, "Open this link to choose a new password:\n%s\n\n", link)
	} else {
		fmt.Fprintf(&b, "Use this reset code to choose a new password:\n%s\n\n", token)
	}

	fmt.Fprintf(&b, "The link expires at %s. If you did not ask for a reset you can ignore this email.\n",
		expiresAt.UTC().Format(time.RFC1123))
	return b.String()
}

func (d *MailResetDelivery) link(token string) string {
	if d.ResetURL == "" {
		return ""
	}
	parsed, err := url.Parse(d.ResetURL)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
