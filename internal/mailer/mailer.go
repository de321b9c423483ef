package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"

	"eventpulse/internal/dto"
)

type Config struct {
	Host     string
	Port     string
	From     string
	Password string
}

// SendEngagementEmail renders one of the known templates and sends it over
// SMTP. Unknown templates are skipped without error so stale pipeline
// messages never wedge the worker.
func SendEngagementEmail(log *zerolog.Logger, cfg Config, eventName, template, recipient string, level int) error {
	var subject, body string
	switch template {
	case dto.MailRegistrationConfirmed:
		subject = "Your registration is confirmed"
		body = fmt.Sprintf("Hello!\n\nYour registration for \"%s\" is confirmed.\nSee you there!", eventName)
	case dto.MailRegistrationPending:
		subject = "Your registration is pending approval"
		body = fmt.Sprintf("Hello!\n\nYour registration for \"%s\" was received and is waiting for organizer approval.\nWe will let you know once it is confirmed.", eventName)
	case dto.MailLevelUp:
		subject = fmt.Sprintf("You reached level %d", level)
		body = fmt.Sprintf("Hello!\n\nYour engagement at \"%s\" just pushed you to level %d. Keep it up!", eventName, level)
	default:
		log.Warn().Str("template", template).Msg("unknown mail template, skipping")
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		cfg.From, recipient, subject, body,
	)

	addr := cfg.Host + ":" + cfg.Port
	auth := smtp.PlainAuth("", cfg.From, cfg.Password, cfg.Host)

	if err := smtp.SendMail(addr, auth, cfg.From, []string{recipient}, []byte(msg)); err != nil {
		log.Warn().Msgf("failed to send email to %s: %v", recipient, err)
		return fmt.Errorf("send email: %w", err)
	}

	log.Info().Msgf("email sent to %s (template: %s)", recipient, template)
	return nil
}
