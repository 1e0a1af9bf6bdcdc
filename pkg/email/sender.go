// Package email delivers registration one-time codes over SMTP.
package email

import (
	"fmt"
	"net/smtp"

	"github.com/trustpoll/trustpoll/pkg/utils"
	"go.uber.org/zap"
)

// Sender delivers mail. The SMTP implementation is process-global config;
// tests substitute the interface.
type Sender interface {
	SendOTP(to, code string) error
}

// SMTPSender sends through a single authenticated SMTP relay.
// Environment variables:
//   - SMTP_HOST: relay host (default: "smtp.gmail.com")
//   - SMTP_PORT: relay port (default: "587")
//   - SMTP_EMAIL: sender address, also the auth user (required)
//   - SMTP_PASSWORD: auth password (required)
type SMTPSender struct {
	logger *zap.Logger
	host   string
	port   string
	from   string
	pass   string
}

// NewSMTPSender reads SMTP configuration from the environment.
func NewSMTPSender(logger *zap.Logger) (*SMTPSender, error) {
	s := &SMTPSender{
		logger: logger.Named("email"),
		host:   utils.Env("SMTP_HOST", "smtp.gmail.com"),
		port:   utils.Env("SMTP_PORT", "587"),
		from:   utils.Env("SMTP_EMAIL", ""),
		pass:   utils.Env("SMTP_PASSWORD", ""),
	}
	if s.from == "" || s.pass == "" {
		return nil, fmt.Errorf("SMTP_EMAIL and SMTP_PASSWORD must be set")
	}
	return s, nil
}

// SendOTP mails the registration code.
func (s *SMTPSender) SendOTP(to, code string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: TrustPoll verification code\r\n\r\n"+
		"Your TrustPoll verification code is %s. It expires in 10 minutes.\r\n",
		s.from, to, code)

	auth := smtp.PlainAuth("", s.from, s.pass, s.host)
	addr := s.host + ":" + s.port
	if err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send otp mail: %w", err)
	}
	s.logger.Info("Sent verification code", zap.String("to", to))
	return nil
}

// LogSender writes codes to the log instead of mailing them. Used in
// development when no relay is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) SendOTP(to, code string) error {
	s.Logger.Info("OTP issued (mail delivery disabled)",
		zap.String("to", to),
		zap.String("code", code))
	return nil
}
