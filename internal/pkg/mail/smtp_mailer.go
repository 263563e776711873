package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/echovoice/echovoice/internal/pkg/env"
)

// SendMail sends an HTML email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendVerificationEmail dispatches the email verification link in the
// background so registration never blocks on SMTP.
func SendVerificationEmail(email, token string) {
	baseURL := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080")
	verificationURL := fmt.Sprintf("%s/api/v1/auth/verify-email?token=%s", baseURL, token)

	body := fmt.Sprintf(`
		<h2>Welcome to EchoVoice!</h2>
		<p>Please click the link below to verify your email address:</p>
		<p><a href="%s">Verify Email</a></p>
		<p>This link will expire in 10 minutes.</p>
		<p>If you didn't request this, please ignore this email.</p>
	`, verificationURL)

	go func() {
		if err := SendMail(email, "Please verify your email address", body); err != nil {
			log.Printf("verification email to %s failed: %v", email, err)
		}
	}()
}
