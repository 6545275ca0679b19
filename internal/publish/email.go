package publish

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/mazen160/go-random"
)

const report_email_send = "email.send"

type SmtpOptions struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

type EmailOptions struct {
	Smtp SmtpOptions
	To   []string
}

// Email sends every post as a message with the card attached, for clubs that
// are followed by mail instead of on X.
type Email struct {
	opts EmailOptions
	tel  telemetry.API
	send func(mail *email.Email, addr string, auth smtp.Auth) error
}

func NewEmail(opts EmailOptions, tel telemetry.API) Email {
	assert.NotEmptyStr(opts.Smtp.Server)
	assert.NotNil(tel)
	return Email{
		opts: opts,
		tel:  telemetry.NewScopedAPI("publish", tel),
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

func (e Email) Publish(ctx context.Context, text string, image []byte) (string, error) {
	id, err := random.String(16)
	if err != nil {
		return "", err
	}
	messageId := fmt.Sprintf("<%s@bidwatch>", id)

	subject, _, _ := strings.Cut(text, "\n")

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("BID Watch <%s>", e.opts.Smtp.From)
	mail.To = e.opts.To
	mail.Subject = subject
	mail.Text = []byte(text)
	mail.Headers.Set("Message-Id", messageId)
	if len(image) > 0 {
		_, err = mail.Attach(bytes.NewReader(image), "card.png", "image/png")
		if err != nil {
			return "", err
		}
	}

	addr := fmt.Sprintf("%s:%d", e.opts.Smtp.Server, e.opts.Smtp.Port)
	var auth smtp.Auth
	if e.opts.Smtp.Username != "" {
		auth = smtp.PlainAuth("", e.opts.Smtp.Username, e.opts.Smtp.Password, e.opts.Smtp.Server)
	}

	err = e.send(mail, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(mail, addr, nil)
	}
	if err != nil {
		e.tel.ReportBroken(report_email_send, err, addr)
		return "", err
	}
	return messageId, nil
}
