package notify

import (
	"context"
	"fmt"
	"net/smtp"
)

// Code delivery channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// CodeSender delivers a verification code out-of-band.
type CodeSender interface {
	SendCode(ctx context.Context, destination, code, channel string) error
}

// SMTPSender delivers email codes over SMTP. SMS delivery is handled by an
// external gateway; this sender rejects the sms channel.
type SMTPSender struct {
	addr string
	from string
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(host string, port int, from string) *SMTPSender {
	return &SMTPSender{addr: fmt.Sprintf("%s:%d", host, port), from: from}
}

// SendCode sends the verification code to the destination address.
func (s *SMTPSender) SendCode(ctx context.Context, destination, code, channel string) error {
	if channel != ChannelEmail {
		return fmt.Errorf("notify: unsupported channel %q", channel)
	}
	msg := []byte("To: " + destination + "\r\n" +
		"From: " + s.from + "\r\n" +
		"Subject: Your verification code\r\n" +
		"\r\n" +
		"Your one-time verification code is " + code + ". It expires shortly.\r\n")
	if err := smtp.SendMail(s.addr, nil, s.from, []string{destination}, msg); err != nil {
		return fmt.Errorf("notify: send code: %w", err)
	}
	return nil
}

var _ CodeSender = (*SMTPSender)(nil)
