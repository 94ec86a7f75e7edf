package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMTPSenderRejectsNonEmailChannels(t *testing.T) {
	sender := NewSMTPSender("127.0.0.1", 1025, "no-reply@helmdesk.local")

	err := sender.SendCode(context.Background(), "+15550001111", "123456", ChannelSMS)
	assert.ErrorContains(t, err, "unsupported channel")

	err = sender.SendCode(context.Background(), "ops@example.com", "123456", "push")
	assert.ErrorContains(t, err, "unsupported channel")
}
