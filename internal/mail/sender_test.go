package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestRenderAssignmentSingleLead(t *testing.T) {
	body, err := RenderAssignment(AssignmentData{AssigneeName: "Ravi", LeadCount: 1, LeadName: "Jane <VIP>", LeadPhone: "9998887777"})
	require.NoError(t, err)

	assert.Contains(t, body, "Hi Ravi")
	assert.Contains(t, body, "Jane &lt;VIP&gt;")
	assert.Contains(t, body, "9998887777")
}

func TestRenderAssignmentMany(t *testing.T) {
	body, err := RenderAssignment(AssignmentData{AssigneeName: "Ravi", LeadCount: 12})
	require.NoError(t, err)

	assert.Contains(t, body, "12 leads have been assigned to you")
}

func TestSMTPSendStopsAtDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	mailer := &SMTPMailer{from: "noreply@example.com", send: func(...*gomail.Message) error {
		<-release
		return nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := mailer.Send(ctx, "caller@example.com", "New lead assigned", "<p>hi</p>")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPSendWrapsRelayErrors(t *testing.T) {
	var sent *gomail.Message
	mailer := &SMTPMailer{from: "noreply@example.com", send: func(msgs ...*gomail.Message) error {
		sent = msgs[0]
		return errors.New("relay down")
	}}

	err := mailer.Send(context.Background(), "caller@example.com", "New lead assigned", "<p>hi</p>")
	assert.ErrorContains(t, err, "relay down")
	require.NotNil(t, sent)
	assert.Equal(t, []string{"caller@example.com"}, sent.GetHeader("To"))
}
