package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/repository/memory"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	args := m.Called(to, subject, htmlBody)
	return args.Error(0)
}

func TestAssignmentMailSentToAssignee(t *testing.T) {
	h := newHarness(t)
	mailer := &mockMailer{}
	mailer.On("Send", "caller1@example.com", "New lead assigned", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "Acme") && strings.Contains(body, "9998887777")
	})).Return(nil).Once()

	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, h.store.Users(), mailer, nil).RegisterHandlers(nil)

	err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventLeadAssigned, h.admin.ID, h.caller1.ID, h.now, map[string]any{
		"lead_ids":   []string{"lead-1"},
		"lead_name":  "Acme",
		"lead_phone": "9998887777",
	}))
	require.NoError(t, err)
	mailer.AssertExpectations(t)
}

func TestBulkAssignmentMailSummarises(t *testing.T) {
	h := newHarness(t)
	mailer := &mockMailer{}
	mailer.On("Send", "caller2@example.com", "3 new leads assigned", mock.Anything).Return(nil).Once()

	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, h.store.Users(), mailer, nil).RegisterHandlers(nil)

	err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventLeadAssigned, h.admin.ID, h.caller2.ID, h.now, map[string]any{
		"lead_ids": []string{"a", "b", "c"},
	}))
	require.NoError(t, err)
	mailer.AssertExpectations(t)
}

func TestUnassignmentSendsNoMail(t *testing.T) {
	mailer := &mockMailer{}
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, memory.NewStore().Users(), mailer, nil).RegisterHandlers(nil)

	err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventLeadAssigned})
	require.NoError(t, err)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestMailFailureSurfacesAsPublishError(t *testing.T) {
	h := newHarness(t)
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("relay down"))

	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, h.store.Users(), mailer, nil).RegisterHandlers(nil)

	err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventLeadAssigned, h.admin.ID, h.caller1.ID, h.now, nil))
	assert.ErrorContains(t, err, "relay down")
}
