package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"
)

// Mailer sends a rendered message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	from string
	send func(...*gomail.Message) error
}

// NewSMTPMailer builds a mailer for the relay at host:port. gomail bounds the
// TCP dial at ten seconds; the caller's context bounds the whole exchange.
func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	return &SMTPMailer{from: from, send: gomail.NewDialer(host, port, user, password).DialAndSend}
}

// Send implements Mailer. It returns when ctx is done even if the relay is
// still talking; the connection is left to finish in the background.
func (s *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	done := make(chan error, 1)
	go func() { done <- s.send(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send smtp mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send smtp mail: %w", ctx.Err())
	}
}

// AssignmentData feeds the lead assignment template.
type AssignmentData struct {
	AssigneeName string
	LeadCount    int
	LeadName     string
	LeadPhone    string
}

var assignmentTemplate = template.Must(template.New("assignment").Parse(`<p>Hi {{.AssigneeName}},</p>
{{if eq .LeadCount 1}}<p>A lead has been assigned to you: <strong>{{.LeadName}}</strong> ({{.LeadPhone}}).</p>
{{else}}<p>{{.LeadCount}} leads have been assigned to you.</p>
{{end}}<p>Open your lead list to start calling.</p>`))

// RenderAssignment renders the assignment notification body.
func RenderAssignment(data AssignmentData) (string, error) {
	var body bytes.Buffer
	if err := assignmentTemplate.Execute(&body, data); err != nil {
		return "", fmt.Errorf("render assignment mail: %w", err)
	}
	return body.String(), nil
}
