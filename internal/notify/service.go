package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

const whenLayout = "Monday, January 2 at 3:04 PM (MST)"

// Service renders scheduling notices and emails them to participants.
type Service struct {
	email     EmailSender
	directory Directory
	logger    *logging.Logger
}

// NewService creates a notification service. A nil sender or directory turns
// every notice into a logged no-op.
func NewService(email EmailSender, directory Directory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, directory: directory, logger: logger}
}

// Notify sends n to each of its recipients that has an address on file.
func (s *Service) Notify(ctx context.Context, n Notice) error {
	if s.email == nil || s.directory == nil {
		s.logger.Debug("notify: email not configured, skipping", "kind", string(n.Kind), "session_id", n.Session.ID)
		return nil
	}
	subject, body, htmlBody, err := render(n)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range n.Recipients() {
		contact, err := s.directory.Lookup(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if contact.Email == "" {
			s.logger.Debug("notify: no email on file", "user_id", id, "kind", string(n.Kind))
			continue
		}
		msg := EmailMessage{To: contact.Email, ToName: contact.Name, Subject: subject, Body: body, HTML: htmlBody, Category: string(n.Kind)}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", "error", err, "user_id", id, "kind", string(n.Kind))
			errs = append(errs, err)
			continue
		}
		s.logger.Info("notify: email sent", "user_id", id, "kind", string(n.Kind), "session_id", n.Session.ID)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errs[0])
	}
	return nil
}

func render(n Notice) (subject, body, htmlBody string, err error) {
	when := n.localStart().Format(whenLayout)
	lines := []string{}
	switch n.Kind {
	case KindBookingConfirmation:
		subject = "Your therapy session is booked"
		lines = append(lines, fmt.Sprintf("Your %s session is booked for %s.", n.Session.Type, when),
			fmt.Sprintf("Duration: %d minutes", n.Session.DurationMinutes))
	case KindCancellation:
		subject = "Therapy session cancelled"
		lines = append(lines, fmt.Sprintf("The session scheduled for %s has been cancelled.", when))
		if c := n.Session.Cancellation; c != nil {
			lines = append(lines, "Reason: "+strings.ReplaceAll(string(c.Reason), "_", " "))
		}
	case KindReschedule:
		subject = "Therapy session rescheduled"
		if n.Previous != nil {
			lines = append(lines, fmt.Sprintf("The session on %s has moved.", Notice{Session: *n.Previous}.localStart().Format(whenLayout)))
		}
		lines = append(lines, fmt.Sprintf("New time: %s", when))
	case KindExtension:
		subject = "Your session has been extended"
		if n.Extension == nil {
			return "", "", "", fmt.Errorf("notify: extension notice without extension details")
		}
		lines = append(lines,
			fmt.Sprintf("Your therapist extended the session by %d minutes.", n.Extension.Extension.Minutes),
			fmt.Sprintf("Extensions remaining: %d", n.Extension.Remaining))
	case KindReminderDay:
		subject = "Reminder: therapy session tomorrow"
		lines = append(lines, fmt.Sprintf("Your session starts %s.", when))
	case KindReminderHour:
		subject = "Reminder: therapy session in one hour"
		lines = append(lines, fmt.Sprintf("Your session starts %s.", when))
		if n.Session.Meeting.Link != "" {
			lines = append(lines, "Join link: "+n.Session.Meeting.Link)
		}
	default:
		return "", "", "", fmt.Errorf("notify: unknown notice kind %q", n.Kind)
	}

	body = strings.Join(lines, "\n")
	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, `<h2 style="color: #2563eb;">%s</h2>`, subject)
	for _, l := range lines {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(l))
	}
	b.WriteString(`</div>`)
	return subject, body, b.String(), nil
}
