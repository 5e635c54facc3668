package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"nudge/src/internal/calendar"
	"nudge/src/internal/contacts"
	"nudge/src/internal/messaging"
	"nudge/src/internal/reminders"
	"nudge/src/internal/tools/websearch"
)

const defaultDaysAhead = 7

// Reminders is the part of the reminder service the tools need.
type Reminders interface {
	Create(ctx context.Context, t reminders.Task) (reminders.Task, error)
	Location() *time.Location
}

type Calendar interface {
	CreateEvent(ctx context.Context, in calendar.EventInput) (calendar.Event, error)
	FetchUpcoming(ctx context.Context, days int) ([]calendar.Event, error)
	UpdateEvent(ctx context.Context, id string, p calendar.EventPatch) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, id string) (bool, error)
	SearchEvents(ctx context.Context, query string, days int) ([]calendar.Event, error)
}

type Contacts interface {
	Search(query string) []contacts.Contact
	Find(name string) (contacts.Contact, error)
}

// Deps lists the collaborators a Dispatcher talks to. Reminders is
// mandatory; other nil entries are replaced by disabled implementations.
type Deps struct {
	Reminders Reminders
	Calendar  Calendar
	Search    websearch.Searcher
	Contacts  Contacts
	SMS       messaging.SMSSender
	Email     messaging.EmailSender
}

// Dispatcher executes decoded tool calls against their collaborators and
// renders every outcome, including failures, as text for the model.
type Dispatcher struct {
	reminders Reminders
	calendar  Calendar
	search    websearch.Searcher
	contacts  Contacts
	sms       messaging.SMSSender
	email     messaging.EmailSender
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.Calendar == nil {
		d.Calendar = calendar.NewAdapter(nil)
	}
	if d.Search == nil {
		d.Search = websearch.Disabled{}
	}
	if d.Contacts == nil {
		d.Contacts = contacts.NewStatic(nil)
	}
	if d.SMS == nil {
		d.SMS = messaging.Disabled{}
	}
	if d.Email == nil {
		d.Email = messaging.Disabled{}
	}
	return &Dispatcher{
		reminders: d.Reminders,
		calendar:  d.Calendar,
		search:    d.Search,
		contacts:  d.Contacts,
		sms:       d.SMS,
		email:     d.Email,
	}
}

func (d *Dispatcher) Tools() []*schema.ToolInfo { return Catalog() }

// Execute runs one tool call on behalf of ownerID and returns its textual result.
func (d *Dispatcher) Execute(ctx context.Context, ownerID, name, arguments string) string {
	args, err := Decode(name, arguments)
	if err != nil {
		if errors.Is(err, ErrUnknownTool) {
			slog.Warn("model requested unknown tool", "tool", name)
			return fmt.Sprintf("Error: unknown tool %q. Available tools: %s.", name, strings.Join(toolNames(), ", "))
		}
		slog.Info("tool arguments rejected", "tool", name, "error", err)
		return "Error: " + err.Error()
	}

	var out string
	switch a := args.(type) {
	case *SendSMSArgs:
		out, err = d.sendSMS(ctx, a)
	case *SendEmailArgs:
		out, err = d.sendEmail(ctx, a)
	case *SearchWebArgs:
		out, err = d.search.Search(ctx, a.Query)
	case *CreateReminderArgs:
		out, err = d.createReminder(ctx, ownerID, a)
	case *CreateCalendarEventArgs:
		out, err = d.createEvent(ctx, a)
	case *GetCalendarEventsArgs:
		out, err = d.getEvents(ctx, a)
	case *UpdateCalendarEventArgs:
		out, err = d.updateEvent(ctx, a)
	case *DeleteCalendarEventArgs:
		out, err = d.deleteEvent(ctx, a)
	case *GetContactsArgs:
		out = d.getContacts(a)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if err != nil {
		slog.Warn("tool failed", "tool", name, "owner", ownerID, "error", err)
		return "Error: " + describe(err)
	}
	return out
}

func describe(err error) string {
	switch {
	case errors.Is(err, calendar.ErrNotConfigured):
		return "no calendar is connected, so calendar events cannot be read or changed"
	case errors.Is(err, messaging.ErrNotConfigured):
		return "message delivery is not set up for this account"
	case errors.Is(err, websearch.ErrNotConfigured):
		return "web search is turned off"
	case errors.Is(err, context.DeadlineExceeded):
		return "the operation timed out"
	}
	return err.Error()
}

func toolNames() []string {
	names := make([]string, 0, len(catalog))
	for _, ti := range catalog {
		names = append(names, ti.Name)
	}
	return names
}

func (d *Dispatcher) loc() *time.Location {
	return d.reminders.Location()
}

func (d *Dispatcher) sendSMS(ctx context.Context, a *SendSMSArgs) (string, error) {
	c, err := d.contacts.Find(a.RecipientName)
	if err != nil {
		return "", err
	}
	if c.Phone == "" {
		return "", fmt.Errorf("contact %s has no phone number", c.Name)
	}
	if err := d.sms.SendSMS(ctx, c.Phone, a.Message); err != nil {
		return "", err
	}
	return fmt.Sprintf("Message sent to %s (%s).", c.Name, c.Phone), nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, a *SendEmailArgs) (string, error) {
	to, who := a.RecipientEmail, a.RecipientEmail
	if to == "" {
		c, err := d.contacts.Find(a.RecipientName)
		if err != nil {
			return "", err
		}
		if c.Email == "" {
			return "", fmt.Errorf("contact %s has no e-mail address", c.Name)
		}
		to, who = c.Email, c.Name
	}
	if err := d.email.SendEmail(ctx, to, a.Subject, a.Body); err != nil {
		return "", err
	}
	return fmt.Sprintf("E-mail %q sent to %s.", a.Subject, who), nil
}

func (d *Dispatcher) createReminder(ctx context.Context, ownerID string, a *CreateReminderArgs) (string, error) {
	t := reminders.Task{
		OwnerID: ownerID,
		Title:   a.Title,
		Notes:   a.Notes,
		Source:  "assistant",
	}
	if a.DueDate != "" {
		due, err := ParseTime(a.DueDate, d.loc())
		if err != nil {
			return "", err
		}
		due = due.UTC()
		t.Due = &due
	}
	if a.IsRecurring {
		t.Recurrence = &reminders.Recurrence{Enabled: true, Interval: reminders.Interval(a.RecurrenceInterval)}
	}
	created, err := d.reminders.Create(ctx, t)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reminder created: %q (id %s)", created.Title, created.ID)
	if created.Due != nil {
		fmt.Fprintf(&b, ", due %s", created.Due.In(d.loc()).Format("Mon Jan 2 2006 15:04 MST"))
	}
	if created.Recurring() {
		fmt.Fprintf(&b, ", repeats %s", created.Recurrence.Interval)
	}
	b.WriteString(".")
	return b.String(), nil
}

func (d *Dispatcher) createEvent(ctx context.Context, a *CreateCalendarEventArgs) (string, error) {
	start, err := ParseTime(a.StartDate, d.loc())
	if err != nil {
		return "", err
	}
	in := calendar.EventInput{Title: a.Title, Notes: a.Notes, Location: a.Location, Start: start}
	if a.EndDate != "" {
		if in.End, err = ParseTime(a.EndDate, d.loc()); err != nil {
			return "", err
		}
	}
	ev, err := d.calendar.CreateEvent(ctx, in)
	if err != nil {
		return "", err
	}
	return "Event created:\n" + calendar.Format([]calendar.Event{ev}, d.loc()), nil
}

func (d *Dispatcher) getEvents(ctx context.Context, a *GetCalendarEventsArgs) (string, error) {
	days := a.DaysAhead
	if days == 0 {
		days = defaultDaysAhead
	}
	var (
		events []calendar.Event
		err    error
	)
	if a.SearchQuery != "" {
		events, err = d.calendar.SearchEvents(ctx, a.SearchQuery, days)
	} else {
		events, err = d.calendar.FetchUpcoming(ctx, days)
	}
	if err != nil {
		return "", err
	}
	return calendar.Format(events, d.loc()), nil
}

func (d *Dispatcher) updateEvent(ctx context.Context, a *UpdateCalendarEventArgs) (string, error) {
	p := calendar.EventPatch{Title: a.Title, Notes: a.Notes, Location: a.Location}
	for _, f := range []struct {
		raw *string
		dst **time.Time
	}{{a.StartDate, &p.Start}, {a.EndDate, &p.End}} {
		if f.raw == nil || *f.raw == "" {
			continue
		}
		t, err := ParseTime(*f.raw, d.loc())
		if err != nil {
			return "", err
		}
		*f.dst = &t
	}
	ev, err := d.calendar.UpdateEvent(ctx, a.EventID, p)
	if err != nil {
		return "", err
	}
	if ev == nil {
		return "This calendar does not support editing events.", nil
	}
	return "Event updated:\n" + calendar.Format([]calendar.Event{*ev}, d.loc()), nil
}

func (d *Dispatcher) deleteEvent(ctx context.Context, a *DeleteCalendarEventArgs) (string, error) {
	ok, err := d.calendar.DeleteEvent(ctx, a.EventID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "This calendar does not support deleting events.", nil
	}
	return fmt.Sprintf("Event %s deleted.", a.EventID), nil
}

func (d *Dispatcher) getContacts(a *GetContactsArgs) string {
	list := d.contacts.Search(a.SearchName)
	if len(list) == 0 {
		if a.SearchName == "" {
			return "The contact list is empty."
		}
		return fmt.Sprintf("No contacts match %q.", a.SearchName)
	}
	var b strings.Builder
	for _, c := range list {
		b.WriteString("- " + c.Name)
		if c.Phone != "" {
			b.WriteString(", phone " + c.Phone)
		}
		if c.Email != "" {
			b.WriteString(", e-mail " + c.Email)
		}
		if c.Notes != "" {
			b.WriteString(" (" + c.Notes + ")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
