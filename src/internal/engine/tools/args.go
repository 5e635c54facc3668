package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/cast"
)

var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports arguments the model got wrong. Its text goes back
// to the model as the tool result.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Args is the decoded, typed argument set of one tool call.
type Args interface {
	Tool() string
	Validate() error
}

type SendSMSArgs struct {
	RecipientName string `json:"recipient_name"`
	Message       string `json:"message"`
}

type SendEmailArgs struct {
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
}

type SearchWebArgs struct {
	Query string `json:"query"`
}

type CreateReminderArgs struct {
	Title              string `json:"title"`
	Notes              string `json:"notes"`
	DueDate            string `json:"due_date"`
	IsRecurring        bool   `json:"is_recurring"`
	RecurrenceInterval string `json:"recurrence_interval"`
}

type CreateCalendarEventArgs struct {
	Title     string `json:"title"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Location  string `json:"location"`
	Notes     string `json:"notes"`
}

type GetCalendarEventsArgs struct {
	SearchQuery string `json:"search_query"`
	DaysAhead   int    `json:"days_ahead"`
}

// UpdateCalendarEventArgs keeps nil for fields the model did not send.
type UpdateCalendarEventArgs struct {
	EventID   string  `json:"event_id"`
	Title     *string `json:"title"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Location  *string `json:"location"`
	Notes     *string `json:"notes"`
}

type DeleteCalendarEventArgs struct {
	EventID string `json:"event_id"`
}

type GetContactsArgs struct {
	SearchName string `json:"search_name"`
}

func (*SendSMSArgs) Tool() string             { return SendSMS }
func (*SendEmailArgs) Tool() string           { return SendEmail }
func (*SearchWebArgs) Tool() string           { return SearchWeb }
func (*CreateReminderArgs) Tool() string      { return CreateReminder }
func (*CreateCalendarEventArgs) Tool() string { return CreateCalendarEvent }
func (*GetCalendarEventsArgs) Tool() string   { return GetCalendarEvents }
func (*UpdateCalendarEventArgs) Tool() string { return UpdateCalendarEvent }
func (*DeleteCalendarEventArgs) Tool() string { return DeleteCalendarEvent }
func (*GetContactsArgs) Tool() string         { return GetContacts }

func (a *SendSMSArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.RecipientName, validation.Required),
		validation.Field(&a.Message, validation.Required),
	)
}

func (a *SendEmailArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Subject, validation.Required),
		validation.Field(&a.Body, validation.Required),
		validation.Field(&a.RecipientEmail,
			validation.When(a.RecipientName == "", validation.Required.Error("recipient_name or recipient_email is required")),
			is.EmailFormat),
	)
}

func (a *SearchWebArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Query, validation.Required),
	)
}

func (a *CreateReminderArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Title, validation.Required),
		validation.Field(&a.DueDate,
			validation.When(a.IsRecurring, validation.Required.Error("is required for a recurring reminder")),
			validation.By(isoDate)),
		validation.Field(&a.RecurrenceInterval,
			validation.When(a.IsRecurring, validation.Required),
			validation.In("daily", "weekly", "monthly")),
	)
}

func (a *CreateCalendarEventArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Title, validation.Required),
		validation.Field(&a.StartDate, validation.Required, validation.By(isoDate)),
		validation.Field(&a.EndDate, validation.By(isoDate)),
	)
}

func (a *GetCalendarEventsArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.DaysAhead, validation.Min(0), validation.Max(366)),
	)
}

func (a *UpdateCalendarEventArgs) Validate() error {
	if a.Title == nil && a.StartDate == nil && a.EndDate == nil && a.Location == nil && a.Notes == nil {
		return errors.New("nothing to update: provide at least one of title, start_date, end_date, location, notes")
	}
	return validation.ValidateStruct(a,
		validation.Field(&a.EventID, validation.Required),
		validation.Field(&a.StartDate, validation.By(isoDate)),
		validation.Field(&a.EndDate, validation.By(isoDate)),
	)
}

func (a *DeleteCalendarEventArgs) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.EventID, validation.Required),
	)
}

func (a *GetContactsArgs) Validate() error { return nil }

// Decode parses the JSON arguments of a call into the tool's typed struct.
// Fields are extracted one by one: a missing or mistyped field is left
// empty, it never fails the whole call. Unknown names yield ErrUnknownTool.
func Decode(name, arguments string) (Args, error) {
	if _, ok := Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	f, err := parseFields(arguments)
	if err != nil {
		return nil, &ValidationError{Tool: name, Err: err}
	}

	var args Args
	switch name {
	case SendSMS:
		args = &SendSMSArgs{RecipientName: f.str("recipient_name"), Message: f.str("message")}
	case SendEmail:
		args = &SendEmailArgs{
			Subject:        f.str("subject"),
			Body:           f.str("body"),
			RecipientName:  f.str("recipient_name"),
			RecipientEmail: f.str("recipient_email"),
		}
	case SearchWeb:
		args = &SearchWebArgs{Query: f.str("query")}
	case CreateReminder:
		args = &CreateReminderArgs{
			Title:              f.str("title"),
			Notes:              f.str("notes"),
			DueDate:            f.str("due_date"),
			IsRecurring:        f.boolean("is_recurring"),
			RecurrenceInterval: strings.ToLower(f.str("recurrence_interval")),
		}
	case CreateCalendarEvent:
		args = &CreateCalendarEventArgs{
			Title:     f.str("title"),
			StartDate: f.str("start_date"),
			EndDate:   f.str("end_date"),
			Location:  f.str("location"),
			Notes:     f.str("notes"),
		}
	case GetCalendarEvents:
		args = &GetCalendarEventsArgs{SearchQuery: f.str("search_query"), DaysAhead: f.integer("days_ahead")}
	case UpdateCalendarEvent:
		args = &UpdateCalendarEventArgs{
			EventID:   f.str("event_id"),
			Title:     f.optStr("title"),
			StartDate: f.optStr("start_date"),
			EndDate:   f.optStr("end_date"),
			Location:  f.optStr("location"),
			Notes:     f.optStr("notes"),
		}
	case DeleteCalendarEvent:
		args = &DeleteCalendarEventArgs{EventID: f.str("event_id")}
	case GetContacts:
		args = &GetContactsArgs{SearchName: f.str("search_name")}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if err := args.Validate(); err != nil {
		return nil, &ValidationError{Tool: name, Err: err}
	}
	return args, nil
}

type fields map[string]any

func parseFields(arguments string) (fields, error) {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" || arguments == "null" {
		return fields{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return m, nil
}

func (f fields) str(key string) string {
	s, err := cast.ToStringE(f[key])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (f fields) optStr(key string) *string {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	return &s
}

func (f fields) boolean(key string) bool {
	b, err := cast.ToBoolE(f[key])
	if err != nil {
		return false
	}
	return b
}

func (f fields) integer(key string) int {
	i, err := cast.ToIntE(f[key])
	if err != nil {
		return 0
	}
	return i
}

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 timestamps and the common zone-less ISO-8601
// forms. Zone-less values are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date", s)
}

func isoDate(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case *string:
		if v == nil {
			return nil
		}
		s = *v
	}
	if s == "" {
		return nil
	}
	if _, err := ParseTime(s, time.UTC); err != nil {
		return errors.New("must be an ISO-8601 date such as 2025-12-25T10:00:00Z")
	}
	return nil
}
