package tools

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

const (
	SendSMS             = "send_sms"
	SendEmail           = "send_email"
	SearchWeb           = "search_web"
	CreateReminder      = "create_reminder"
	CreateCalendarEvent = "create_calendar_event"
	GetCalendarEvents   = "get_calendar_events"
	UpdateCalendarEvent = "update_calendar_event"
	DeleteCalendarEvent = "delete_calendar_event"
	GetContacts         = "get_contacts"
)

const isoDesc = "ISO-8601 date or date-time, e.g. 2025-12-25T10:00:00Z or 2025-12-25"

var catalog = []*schema.ToolInfo{
	{
		Name: SendSMS,
		Desc: "Send a text message to a contact from the user's contact list.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"recipient_name": {Type: schema.String, Desc: "Name of the contact to message", Required: true},
			"message":        {Type: schema.String, Desc: "The text to send", Required: true},
		}),
	},
	{
		Name: SendEmail,
		Desc: "Send an e-mail. Provide either the name of a contact or an explicit address.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"subject":         {Type: schema.String, Desc: "Subject line", Required: true},
			"body":            {Type: schema.String, Desc: "Plain-text body", Required: true},
			"recipient_name":  {Type: schema.String, Desc: "Name of a contact with an e-mail address"},
			"recipient_email": {Type: schema.String, Desc: "Explicit recipient address"},
		}),
	},
	{
		Name: SearchWeb,
		Desc: "Search the web for current information.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "The search query", Required: true},
		}),
	},
	{
		Name: CreateReminder,
		Desc: "Create a reminder for the user, optionally with a due date and a recurrence.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title":        {Type: schema.String, Desc: "Short title of the reminder", Required: true},
			"notes":        {Type: schema.String, Desc: "Additional details"},
			"due_date":     {Type: schema.String, Desc: "When it is due, " + isoDesc},
			"is_recurring": {Type: schema.Boolean, Desc: "Whether the reminder repeats after completion"},
			"recurrence_interval": {
				Type: schema.String,
				Desc: "How often it repeats; required when is_recurring is true",
				Enum: []string{"daily", "weekly", "monthly"},
			},
		}),
	},
	{
		Name: CreateCalendarEvent,
		Desc: "Create an event in the user's calendar. Ends one hour after the start unless end_date is given.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title":      {Type: schema.String, Desc: "Event title", Required: true},
			"start_date": {Type: schema.String, Desc: "Start, " + isoDesc, Required: true},
			"end_date":   {Type: schema.String, Desc: "End, " + isoDesc},
			"location":   {Type: schema.String, Desc: "Where it takes place"},
			"notes":      {Type: schema.String, Desc: "Description"},
		}),
	},
	{
		Name: GetCalendarEvents,
		Desc: "List upcoming calendar events, optionally filtered by a search query.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"search_query": {Type: schema.String, Desc: "Text to look for in event titles and descriptions"},
			"days_ahead":   {Type: schema.Integer, Desc: "How many days ahead to look (default 7)"},
		}),
	},
	{
		Name: UpdateCalendarEvent,
		Desc: "Change an existing calendar event. Only the given fields are modified.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"event_id":   {Type: schema.String, Desc: "ID of the event as returned by get_calendar_events", Required: true},
			"title":      {Type: schema.String, Desc: "New title"},
			"start_date": {Type: schema.String, Desc: "New start, " + isoDesc},
			"end_date":   {Type: schema.String, Desc: "New end, " + isoDesc},
			"location":   {Type: schema.String, Desc: "New location"},
			"notes":      {Type: schema.String, Desc: "New description"},
		}),
	},
	{
		Name: DeleteCalendarEvent,
		Desc: "Delete a calendar event.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"event_id": {Type: schema.String, Desc: "ID of the event as returned by get_calendar_events", Required: true},
		}),
	},
	{
		Name: GetContacts,
		Desc: "Look up people in the user's contact list.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"search_name": {Type: schema.String, Desc: "Part of the name to search for; omit to list everyone"},
		}),
	},
}

// Catalog returns the tool definitions offered to the model. The slice is
// shared; callers must not modify it.
func Catalog() []*schema.ToolInfo {
	return catalog
}

func Lookup(name string) (*schema.ToolInfo, bool) {
	for _, ti := range catalog {
		if ti.Name == name {
			return ti, true
		}
	}
	return nil, false
}

// Spec is a tool definition with its parameters rendered as JSON Schema,
// the shape external clients expect.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func Specs() ([]Spec, error) {
	out := make([]Spec, 0, len(catalog))
	for _, ti := range catalog {
		js, err := ti.ParamsOneOf.ToJSONSchema()
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", ti.Name, err)
		}
		raw, err := json.Marshal(js)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", ti.Name, err)
		}
		out = append(out, Spec{Name: ti.Name, Description: ti.Desc, Parameters: raw})
	}
	return out, nil
}
