package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	googleBaseURL  = "https://www.googleapis.com/calendar/v3"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleScope    = "https://www.googleapis.com/auth/calendar.events"
	tokenLifetime  = 55 * time.Minute
)

type serviceAccount struct {
	Type         string `json:"type"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// Google talks to the Google Calendar v3 REST API with a service account.
type Google struct {
	httpClient *http.Client
	calendarID string
	account    serviceAccount
	baseURL    string
	tokenURL   string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewGoogle(credentialsFile, calendarID string) (*Google, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var acct serviceAccount
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if acct.Type != "service_account" {
		return nil, fmt.Errorf("credentials file must be a service account key (got %q)", acct.Type)
	}
	tokenURL := acct.TokenURI
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	return &Google{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		calendarID: calendarID,
		account:    acct,
		baseURL:    googleBaseURL,
		tokenURL:   tokenURL,
	}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(g.account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   g.account.ClientEmail,
		"scope": googleScope,
		"aud":   g.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if g.account.PrivateKeyID != "" {
		tok.Header["kid"] = g.account.PrivateKeyID
	}
	assertion, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var tr struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	g.accessToken = tr.AccessToken
	g.tokenExpiry = now.Add(tokenLifetime)
	return g.accessToken, nil
}

func (g *Google) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrEventNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("calendar API error (%d)", resp.StatusCode)
	}
	return data, nil
}

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type googleEvent struct {
	ID          string      `json:"id,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	Status      string      `json:"status,omitempty"`
	Start       *googleTime `json:"start,omitempty"`
	End         *googleTime `json:"end,omitempty"`
}

func toGoogleTime(t time.Time) *googleTime {
	return &googleTime{DateTime: t.Format(time.RFC3339)}
}

func parseGoogleTime(gt *googleTime) (time.Time, bool, error) {
	if gt == nil {
		return time.Time{}, false, nil
	}
	if gt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, gt.DateTime)
		return t, false, err
	}
	if gt.Date != "" {
		t, err := time.Parse("2006-01-02", gt.Date)
		return t, true, err
	}
	return time.Time{}, false, nil
}

func (ge googleEvent) event() (Event, error) {
	start, allDay, err := parseGoogleTime(ge.Start)
	if err != nil {
		return Event{}, fmt.Errorf("parse start: %w", err)
	}
	end, _, err := parseGoogleTime(ge.End)
	if err != nil {
		return Event{}, fmt.Errorf("parse end: %w", err)
	}
	return Event{
		ID:       ge.ID,
		Title:    ge.Summary,
		Notes:    ge.Description,
		Location: ge.Location,
		Start:    start,
		End:      end,
		AllDay:   allDay,
	}, nil
}

func (g *Google) eventsPath() string {
	return "/calendars/" + url.PathEscape(g.calendarID) + "/events"
}

func (g *Google) decodeOne(data []byte) (Event, error) {
	var ge googleEvent
	if err := json.Unmarshal(data, &ge); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	return ge.event()
}

func (g *Google) Create(ctx context.Context, in EventInput) (Event, error) {
	data, err := g.request(ctx, http.MethodPost, g.eventsPath(), googleEvent{
		Summary:     in.Title,
		Description: in.Notes,
		Location:    in.Location,
		Start:       toGoogleTime(in.Start),
		End:         toGoogleTime(in.End),
	})
	if err != nil {
		return Event{}, err
	}
	return g.decodeOne(data)
}

func (g *Google) list(ctx context.Context, query string, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("timeMin", from.Format(time.RFC3339))
	q.Set("timeMax", to.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", "50")
	if query != "" {
		q.Set("q", query)
	}
	data, err := g.request(ctx, http.MethodGet, g.eventsPath()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []googleEvent `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		ev, err := item.event()
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (g *Google) Upcoming(ctx context.Context, from, to time.Time) ([]Event, error) {
	return g.list(ctx, "", from, to)
}

func (g *Google) Search(ctx context.Context, query string, from, to time.Time) ([]Event, error) {
	return g.list(ctx, query, from, to)
}

func (g *Google) Update(ctx context.Context, id string, p EventPatch) (Event, error) {
	patch := googleEvent{}
	if p.Title != nil {
		patch.Summary = *p.Title
	}
	if p.Notes != nil {
		patch.Description = *p.Notes
	}
	if p.Location != nil {
		patch.Location = *p.Location
	}
	if p.Start != nil {
		patch.Start = toGoogleTime(*p.Start)
	}
	if p.End != nil {
		patch.End = toGoogleTime(*p.End)
	}
	data, err := g.request(ctx, http.MethodPatch, g.eventsPath()+"/"+url.PathEscape(id), patch)
	if err != nil {
		return Event{}, err
	}
	return g.decodeOne(data)
}

func (g *Google) Delete(ctx context.Context, id string) error {
	_, err := g.request(ctx, http.MethodDelete, g.eventsPath()+"/"+url.PathEscape(id), nil)
	return err
}
