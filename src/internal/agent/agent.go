package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nudge/src/internal/config"
	"nudge/src/internal/engine"
	"nudge/src/internal/reminders"
	"nudge/src/internal/session"
	"nudge/src/internal/storage"
)

// urgentInPrompt is how many active reminders are listed in the system prompt.
const urgentInPrompt = 5

type Agent struct {
	Config     *config.Config
	SessionMgr *session.SessionManager `json:"-"`
	Storage    *storage.Storage        `json:"-"`
	Reminders  *reminders.Service      `json:"-"`
	Eng        engine.Engine           `json:"-"`
}

func NewAgent(cfg *config.Config, sm *session.SessionManager, st *storage.Storage, svc *reminders.Service, eng engine.Engine) *Agent {
	return &Agent{
		Config:     cfg,
		SessionMgr: sm,
		Storage:    st,
		Reminders:  svc,
		Eng:        eng,
	}
}

func (a *Agent) PrimaryModel() string {
	return a.Config.Agents.Defaults.Model.Primary
}

// SystemPrompt is the persona followed by the current time and the owner's
// most urgent reminders.
func (a *Agent) SystemPrompt(ctx context.Context, ownerID string) string {
	soul, err := a.Storage.GetSoul()
	if err != nil {
		slog.Warn("failed to read soul, continuing without it", "error", err)
	}

	now := a.Reminders.Now()
	loc := a.Reminders.Location()
	var b strings.Builder
	b.WriteString(strings.TrimSpace(soul))
	fmt.Fprintf(&b, "\n\nCurrent time: %s (%s).", now.In(loc).Format("Monday, January 2 2006 15:04"), loc)
	b.WriteString("\nWhen calling tools, write dates as ISO-8601; dates without a zone are read in that timezone.")

	views, err := a.Reminders.Views(ctx, ownerID)
	if err != nil {
		slog.Warn("failed to load reminders for prompt", "owner", ownerID, "error", err)
		return b.String()
	}
	if len(views.Active) == 0 {
		b.WriteString("\nThe user has no open reminders.")
		return b.String()
	}
	b.WriteString("\n\nThe user's most urgent open reminders:\n")
	for i, t := range views.Active {
		if i == urgentInPrompt {
			fmt.Fprintf(&b, "- ...and %d more\n", len(views.Active)-urgentInPrompt)
			break
		}
		b.WriteString("- " + t.Title)
		if t.Due != nil {
			b.WriteString(", due " + t.Due.In(loc).Format("Mon Jan 2 15:04"))
		}
		switch {
		case reminders.IsOverdue(t, now):
			b.WriteString(" (overdue)")
		case reminders.IsDueSoon(t, now):
			b.WriteString(" (due soon)")
		}
		if t.Priority != reminders.PriorityNone {
			b.WriteString(", " + string(t.Priority) + " priority")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// DelegatePrompt runs one turn for ownerID. Turns of the same owner are
// serialized. On ErrIterationCap and ErrBackend the result still carries
// the fallback answer.
func (a *Agent) DelegatePrompt(ctx context.Context, ownerID, prompt string, progress func(string)) (*engine.Result, error) {
	if ownerID == "" {
		ownerID = session.DefaultSessionID
	}
	sess := a.SessionMgr.GetOrCreate(ownerID)
	end := sess.BeginTurn()
	defer end()

	start := time.Now()
	res, err := a.Eng.Respond(ctx, engine.Turn{
		OwnerID:  ownerID,
		System:   a.SystemPrompt(ctx, ownerID),
		History:  sess.History(),
		Prompt:   prompt,
		Progress: progress,
	})
	if res == nil {
		return nil, err
	}
	sess.AddTokens(uint64(res.Usage.PromptTokens + res.Usage.CompletionTokens))
	if err == nil || errors.Is(err, engine.ErrIterationCap) {
		sess.Append(prompt, res.Answer)
		if saveErr := a.SessionMgr.Save(); saveErr != nil {
			slog.Warn("failed to persist sessions", "error", saveErr)
		}
	}
	slog.Info("turn finished",
		"owner", ownerID,
		"iterations", res.Iterations,
		"tool_calls", res.ToolCalls,
		"tokens", res.Usage.TotalTokens,
		"duration", time.Since(start),
		"error", err)
	return res, err
}
