package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nudge/src/internal/agent"
	"nudge/src/internal/calendar"
	"nudge/src/internal/channels"
	"nudge/src/internal/config"
	"nudge/src/internal/contacts"
	"nudge/src/internal/cron"
	"nudge/src/internal/engine"
	"nudge/src/internal/engine/tools"
	"nudge/src/internal/llm"
	"nudge/src/internal/messaging"
	"nudge/src/internal/reminders"
	"nudge/src/internal/session"
	"nudge/src/internal/storage"
	"nudge/src/internal/system"
	"nudge/src/internal/tools/websearch"
)

type Gateway struct {
	Config       *config.Config
	Storage      *storage.Storage
	SessionMgr   *session.SessionManager
	PrimaryAgent *agent.Agent
	Reminders    *reminders.Service
	Alerts       *cron.AlertManager
	Dispatcher   *tools.Dispatcher
	Contacts     *contacts.Directory
	Calendar     *calendar.Adapter
	Channels     map[string]channels.Channel
	Started      time.Time

	taskStore *storage.TaskStore

	subMu   sync.RWMutex
	subs    map[int]alertSub
	nextSub int
}

type alertSub struct {
	owner string
	ch    chan reminders.Alert
}

type options struct {
	backend  llm.Backend
	store    reminders.Store
	calendar calendar.Provider
	search   websearch.Searcher
	contacts *contacts.Directory
	channels bool
	agent    bool
}

type Option func(*options)

// WithBackend replaces the configured language model.
func WithBackend(b llm.Backend) Option { return func(o *options) { o.backend = b } }

// WithStore replaces the configured task store.
func WithStore(s reminders.Store) Option { return func(o *options) { o.store = s } }

func WithCalendar(p calendar.Provider) Option { return func(o *options) { o.calendar = p } }

func WithSearch(s websearch.Searcher) Option { return func(o *options) { o.search = s } }

func WithContacts(d *contacts.Directory) Option { return func(o *options) { o.contacts = d } }

// WithoutChannels skips WhatsApp and IRC even if they are enabled.
func WithoutChannels() Option { return func(o *options) { o.channels = false } }

// WithoutAgent wires tools and reminders only; no model is contacted and
// PrimaryAgent stays nil.
func WithoutAgent() Option { return func(o *options) { o.agent = false } }

func New(ctx context.Context, cfg *config.Config, st *storage.Storage, opts ...Option) (*Gateway, error) {
	o := options{channels: true, agent: true}
	for _, opt := range opts {
		opt(&o)
	}

	gw := &Gateway{
		Config:   cfg,
		Storage:  st,
		Channels: make(map[string]channels.Channel),
		Started:  time.Now(),
		subs:     make(map[int]alertSub),
	}

	var err error
	gw.SessionMgr, err = session.NewPersistentSessionManager(st)
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		if store, err = gw.openTaskStore(); err != nil {
			return nil, err
		}
	}

	gw.Alerts = cron.NewAlertManager(gw.notify)
	gw.Reminders = reminders.NewService(store, gw.Alerts, reminders.WithLocation(cfg.Reminders.Location()))

	provider := o.calendar
	if provider == nil {
		if provider, err = newCalendarProvider(cfg.Tools.Calendar); err != nil {
			gw.Close()
			return nil, err
		}
	}
	gw.Calendar = calendar.NewAdapter(provider)

	gw.Contacts = o.contacts
	if gw.Contacts == nil {
		path := cfg.Tools.ContactsFile
		if path == "" {
			path = filepath.Join(cfg.StorageDir, "contacts.yaml")
		}
		if gw.Contacts, err = contacts.Open(path); err != nil {
			gw.Close()
			return nil, err
		}
	}

	search := o.search
	if search == nil {
		search = websearch.Disabled{}
		if cfg.Tools.WebSearchEnabled {
			search = websearch.NewDuckDuckGo()
		}
	}

	if o.channels {
		gw.initChannels()
	}

	var sms messaging.SMSSender = messaging.Disabled{}
	if wa, ok := gw.Channels["whatsapp"]; ok {
		sms = messaging.NewChannelSMS(wa)
	}
	var email messaging.EmailSender = messaging.Disabled{}
	if cfg.Email.Enabled() {
		email = messaging.NewSMTP(cfg.Email)
	}

	gw.Dispatcher = tools.NewDispatcher(tools.Deps{
		Reminders: gw.Reminders,
		Calendar:  gw.Calendar,
		Search:    search,
		Contacts:  gw.Contacts,
		SMS:       sms,
		Email:     email,
	})

	if !o.agent {
		return gw, nil
	}
	backend := o.backend
	if backend == nil {
		if backend, err = llm.NewFromConfig(ctx, cfg); err != nil {
			gw.Close()
			return nil, err
		}
	}
	orch := engine.NewOrchestrator(backend, gw.Dispatcher, engine.Options{
		MaxIterations: cfg.Agents.MaxIterations,
		HistoryWindow: cfg.Agents.HistoryWindow,
		ModelTimeout:  cfg.Agents.ModelTimeout,
		ToolTimeout:   cfg.Agents.ToolTimeout,
		Debug:         cfg.Agents.Debug,
	})
	gw.PrimaryAgent = agent.NewAgent(cfg, gw.SessionMgr, st, gw.Reminders, orch)
	return gw, nil
}

func (gw *Gateway) openTaskStore() (reminders.Store, error) {
	rc := gw.Config.Reminders
	switch rc.Driver {
	case config.DriverSQLite:
		dsn := rc.DSN
		if dsn == "" {
			dsn = filepath.Join(gw.Config.StorageDir, "reminders.db")
		}
		ts, err := storage.OpenTaskStore(config.DriverSQLite, dsn)
		if err != nil {
			return nil, err
		}
		gw.taskStore = ts
		return ts, nil
	case config.DriverPostgres:
		ts, err := storage.OpenTaskStore(config.DriverPostgres, rc.DSN)
		if err != nil {
			return nil, err
		}
		gw.taskStore = ts
		return ts, nil
	}
	return reminders.NewMemoryStore(), nil
}

func newCalendarProvider(cc config.CalendarConfig) (calendar.Provider, error) {
	switch cc.Provider {
	case config.CalendarGoogle:
		g, err := calendar.NewGoogle(cc.CredentialsFile, cc.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("google calendar: %w", err)
		}
		return g, nil
	case config.CalendarLocal:
		return calendar.NewLocal(), nil
	}
	return nil, nil
}

func (gw *Gateway) initChannels() {
	if gw.Config.Channels.Whatsapp.Enabled {
		ch, err := channels.NewWhatsapp(gw.Config.StorageDir, gw.Config.Channels.Whatsapp, gw.chatFor("whatsapp"))
		if err != nil {
			slog.Warn("failed to initialize whatsapp channel", "error", err)
		} else {
			gw.Channels["whatsapp"] = ch
			slog.Info("whatsapp channel initialized")
		}
	}
	if gw.Config.Channels.IRC.Enabled {
		ch := channels.NewIRC(gw.Config.Channels.IRC)
		ch.SetMessageHandler(gw.chatFor("irc"))
		gw.Channels["irc"] = ch
		slog.Info("irc channel initialized")
	}
}

// chatFor turns inbound channel messages into turns owned by "<channel>:<sender>".
func (gw *Gateway) chatFor(channel string) channels.ChatFunc {
	return func(ctx context.Context, sender, prompt string) (string, error) {
		res, err := gw.PrimaryAgent.DelegatePrompt(ctx, channel+":"+sender, prompt, nil)
		if res == nil {
			return "", err
		}
		if err != nil {
			slog.Warn("channel turn ended with fallback", "channel", channel, "sender", sender, "error", err)
		}
		return res.Answer, nil
	}
}

// Run starts alert scheduling, restores pending alerts and keeps background
// listeners alive until ctx is done.
func (gw *Gateway) Run(ctx context.Context) error {
	gw.Alerts.Start()
	defer gw.Alerts.Stop()

	n, err := gw.Reminders.Rehydrate(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate alerts: %w", err)
	}
	system.LogMemoryUsage("gateway started", "scheduled_alerts", n, "channels", len(gw.Channels))
	defer system.LogMemoryUsage("gateway stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gw.Contacts.Watch(ctx); err != nil {
			slog.Warn("contacts watcher stopped", "error", err)
		}
		return nil
	})
	if irc, ok := gw.Channels["irc"].(*channels.IRC); ok {
		g.Go(func() error {
			if err := irc.Run(); err != nil && ctx.Err() == nil {
				slog.Error("IRC run error", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			irc.Close()
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// Close releases the task store and persists sessions.
func (gw *Gateway) Close() error {
	var errs []error
	if gw.SessionMgr != nil {
		errs = append(errs, gw.SessionMgr.Save())
	}
	if gw.taskStore != nil {
		errs = append(errs, gw.taskStore.Close())
	}
	return errors.Join(errs...)
}

// SubscribeAlerts streams fired alerts for ownerID until cancel is called.
func (gw *Gateway) SubscribeAlerts(ownerID string) (<-chan reminders.Alert, func()) {
	ch := make(chan reminders.Alert, 8)
	gw.subMu.Lock()
	id := gw.nextSub
	gw.nextSub++
	gw.subs[id] = alertSub{owner: ownerID, ch: ch}
	gw.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			gw.subMu.Lock()
			delete(gw.subs, id)
			gw.subMu.Unlock()
			close(ch)
		})
	}
}

func (gw *Gateway) notify(ctx context.Context, a reminders.Alert) {
	gw.subMu.RLock()
	for _, s := range gw.subs {
		if s.owner != a.OwnerID {
			continue
		}
		select {
		case s.ch <- a:
		default:
			slog.Warn("alert subscriber is slow, dropping alert", "task_id", a.TaskID)
		}
	}
	gw.subMu.RUnlock()

	channel, target := gw.alertRoute(a.OwnerID)
	if channel == "" {
		return
	}
	if err := gw.ChannelSend(ctx, channel, target, FormatAlert(a)); err != nil {
		slog.Error("failed to deliver alert", "task_id", a.TaskID, "channel", channel, "error", err)
	}
}

// alertRoute sends alerts of channel users back to them and everything else
// to the configured notification target.
func (gw *Gateway) alertRoute(ownerID string) (channel, target string) {
	if ch, who, ok := strings.Cut(ownerID, ":"); ok {
		if _, exists := gw.Channels[ch]; exists {
			return ch, who
		}
	}
	return gw.Config.Notifications.Channel, gw.Config.Notifications.Target
}

func FormatAlert(a reminders.Alert) string {
	msg := "Reminder: " + a.Title
	if a.Body != "" {
		msg += "\n" + a.Body
	}
	return msg
}

func (gw *Gateway) ChannelStatus(channel string) map[string]any {
	if ch, ok := gw.Channels[channel]; ok {
		return ch.Status()
	}
	return map[string]any{"error": fmt.Sprintf("channel %q not found", channel)}
}

func (gw *Gateway) ChannelEnroll(ctx context.Context, channel string) error {
	if ch, ok := gw.Channels[channel]; ok {
		return ch.Enroll(ctx)
	}
	return fmt.Errorf("channel %q not found", channel)
}

func (gw *Gateway) ChannelListDevices(ctx context.Context, channel string) ([]string, error) {
	if ch, ok := gw.Channels[channel]; ok {
		return ch.ListDevices(ctx)
	}
	return nil, fmt.Errorf("channel %q not found", channel)
}

func (gw *Gateway) ChannelSend(ctx context.Context, channel, device, msg string) error {
	if ch, ok := gw.Channels[channel]; ok {
		return ch.Send(ctx, device, msg)
	}
	return fmt.Errorf("channel %q not found", channel)
}

func (gw *Gateway) ListSessions() []session.Summary {
	return gw.SessionMgr.Summaries()
}
