package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/lrstanley/girc"

	"nudge/src/internal/config"
)

type IRC struct {
	cfg     config.IRCConfig
	client  *girc.Client
	handler ChatFunc
	mu      sync.RWMutex
}

func NewIRC(cfg config.IRCConfig) *IRC {
	client := girc.New(girc.Config{
		Server:     cfg.Host,
		Port:       cfg.Port,
		Nick:       cfg.Nick,
		User:       cfg.User,
		Name:       cfg.Realname,
		SSL:        cfg.TLS,
		ServerPass: cfg.Password,
	})

	i := &IRC{
		cfg:    cfg,
		client: client,
	}

	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		slog.Info("IRC connected", "server", cfg.Host)
		for _, ch := range cfg.Channels {
			c.Cmd.Join(ch)
		}
	})
	client.Handlers.Add(girc.PRIVMSG, i.onMessage)
	return i
}

func (i *IRC) onMessage(c *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 {
		return
	}
	target := e.Params[0] // channel or nick
	msg := e.Last()

	// In a channel only messages addressed to us ("nudge: ...") count.
	respTarget := target
	if strings.HasPrefix(target, "#") {
		prefix := c.GetNick() + ":"
		if !strings.HasPrefix(msg, prefix) {
			return
		}
		msg = strings.TrimSpace(strings.TrimPrefix(msg, prefix))
	} else {
		respTarget = e.Source.Name
	}

	if !admit(i.cfg.Allowlist, i.cfg.Blocklist, target, e.Source.Name) {
		return
	}

	i.mu.RLock()
	h := i.handler
	i.mu.RUnlock()
	if h == nil {
		return
	}

	go func() {
		resp, err := h(context.Background(), e.Source.Name, msg)
		if err != nil {
			slog.Error("IRC chat failed", "from", e.Source.Name, "error", err)
		}
		for _, line := range strings.Split(resp, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				c.Cmd.Message(respTarget, line)
			}
		}
	}()
}

func (i *IRC) Name() string {
	return "irc"
}

func (i *IRC) Status() map[string]any {
	return map[string]any{
		"connected": i.client.IsConnected(),
		"nick":      i.client.GetNick(),
		"server":    i.cfg.Host,
	}
}

// Enroll (re)connects; IRC has no pairing step.
func (i *IRC) Enroll(ctx context.Context) error {
	go func() {
		if err := i.client.Connect(); err != nil {
			slog.Error("IRC connect error", "error", err)
		}
	}()
	return nil
}

// ListDevices returns the joined channels.
func (i *IRC) ListDevices(ctx context.Context) ([]string, error) {
	return i.cfg.Channels, nil
}

func (i *IRC) Send(ctx context.Context, target string, msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			i.client.Cmd.Message(target, line)
		}
	}
	return nil
}

func (i *IRC) SetMessageHandler(handler ChatFunc) {
	i.mu.Lock()
	i.handler = handler
	i.mu.Unlock()
}

// Run connects and blocks until the connection ends.
func (i *IRC) Run() error {
	return i.client.Connect()
}

func (i *IRC) Close() {
	i.client.Close()
}
