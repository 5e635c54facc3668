package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"nudge/src/internal/config"
)

var ErrNotLoggedIn = errors.New("whatsapp: not logged in")

type Whatsapp struct {
	mu     sync.Mutex
	cfg    config.WhatsappConfig
	client *whatsmeow.Client
	chatFn ChatFunc
}

func NewWhatsapp(storageDir string, cfg config.WhatsappConfig, chatFn ChatFunc) (*Whatsapp, error) {
	whatsappDir := filepath.Join(storageDir, "whatsapp")
	if err := os.MkdirAll(whatsappDir, 0755); err != nil {
		return nil, fmt.Errorf("create whatsapp dir: %w", err)
	}
	dsn := "file:" + filepath.Join(whatsappDir, "whatsapp.db") + "?_foreign_keys=on"

	ctx := context.Background()
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("connect whatsapp store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	w := &Whatsapp{cfg: cfg, chatFn: chatFn}
	client := whatsmeow.NewClient(deviceStore, nil)
	client.EnableAutoReconnect = true
	client.AddEventHandler(w.handleEvent)
	w.client = client

	// Start client if logged in
	if client.Store.ID != nil {
		go func() {
			if err := client.Connect(); err != nil {
				slog.Error("whatsapp connect failed", "error", err)
			}
		}()
	} else {
		slog.Info("whatsapp not logged in, use the admin enroll endpoint to get a QR code")
	}
	return w, nil
}

func (w *Whatsapp) handleEvent(evt interface{}) {
	v, ok := evt.(*events.Message)
	if !ok || v.Info.IsGroup || v.Info.IsFromMe || w.chatFn == nil {
		return
	}
	prompt := v.Message.GetConversation()
	if prompt == "" {
		prompt = v.Message.GetExtendedTextMessage().GetText()
	}
	if prompt == "" {
		return
	}
	sender := v.Info.Sender.ToNonAD()
	if !admit(w.cfg.Allowlist, w.cfg.Blocklist, sender.String(), sender.User) {
		slog.Debug("whatsapp message ignored", "jid", sender.String())
		return
	}

	slog.Info("whatsapp inbound", "jid", sender.String(), "prompt", preview(prompt, 50))
	ctx := context.Background()
	resp, err := w.chatFn(ctx, sender.User, prompt)
	if err != nil {
		slog.Error("whatsapp chat failed", "jid", sender.String(), "error", err)
	}
	if resp == "" {
		return
	}
	if err := w.Send(ctx, sender.String(), resp); err != nil {
		slog.Error("whatsapp send failed", "jid", sender.String(), "error", err)
	}
}

func (w *Whatsapp) Name() string {
	return "whatsapp"
}

func (w *Whatsapp) Status() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"connected": w.client.IsConnected(),
		"logged_in": w.client.Store.ID != nil,
	}
}

func (w *Whatsapp) Enroll(ctx context.Context) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client.Store.ID != nil {
		if err := client.Logout(ctx); err != nil {
			return fmt.Errorf("whatsapp logout: %w", err)
		}
	}
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp qr channel: %w", err)
	}
	go func() {
		for evt := range qrChan {
			if evt.Event == "success" {
				slog.Info("whatsapp login successful")
				return
			}
			if evt.Event == "code" {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			}
		}
	}()
	return client.Connect()
}

func (w *Whatsapp) ListDevices(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client.Store.ID == nil {
		return nil, ErrNotLoggedIn
	}
	return []string{client.Store.PushName}, nil
}

// Send delivers a text message. target is a full JID or a phone number.
func (w *Whatsapp) Send(ctx context.Context, target string, msg string) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client.Store.ID == nil {
		return ErrNotLoggedIn
	}

	jid, err := ResolveJID(target)
	if err != nil {
		return err
	}
	_, err = client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(msg),
	})
	return err
}

// ResolveJID accepts "user@server" JIDs or phone numbers in any common
// notation ("+1 (555) 010-0000").
func ResolveJID(target string) (types.JID, error) {
	if strings.Contains(target, "@") {
		jid, err := types.ParseJID(target)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid JID %s: %w", target, err)
		}
		return jid, nil
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, target)
	if len(digits) < 6 {
		return types.JID{}, fmt.Errorf("invalid phone number %q", target)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
