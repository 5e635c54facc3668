package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/src/internal/config"
	"nudge/src/internal/contacts"
	"nudge/src/internal/llm"
	"nudge/src/internal/reminders"
	"nudge/src/internal/storage"
)

type echoBackend struct{}

func (echoBackend) Name() string { return "echo" }

func (echoBackend) Generate(_ context.Context, msgs []*schema.Message, _ []*schema.ToolInfo) (*schema.Message, *llm.Usage, error) {
	return schema.AssistantMessage("echo: "+msgs[len(msgs)-1].Content, nil), &llm.Usage{TotalTokens: 1}, nil
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) Name() string { return "fake" }
func (f *fakeChannel) Status() map[string]any { return map[string]any{"connected": true} }
func (f *fakeChannel) Enroll(context.Context) error { return nil }
func (f *fakeChannel) ListDevices(context.Context) ([]string, error) { return []string{"dev"}, nil }
func (f *fakeChannel) Send(_ context.Context, target, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, target+"|"+msg)
	return nil
}

func testConfig(dir string) *config.Config {
	cfg := &config.Config{StorageDir: dir}
	cfg.Agents.MaxIterations = 3
	cfg.Agents.ModelTimeout = time.Second
	cfg.Agents.ToolTimeout = time.Second
	cfg.Reminders.Timezone = "UTC"
	cfg.Reminders.Driver = config.DriverMemory
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, opts ...Option) *Gateway {
	t.Helper()
	st, err := storage.New(cfg.StorageDir)
	require.NoError(t, err)
	opts = append([]Option{
		WithBackend(echoBackend{}),
		WithContacts(contacts.NewStatic(nil)),
		WithoutChannels(),
	}, opts...)
	gw, err := New(context.Background(), cfg, st, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })
	return gw
}

func TestNewWiresAgent(t *testing.T) {
	gw := newTestGateway(t, testConfig(t.TempDir()), WithStore(reminders.NewMemoryStore()))
	res, err := gw.PrimaryAgent.DelegatePrompt(context.Background(), "u1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", res.Answer)
	assert.Len(t, gw.ListSessions(), 1)
	assert.Len(t, gw.Dispatcher.Tools(), 9)
}

func TestSQLiteStoreIsDefaultPath(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Reminders.Driver = config.DriverSQLite
	gw := newTestGateway(t, cfg)
	ctx := context.Background()

	created, err := gw.Reminders.Create(ctx, reminders.Task{OwnerID: "u1", Title: "Water plants"})
	require.NoError(t, err)
	got, err := gw.Reminders.Get(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Water plants", got.Title)
}

func TestAlertsFanOutToOwner(t *testing.T) {
	gw := newTestGateway(t, testConfig(t.TempDir()), WithStore(reminders.NewMemoryStore()))
	mine, cancelMine := gw.SubscribeAlerts("u1")
	defer cancelMine()
	theirs, cancelTheirs := gw.SubscribeAlerts("u2")
	defer cancelTheirs()

	gw.notify(context.Background(), reminders.Alert{TaskID: "t1", OwnerID: "u1", Title: "Stretch"})

	select {
	case a := <-mine:
		assert.Equal(t, "t1", a.TaskID)
	case <-time.After(time.Second):
		t.Fatal("alert not delivered")
	}
	select {
	case a := <-theirs:
		t.Fatalf("alert leaked to another owner: %+v", a)
	default:
	}

	cancelMine()
	cancelMine()
}

func TestAlertRouting(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Notifications.Channel = "fake"
	cfg.Notifications.Target = "owner-phone"
	gw := newTestGateway(t, cfg, WithStore(reminders.NewMemoryStore()))
	fc := &fakeChannel{}
	gw.Channels["fake"] = fc

	ch, who := gw.alertRoute("fake:+15550100")
	assert.Equal(t, "fake", ch)
	assert.Equal(t, "+15550100", who)

	ch, who = gw.alertRoute("default")
	assert.Equal(t, "fake", ch)
	assert.Equal(t, "owner-phone", who)

	// unknown channel prefix falls back to the notification target
	ch, _ = gw.alertRoute("irc:bob")
	assert.Equal(t, "fake", ch)

	gw.notify(context.Background(), reminders.Alert{TaskID: "t1", OwnerID: "fake:+15550100", Title: "Pay rent", Body: "Due today"})
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "+15550100|Reminder: Pay rent\nDue today", fc.sent[0])
}

func TestFormatAlert(t *testing.T) {
	assert.Equal(t, "Reminder: Stretch", FormatAlert(reminders.Alert{Title: "Stretch"}))
	assert.Equal(t, "Reminder: Stretch\nhigh priority", FormatAlert(reminders.Alert{Title: "Stretch", Body: "high priority"}))
}

func TestUnknownChannel(t *testing.T) {
	gw := newTestGateway(t, testConfig(t.TempDir()), WithStore(reminders.NewMemoryStore()))
	assert.Error(t, gw.ChannelSend(context.Background(), "nope", "x", "hi"))
	assert.Contains(t, gw.ChannelStatus("nope"), "error")
}

func TestWithoutAgent(t *testing.T) {
	cfg := testConfig(t.TempDir())
	st, err := storage.New(cfg.StorageDir)
	require.NoError(t, err)
	gw, err := New(context.Background(), cfg, st,
		WithStore(reminders.NewMemoryStore()),
		WithContacts(contacts.NewStatic(nil)),
		WithoutChannels(),
		WithoutAgent())
	require.NoError(t, err)
	defer gw.Close()

	assert.Nil(t, gw.PrimaryAgent)
	out := gw.Dispatcher.Execute(context.Background(), "u1", "create_reminder", `{"title":"Stretch"}`)
	assert.Contains(t, out, `Reminder created: "Stretch"`)
}

func TestRunDeliversDueAlert(t *testing.T) {
	gw := newTestGateway(t, testConfig(t.TempDir()), WithStore(reminders.NewMemoryStore()))
	alerts, cancelSub := gw.SubscribeAlerts("u1")
	defer cancelSub()

	due := time.Now().Add(1500 * time.Millisecond)
	_, err := gw.Reminders.Create(context.Background(), reminders.Task{OwnerID: "u1", Title: "Take pills", Due: &due})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	select {
	case a := <-alerts:
		assert.Equal(t, "Take pills", a.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("alert never fired")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
