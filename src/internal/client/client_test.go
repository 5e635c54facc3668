package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/src/internal/api"
	"nudge/src/internal/config"
	"nudge/src/internal/contacts"
	"nudge/src/internal/engine"
	"nudge/src/internal/gateway"
	"nudge/src/internal/llm"
	"nudge/src/internal/reminders"
	"nudge/src/internal/storage"
)

type stubBackend struct{ err error }

func (stubBackend) Name() string { return "stub" }

func (b stubBackend) Generate(_ context.Context, msgs []*schema.Message, _ []*schema.ToolInfo) (*schema.Message, *llm.Usage, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	return schema.AssistantMessage("ok: "+msgs[len(msgs)-1].Content, nil), &llm.Usage{TotalTokens: 2}, nil
}

func newServer(t *testing.T, backend llm.Backend) (*httptest.Server, *gateway.Gateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{StorageDir: t.TempDir()}
	cfg.Server.Key = "k"
	cfg.Agents.MaxIterations = 2
	cfg.Agents.ModelTimeout = time.Second
	cfg.Agents.ToolTimeout = time.Second
	cfg.Reminders.Timezone = "UTC"

	st, err := storage.New(cfg.StorageDir)
	require.NoError(t, err)
	gw, err := gateway.New(context.Background(), cfg, st,
		gateway.WithBackend(backend),
		gateway.WithStore(reminders.NewMemoryStore()),
		gateway.WithContacts(contacts.NewStatic(nil)),
		gateway.WithoutChannels())
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })

	srv := httptest.NewServer(api.NewServer(gw).Handler())
	t.Cleanup(srv.Close)
	return srv, gw
}

func TestPromptAndViews(t *testing.T) {
	srv, gw := newServer(t, stubBackend{})
	c := New(srv.URL+"/", "k", "dana")
	ctx := context.Background()

	reply, err := c.Prompt(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok: hi", reply.Response)
	assert.Equal(t, 2, reply.Usage.TotalTokens)

	task, err := gw.Reminders.Create(ctx, reminders.Task{OwnerID: "dana", Title: "Laundry"})
	require.NoError(t, err)

	views, err := c.Views(ctx)
	require.NoError(t, err)
	require.Len(t, views.Active, 1)
	assert.Equal(t, "Laundry", views.Active[0].Title)

	require.NoError(t, c.Complete(ctx, task.ID))
	views, err = c.Views(ctx)
	require.NoError(t, err)
	assert.Empty(t, views.Active)
	assert.Len(t, views.Completed, 1)

	require.NoError(t, c.Archive(ctx, task.ID))
	assert.Error(t, c.Complete(ctx, "missing"))
}

func TestPromptFallbackAnswer(t *testing.T) {
	srv, _ := newServer(t, stubBackend{err: errors.New("down")})
	reply, err := New(srv.URL, "k", "dana").Prompt(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, engine.FallbackBackend, reply.Response)
	assert.NotEmpty(t, reply.Error)
}

func TestWrongKey(t *testing.T) {
	srv, _ := newServer(t, stubBackend{})
	_, err := New(srv.URL, "wrong", "dana").Views(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid or missing server key")
}
