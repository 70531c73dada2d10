package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/gateway"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "LOG_LEVEL: error\nAUTH:\n  JWT_SECRET_KEY: cli-secret\n")

	out, err := execute(t, "--config", path, "token", "--user", "u1", "--name", "Ann")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(strings.TrimSpace(out), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Ann", claims.Identity().Name)

	_, err = execute(t, "--config", path, "token")
	assert.Error(t, err, "--user is required")
}

func TestSendRequiresToken(t *testing.T) {
	path := writeConfig(t, "LOG_LEVEL: error\n")
	_, err := execute(t, "--config", path, "send", "c1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session token")

	_, err = execute(t, "--config", path, "send", "c1")
	assert.Error(t, err, "text is required")
}

func TestSendCommandDeliversMessage(t *testing.T) {
	uploads := t.TempDir()
	base := fmt.Sprintf("LOG_LEVEL: error\nAUTH:\n  JWT_SECRET_KEY: cli-secret\nSTORAGE:\n  LOCAL_PATH: %s\n", uploads)
	cfg, err := config.LoadConfig(writeConfig(t, base))
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	files, err := storage.NewLocalStorageService(cfg.Storage)
	require.NoError(t, err)
	gw := gateway.New(cfg, gateway.Deps{Store: store, Files: files})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, gw.Start(ctx))
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		gw.Close()
	})

	now := time.Now().UTC()
	_, err = store.CreateConversation(ctx, imtypes.Conversation{
		ID:      "c1",
		IsGroup: false,
		Participants: []imtypes.Participant{
			{UserID: "u1", Role: "admin", JoinedAt: now},
			{UserID: "u2", Role: "member", JoinedAt: now},
		},
		CreatedBy: "u1",
		CreatedAt: now,
	})
	require.NoError(t, err)

	token, err := auth.GenerateToken("u1", "Ann", "", cfg.Auth)
	require.NoError(t, err)
	ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	path := writeConfig(t, base+fmt.Sprintf("CLIENT:\n  API_URL: %s\n  WS_URL: %s\n", srv.URL, ws))

	_, err = execute(t, "--config", path, "--token", token, "send", "c1", "hello", "there")
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].SenderID)

	_, err = execute(t, "--config", path, "--token", token, "send", "missing", "hi")
	assert.Error(t, err)
}
