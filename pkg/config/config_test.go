package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWebSocketURL(t *testing.T) {
	got, err := WebSocketURL("https://rag.example.com/", "")
	require.NoError(t, err)
	require.Equal(t, "wss://rag.example.com/socket.io/?EIO=4&transport=websocket", got)

	got, err = WebSocketURL("http://127.0.0.1:5000", "/ws")
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:5000/ws", got)

	_, err = WebSocketURL("ftp://example.com", "/ws")
	require.Error(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base-url: http://from-file:8000
request-timeout: 5s
reconnect:
  max-attempts: 3
  base-delay: 250ms
  max-delay: 2s
`), 0o600))

	t.Setenv("DOCCHAT_API_URL", "")
	t.Setenv("NEXT_PUBLIC_RAILWAY_API_URL", "")
	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://from-file:8000", s.BaseURL)
	require.Equal(t, 5*time.Second, s.RequestTimeout)
	require.Equal(t, 3, s.Reconnect.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, s.Reconnect.BaseDelay)
	require.Equal(t, 100, s.MessagePageSize)

	t.Setenv("NEXT_PUBLIC_RAILWAY_API_URL", "https://railway.example.app")
	s, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://railway.example.app", s.BaseURL)

	t.Setenv("DOCCHAT_API_URL", "https://preferred.example.app")
	s, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://preferred.example.app", s.BaseURL)
}

func TestValidate(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())

	s.BaseURL = "not a url"
	require.Error(t, s.Validate())

	s = Default()
	s.RequestTimeout = 0
	require.Error(t, s.Validate())
}

func TestAPIURL(t *testing.T) {
	s := Default()
	s.BaseURL = "https://rag.example.com/"
	require.Equal(t, "https://rag.example.com/chat/ask", s.APIURL("/chat/ask"))
}
