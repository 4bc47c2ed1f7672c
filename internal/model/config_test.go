package model_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
	assert.Equal(t, "tls", cfg.IMAP.Security)
	assert.Equal(t, 72*time.Hour, cfg.Sync.DefaultLookback)
	assert.Equal(t, time.Hour, cfg.Sync.Cushion)
	assert.Equal(t, 6*time.Second, cfg.Classifier.Remote.Timeout)
	assert.Equal(t, 3, cfg.Draft.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.Draft.RateWindow)
	assert.Equal(t, 10, cfg.Sync.RemoteCap)
	assert.True(t, cfg.Sync.MarkSeen)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
imap:
  host: imap.example.com
  username: shop@example.com
sync:
  limit: 40
  default_lookback: 24h
classifier:
  important_senders: ["vip.example.com"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("INBOXSYNC_SYNC_CHUNK_SIZE", "4")

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.IMAP.Host)
	assert.Equal(t, 40, cfg.Sync.Limit)
	assert.Equal(t, 4, cfg.Sync.ChunkSize)
	assert.Equal(t, 24*time.Hour, cfg.Sync.DefaultLookback)
	assert.Equal(t, []string{"vip.example.com"}, cfg.Classifier.ImportantSenders)
}

func TestLoadConfig_RejectsBadScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  scope: recent\n"), 0o600))

	_, err := model.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.scope")
}

func TestSelectedMailbox(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.IMAPConfig
		want string
	}{
		{"default", model.IMAPConfig{}, "INBOX"},
		{"configured", model.IMAPConfig{Mailbox: "Support"}, "Support"},
		{"gmail all mail", model.IMAPConfig{Host: "imap.gmail.com", GmailAllMail: true}, "[Gmail]/All Mail"},
		{"all mail ignored elsewhere", model.IMAPConfig{Host: "imap.example.com", GmailAllMail: true, Mailbox: "INBOX"}, "INBOX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.SelectedMailbox())
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := model.LoadConfig("")
	require.NoError(t, err)
	cfg.IMAP.Host = "mail.example.org"

	require.NoError(t, model.SaveConfig(path, cfg))

	loaded, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.org", loaded.IMAP.Host)
}
