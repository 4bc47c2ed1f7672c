package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/tests/testutil"
)

type cliEnv struct {
	dir    string
	config string
	db     string
	vault  *credential.Vault
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		db:     filepath.Join(dir, "data", "inbox.db"),
		vault:  credential.NewVault(keyring.NewArrayKeyring(nil)),
	}
	t.Setenv("INBOXSYNC_STORE_PATH", e.db)
	t.Setenv("INBOXSYNC_LOG_LEVEL", "error")
	return e
}

func (e cliEnv) seed(t *testing.T, msgs ...model.InboundMessage) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(e.db), 0o755))
	testutil.Seed(t, testutil.OpenTestStore(t, e.db), msgs...)
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand("test", e.vault)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func msg(key, subject string, intent model.Intent, at time.Time) model.InboundMessage {
	return model.InboundMessage{
		IdentityKey:   key,
		RemoteMailbox: "INBOX",
		FromAddr:      "ana@example.com",
		Subject:       subject,
		ReceivedAt:    at,
		Intent:        intent,
		ThreadKey:     "t-" + key,
	}
}

func TestList(t *testing.T) {
	e := newCLIEnv(t)
	now := time.Now().UTC()
	e.seed(t,
		msg("mid:1", "Can I book Tuesday?", model.IntentBookService, now.Add(-time.Hour)),
		msg("mid:2", "How much for a deep clean?", model.IntentPriceQuestion, now),
	)

	out, err := e.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Can I book Tuesday?")
	assert.Less(t, bytes.Index([]byte(out), []byte("deep clean")), bytes.Index([]byte(out), []byte("book Tuesday")))

	out, err = e.run(t, "list", "--counts")
	require.NoError(t, err)
	assert.Contains(t, out, "book_service")
	assert.Contains(t, out, "price_question")

	out, err = e.run(t, "list", "--json", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"identity_key": "mid:2"`)
	assert.NotContains(t, out, "mid:1")
}

func TestBackfill(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t, msg("legacy-1", "hello", model.IntentAck, time.Now().UTC()))

	out, err := e.run(t, "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "scanned 1, rekeyed 1")
}

func TestConfigInit(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("INBOXSYNC_IMAP_PASSWORD", "do-not-write")

	out, err := e.run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, e.config)

	data, err := os.ReadFile(e.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunk_size")
	assert.NotContains(t, string(data), "do-not-write")

	_, err = e.run(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = e.run(t, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestRun_RejectsBadScope(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "run", "--scope", "recent")
	assert.Error(t, err)
}

func TestEnvFile(t *testing.T) {
	e := newCLIEnv(t)
	envFile := filepath.Join(e.dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("INBOXSYNC_SYNC_SCOPE=bogus\n"), 0o600))

	t.Cleanup(func() { os.Unsetenv("INBOXSYNC_SYNC_SCOPE") })

	_, err := e.run(t, "--env-file", envFile, "list")
	assert.ErrorContains(t, err, "sync.scope")
}

func TestCredentialStatus(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("INBOXSYNC_DRAFT_MODEL_PROVIDER", "anthropic")
	require.NoError(t, e.vault.Set("imap-password", "app-password"))

	out, err := e.run(t, "credential", "status")
	require.NoError(t, err)
	assert.Regexp(t, `imap password\s+imap-password\s+keyring`, out)
	assert.Regexp(t, `draft api key\s+draft-api-key\s+missing`, out)
	assert.NotContains(t, out, "classifier api key")
	assert.NotContains(t, out, "app-password")
}

func TestCredentialDelete(t *testing.T) {
	e := newCLIEnv(t)
	require.NoError(t, e.vault.Set("imap-password", "app-password"))

	out, err := e.run(t, "credential", "delete", "imap-password")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted imap-password")

	keys, err := e.vault.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
