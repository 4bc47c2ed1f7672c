package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "shop@example.com"
	testPassword = "hunter2"
)

// startServer runs an in-memory IMAP server and returns a config for it.
func startServer(t *testing.T) Config {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	return Config{
		Host:           host,
		Port:           port,
		Username:       testUser,
		Password:       testPassword,
		Security:       "insecure",
		Mailbox:        "INBOX",
		ConnectTimeout: 5 * time.Second,
		LockTimeout:    time.Second,
	}
}

func appendMessage(t *testing.T, cfg Config, messageID, subject string) {
	t.Helper()

	c, err := imapclient.DialInsecure(cfg.addr(), nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login(cfg.Username, cfg.Password).Wait())

	raw := strings.ReplaceAll(fmt.Sprintf(
		"From: Customer <customer@example.net>\n"+
			"To: shop@example.com\n"+
			"Subject: %s\n"+
			"Message-ID: <%s>\n"+
			"Date: Mon, 12 Oct 2026 09:00:00 +0000\n"+
			"Content-Type: text/plain; charset=utf-8\n"+
			"\n"+
			"Hello there\n", subject, messageID), "\n", "\r\n")

	cmd := c.Append("INBOX", int64(len(raw)), nil)
	_, err = cmd.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, cmd.Close())
	_, err = cmd.Wait()
	require.NoError(t, err)
}

func TestWithSession_SearchFetchMarkSeen(t *testing.T) {
	cfg := startServer(t)
	appendMessage(t, cfg, "one@example.net", "First")
	appendMessage(t, cfg, "two@example.net", "Second")

	m := NewManager(cfg, zerolog.Nop())
	ctx := context.Background()

	err := m.WithSession(ctx, 10*time.Second, func(s Session) error {
		refs, err := s.Search(ctx, Criteria{UnseenOnly: true})
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "INBOX", refs[0].Mailbox)
		assert.NotZero(t, refs[0].UIDValidity)

		metas, err := s.FetchMeta(ctx, refs)
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.False(t, metas[0].Seen)

		raw, err := s.FetchRaw(ctx, refs[0])
		require.NoError(t, err)
		assert.Contains(t, string(raw.Bytes), "Subject: First")

		require.NoError(t, s.MarkSeen(ctx, refs[0]))

		unseen, err := s.Search(ctx, Criteria{UnseenOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []Ref{refs[1]}, unseen)

		found, ok, err := s.FindByMessageID(ctx, "two@example.net")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, refs[1], found)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSession_BadPasswordIsAuthError(t *testing.T) {
	cfg := startServer(t)
	cfg.Password = "wrong"

	called := false
	err := NewManager(cfg, zerolog.Nop()).WithSession(context.Background(), 5*time.Second, func(Session) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.False(t, called)
}

func TestWithSession_UnreachableIsConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())

	m := NewManager(Config{Host: host, Port: port, Security: "insecure", ConnectTimeout: time.Second}, zerolog.Nop())
	err = m.WithSession(context.Background(), 2*time.Second, func(Session) error { return nil })

	require.Error(t, err)
	assert.True(t, IsConnectError(err))
}

func TestWithSession_LockTimeoutFetchesNothing(t *testing.T) {
	cfg := startServer(t)
	cfg.LockTimeout = 50 * time.Millisecond
	m := NewManager(cfg, zerolog.Nop())

	var dials atomic.Int32
	m.dial = func(ctx context.Context, cfg Config) (*imapclient.Client, error) {
		dials.Add(1)
		return dialClient(ctx, cfg)
	}

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.WithSession(context.Background(), 10*time.Second, func(Session) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding

	err := m.WithSession(context.Background(), 10*time.Second, func(Session) error {
		t.Error("second session must not run")
		return nil
	})
	close(done)

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, int32(1), dials.Load())
}

func TestWithSession_ReleasesLockAfterPanic(t *testing.T) {
	cfg := startServer(t)
	m := NewManager(cfg, zerolog.Nop())

	func() {
		defer func() { assert.NotNil(t, recover()) }()
		_ = m.WithSession(context.Background(), 5*time.Second, func(Session) error {
			panic("boom")
		})
	}()

	err := m.WithSession(context.Background(), 5*time.Second, func(Session) error { return nil })
	assert.NoError(t, err)
}

func TestWithSession_CallbackErrorReturned(t *testing.T) {
	cfg := startServer(t)
	sentinel := errors.New("callback failed")

	err := NewManager(cfg, zerolog.Nop()).WithSession(context.Background(), 5*time.Second, func(Session) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestAcquire_ContextCanceled(t *testing.T) {
	m := NewManager(Config{Host: "h", Username: "u"}, zerolog.Nop())
	release, err := m.acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}
