package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
)

// Config describes how to reach and authenticate against one mailbox.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string

	// Security is "tls" (implicit TLS), "starttls" or "insecure".
	Security string

	Mailbox        string
	ConnectTimeout time.Duration
	LockTimeout    time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// lockKey identifies the remote mailbox, so that two managers built from
// the same settings still serialize against each other.
func (c Config) lockKey() string {
	return c.Username + "@" + c.Host + "/" + c.Mailbox
}

type dialFunc func(ctx context.Context, cfg Config) (*imapclient.Client, error)

// Manager opens sessions against one configured mailbox and serializes
// them per mailbox within the process.
type Manager struct {
	cfg  Config
	log  zerolog.Logger
	dial dialFunc

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewManager creates a Manager for cfg. The mailbox defaults to INBOX.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Manager{
		cfg:   cfg,
		log:   logger.With().Str("component", "mailbox").Str("mailbox", cfg.Mailbox).Logger(),
		dial:  dialClient,
		locks: make(map[string]chan struct{}),
	}
}

// Mailbox returns the name of the mailbox sessions select.
func (m *Manager) Mailbox() string {
	return m.cfg.Mailbox
}

// WithSession acquires the mailbox lock, connects, authenticates, selects
// the mailbox and runs fn with the open session. The lock, the logout and
// the connection are released on every exit path, including panics in fn.
//
// timeout bounds the whole session; when it elapses the connection is
// closed, which fails any command in flight. A lock that cannot be taken
// within the configured lock timeout yields ErrLockTimeout.
func (m *Manager) WithSession(
	ctx context.Context,
	timeout time.Duration,
	fn func(Session) error,
) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	release, err := m.acquire(ctx, m.cfg.lockKey())
	if err != nil {
		return err
	}
	defer release()

	client, err := m.dial(ctx, m.cfg)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer func() {
		if stop() {
			if err := client.Logout().Wait(); err != nil {
				m.log.Debug().Err(err).Msg("logout failed")
			}
		}
		_ = client.Close()
	}()

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return &AuthError{
				Username: m.cfg.Username,
				Message:  imapErr.Text,
			}
		}
		return &ConnectError{Addr: m.cfg.addr(), Op: "login", Err: err}
	}

	data, err := client.Select(m.cfg.Mailbox, nil).Wait()
	if err != nil {
		return &ConnectError{Addr: m.cfg.addr(), Op: "select " + m.cfg.Mailbox, Err: err}
	}

	m.log.Debug().
		Uint32("uid_validity", data.UIDValidity).
		Uint32("messages", data.NumMessages).
		Msg("mailbox selected")

	return fn(&imapSession{
		client:      client,
		mailbox:     m.cfg.Mailbox,
		uidValidity: data.UIDValidity,
	})
}

func (m *Manager) lockFor(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

func (m *Manager) acquire(ctx context.Context, key string) (func(), error) {
	ch := m.lockFor(key)

	var expired <-chan time.Time
	if m.cfg.LockTimeout > 0 {
		timer := time.NewTimer(m.cfg.LockTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-expired:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
}

func dialClient(ctx context.Context, cfg Config) (*imapclient.Client, error) {
	addr := cfg.addr()

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Op: "dial", Err: err}
	}

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: cfg.Host},
	}

	var client *imapclient.Client
	switch cfg.Security {
	case "insecure":
		client = imapclient.New(conn, opts)
	case "starttls":
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			_ = conn.Close()
			return nil, &ConnectError{Addr: addr, Op: "starttls", Err: err}
		}
	default:
		tlsConn := tls.Client(conn, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, &ConnectError{Addr: addr, Op: "tls handshake", Err: err}
		}
		client = imapclient.New(tlsConn, opts)
	}

	if err := client.WaitGreeting(); err != nil {
		_ = client.Close()
		return nil, &ConnectError{Addr: addr, Op: "greeting", Err: err}
	}

	return client, nil
}
