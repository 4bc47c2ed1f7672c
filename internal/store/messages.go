package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

var coreColumns = []string{
	"identity_key", "remote_mailbox", "remote_uid_validity", "remote_uid",
	"message_id", "from_addr", "to_addr", "subject", "body", "body_loaded",
	"received_at", "direction", "intent", "thread_key", "in_reply_to",
	"msg_references", "status", "created_at", "updated_at",
}

// optionalColumns may be absent on databases migrated by older releases.
var optionalColumns = []string{
	"important", "importance_reason", "classified_via", "draft_reply", "draft_updated_at",
}

func selectColumns(withOptional, withBody bool) string {
	cols := make([]string, 0, len(coreColumns)+len(optionalColumns))
	for _, c := range coreColumns {
		if c == "body" && !withBody {
			continue
		}
		cols = append(cols, c)
	}
	if withOptional {
		cols = append(cols, optionalColumns...)
	}
	return strings.Join(cols, ", ")
}

// Insert stores m unless a row with the same identity key exists. It
// reports whether a row was created; an existing key is not an error.
// Only core columns are written here.
func (s *SQLiteStore) Insert(ctx context.Context, m *model.InboundMessage) (bool, error) {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.Direction == "" {
		m.Direction = model.DirectionInbound
	}
	if m.Intent == "" {
		m.Intent = model.IntentGeneralQuestion
	}
	if m.Status == "" {
		m.Status = model.StatusNew
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (
			identity_key, remote_mailbox, remote_uid_validity, remote_uid,
			message_id, from_addr, to_addr, subject, body, body_loaded,
			received_at, direction, intent, thread_key, in_reply_to,
			msg_references, status, created_at, updated_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?
		)
		ON CONFLICT(identity_key) DO NOTHING`,
		m.IdentityKey, m.RemoteMailbox, m.RemoteUIDValidity, m.RemoteUID,
		m.MessageID, m.FromAddr, m.ToAddr, m.Subject, m.Body, boolToInt(m.BodyLoaded),
		m.ReceivedAt.UTC(), string(m.Direction), string(m.Intent), m.ThreadKey, m.InReplyTo,
		m.References, string(m.Status), m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.IdentityKey, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.IdentityKey, err)
	}
	return n > 0, nil
}

// Exists reports whether a row with key is stored.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, "SELECT 1 FROM inbox_messages WHERE identity_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", key, err)
	}
	return true, nil
}

// Get retrieves a single message by identity key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*model.InboundMessage, error) {
	var m model.InboundMessage

	query := "SELECT %s FROM inbox_messages WHERE identity_key = ?"
	err := s.db.GetContext(ctx, &m, fmt.Sprintf(query, selectColumns(true, true)), key)
	if IsMissingColumn(err) {
		s.log.Warn().Err(err).Msg("optional columns missing, reading core columns only")
		err = s.db.GetContext(ctx, &m, fmt.Sprintf(query, selectColumns(false, true)), key)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", key, err)
	}
	return &m, nil
}

func listWhere(f ListFilter) (string, []any) {
	conditions := []string{"direction = 'inbound'"}
	var args []any
	if !f.IncludeAuto {
		conditions = append(conditions, "status != 'skipped_auto'")
	}
	if f.Mailbox != "" {
		conditions = append(conditions, "remote_mailbox = ?")
		args = append(args, f.Mailbox)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// List returns messages newest first without their bodies.
func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]model.InboundMessage, error) {
	where, args := listWhere(f)

	build := func(withOptional bool) string {
		q := "SELECT " + selectColumns(withOptional, false) + " FROM inbox_messages" + where +
			" ORDER BY received_at DESC, identity_key"
		if f.Limit > 0 {
			q += fmt.Sprintf(" LIMIT %d", f.Limit)
			if f.Offset > 0 {
				q += fmt.Sprintf(" OFFSET %d", f.Offset)
			}
		}
		return q
	}

	var msgs []model.InboundMessage
	err := s.db.SelectContext(ctx, &msgs, build(true), args...)
	if IsMissingColumn(err) {
		s.log.Warn().Err(err).Msg("optional columns missing, listing core columns only")
		msgs = nil
		err = s.db.SelectContext(ctx, &msgs, build(false), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// Count returns the number of messages List would page through.
func (s *SQLiteStore) Count(ctx context.Context, f ListFilter) (int, error) {
	where, args := listWhere(f)
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM inbox_messages"+where, args...); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// IntentCounts tallies inbound messages per intent. Auto replies are
// excluded so they never skew the counts.
func (s *SQLiteStore) IntentCounts(ctx context.Context) (map[model.Intent]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT intent, COUNT(*) FROM inbox_messages
		WHERE direction = 'inbound' AND status != 'skipped_auto'
		GROUP BY intent`)
	if err != nil {
		return nil, fmt.Errorf("counting intents: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Intent]int)
	for rows.Next() {
		var (
			intent string
			n      int
		)
		if err := rows.Scan(&intent, &n); err != nil {
			return nil, fmt.Errorf("scanning intent count: %w", err)
		}
		counts[model.Intent(intent)] = n
	}
	return counts, rows.Err()
}

// LatestReceivedAt returns the newest received time stored for mailbox.
func (s *SQLiteStore) LatestReceivedAt(ctx context.Context, mailbox string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.GetContext(ctx, &at, `
		SELECT received_at FROM inbox_messages
		WHERE remote_mailbox = ? AND direction = 'inbound'
		ORDER BY received_at DESC LIMIT 1`, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading latest received time: %w", err)
	}
	return at.UTC(), true, nil
}

// AdvanceStatus moves a new message into a terminal status. It reports
// false, without error, when the message already left new.
func (s *SQLiteStore) AdvanceStatus(ctx context.Context, key string, to model.Status) (bool, error) {
	if !model.CanAdvance(model.StatusNew, to) {
		return false, fmt.Errorf("status %q is not a terminal status", to)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox_messages SET status = ?, updated_at = ?
		WHERE identity_key = ? AND status = ?`,
		string(to), time.Now().UTC(), key, string(model.StatusNew),
	)
	if err != nil {
		return false, fmt.Errorf("advancing status of %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advancing status of %s: %w", key, err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// SetClassification writes the intent and, when the schema has the
// columns, the importance verdict.
func (s *SQLiteStore) SetClassification(ctx context.Context, key string, c Classification) error {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		"UPDATE inbox_messages SET intent = ?, updated_at = ? WHERE identity_key = ?",
		string(c.Intent), now, key,
	)
	if err != nil {
		return fmt.Errorf("updating intent of %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE inbox_messages
		SET important = ?, importance_reason = ?, classified_via = ?
		WHERE identity_key = ?`,
		model.ImportanceOf(c.Important), c.Reason, c.Via, key,
	)
	if IsMissingColumn(err) {
		s.log.Warn().Err(err).Str("identity_key", key).Msg("importance columns missing, verdict not stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("updating importance of %s: %w", key, err)
	}
	return nil
}

// UnclassifiedKeys returns up to limit keys whose importance is unknown,
// newest first. Auto replies and duplicates are never classified.
func (s *SQLiteStore) UnclassifiedKeys(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
		SELECT identity_key FROM inbox_messages
		WHERE important IS NULL
		  AND direction = 'inbound'
		  AND status NOT IN ('skipped_auto', 'duplicate')
		ORDER BY received_at DESC
		LIMIT ?`, limit)
	if IsMissingColumn(err) {
		s.log.Warn().Err(err).Msg("importance column missing, nothing to reclassify")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing unclassified messages: %w", err)
	}
	return keys, nil
}

// LoadBody returns the cached body and whether it was ever loaded. An
// empty body that was never loaded is a retry target, not a cached value.
func (s *SQLiteStore) LoadBody(ctx context.Context, key string) (string, bool, error) {
	var row struct {
		Body   string `db:"body"`
		Loaded bool   `db:"body_loaded"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT body, body_loaded FROM inbox_messages WHERE identity_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("loading body of %s: %w", key, err)
	}
	return row.Body, row.Loaded, nil
}

// SaveBody caches body permanently.
func (s *SQLiteStore) SaveBody(ctx context.Context, key, body string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inbox_messages SET body = ?, body_loaded = 1, updated_at = ? WHERE identity_key = ?",
		body, time.Now().UTC(), key,
	)
	if err != nil {
		return fmt.Errorf("saving body of %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadDraft returns the cached draft, or nil when none was generated.
func (s *SQLiteStore) LoadDraft(ctx context.Context, key string) (*Draft, error) {
	var row struct {
		Text      *string    `db:"draft_reply"`
		UpdatedAt *time.Time `db:"draft_updated_at"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT draft_reply, draft_updated_at FROM inbox_messages WHERE identity_key = ?", key)
	if IsMissingColumn(err) {
		s.log.Warn().Err(err).Msg("draft columns missing, treating draft as absent")
		return nil, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading draft of %s: %w", key, err)
	}
	if row.Text == nil || row.UpdatedAt == nil {
		return nil, nil
	}
	return &Draft{Text: *row.Text, UpdatedAt: row.UpdatedAt.UTC()}, nil
}

// SaveDraft stores text as the draft generated at at.
func (s *SQLiteStore) SaveDraft(ctx context.Context, key, text string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inbox_messages SET draft_reply = ?, draft_updated_at = ? WHERE identity_key = ?",
		text, at.UTC(), key,
	)
	if IsMissingColumn(err) {
		s.log.Warn().Err(err).Str("identity_key", key).Msg("draft columns missing, draft not cached")
		return nil
	}
	if err != nil {
		return fmt.Errorf("saving draft of %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LegacyMessages returns rows whose identity key predates source
// prefixes, oldest first.
func (s *SQLiteStore) LegacyMessages(ctx context.Context, limit int) ([]model.InboundMessage, error) {
	q := "SELECT " + selectColumns(false, false) + ` FROM inbox_messages
		WHERE identity_key NOT LIKE 'mid:%'
		  AND identity_key NOT LIKE 'pid:%'
		  AND identity_key NOT LIKE 'cmp:%'
		ORDER BY received_at`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	var msgs []model.InboundMessage
	if err := s.db.SelectContext(ctx, &msgs, q); err != nil {
		return nil, fmt.Errorf("listing legacy messages: %w", err)
	}
	return msgs, nil
}

// Rekey renames a row's identity key. When newKey is taken the old row is
// marked duplicate and ErrDuplicate is returned.
func (s *SQLiteStore) Rekey(ctx context.Context, oldKey, newKey string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inbox_messages SET identity_key = ?, updated_at = ? WHERE identity_key = ?",
		newKey, time.Now().UTC(), oldKey,
	)
	if isUniqueViolation(err) {
		if _, advErr := s.AdvanceStatus(ctx, oldKey, model.StatusDuplicate); advErr != nil {
			return fmt.Errorf("marking %s duplicate: %w", oldKey, advErr)
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, newKey)
	}
	if err != nil {
		return fmt.Errorf("rekeying %s: %w", oldKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE events SET identity_key = ? WHERE identity_key = ?", newKey, oldKey,
	); err != nil {
		return fmt.Errorf("rekeying events of %s: %w", oldKey, err)
	}
	return nil
}
