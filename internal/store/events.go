package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inbox-sync/internal/model"
)

// AppendEvent adds an entry to the audit log. A missing ID is generated.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e model.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, identity_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.IdentityKey, e.Payload, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending %s event: %w", e.Type, err)
	}
	return nil
}

// ListEvents returns the audit entries for key, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, key string) ([]model.Event, error) {
	var events []model.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, type, identity_key, payload, created_at FROM events
		WHERE identity_key = ?
		ORDER BY created_at, id`, key)
	if err != nil {
		return nil, fmt.Errorf("listing events of %s: %w", key, err)
	}
	return events, nil
}
