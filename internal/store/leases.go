package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease claims the run lease for mailbox on behalf of owner. It
// succeeds when no lease row exists, or when the current lease has
// expired and the previous run started at least minInterval ago.
func (s *SQLiteStore) AcquireLease(
	ctx context.Context,
	mailbox, owner string,
	now time.Time,
	minInterval, ttl time.Duration,
) (bool, error) {
	nowMS := now.UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (mailbox, owner, started_at, lease_until, finished_at)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(mailbox) DO UPDATE SET
			owner = excluded.owner,
			started_at = excluded.started_at,
			lease_until = excluded.lease_until,
			finished_at = 0
		WHERE sync_runs.lease_until <= excluded.started_at
		  AND sync_runs.started_at <= ?`,
		mailbox, owner, nowMS, now.Add(ttl).UnixMilli(),
		now.Add(-minInterval).UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("acquiring lease for %s: %w", mailbox, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquiring lease for %s: %w", mailbox, err)
	}
	return n > 0, nil
}

// ReleaseLease ends owner's lease on mailbox at now.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, mailbox, owner string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET lease_until = ?, finished_at = ?
		WHERE mailbox = ? AND owner = ?`,
		now.UnixMilli(), now.UnixMilli(), mailbox, owner,
	)
	if err != nil {
		return fmt.Errorf("releasing lease for %s: %w", mailbox, err)
	}
	return nil
}
