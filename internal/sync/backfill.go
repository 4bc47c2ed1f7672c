package sync

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nhle/inbox-sync/internal/identity"
	"github.com/nhle/inbox-sync/internal/store"
)

// BackfillResult counts what a backfill pass did.
type BackfillResult struct {
	Scanned    int `json:"scanned"`
	Rekeyed    int `json:"rekeyed"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Backfill rewrites identity keys stored before keys carried a source
// prefix, recomputing them from the stored columns. A row whose new key is
// already taken is the same logical message stored twice; it is marked
// duplicate and keeps its old key. Provider ids were never stored, so such
// rows fall back to the composite key.
func Backfill(ctx context.Context, st store.Store, limit int, logger zerolog.Logger) (BackfillResult, error) {
	log := logger.With().Str("component", "backfill").Logger()

	var res BackfillResult
	legacy, err := st.LegacyMessages(ctx, limit)
	if err != nil {
		return res, err
	}

	for _, m := range legacy {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		key := identity.Derive(m.MessageID, "", m.FromAddr, m.Subject, m.ReceivedAt)
		err := st.Rekey(ctx, m.IdentityKey, key.Value)
		switch {
		case err == nil:
			res.Rekeyed++
		case errors.Is(err, store.ErrDuplicate):
			res.Duplicates++
			log.Info().Str("old_key", m.IdentityKey).Str("identity_key", key.Value).Msg("legacy row duplicates a stored message")
		default:
			res.Failed++
			log.Warn().Err(err).Str("old_key", m.IdentityKey).Msg("rekeying legacy row")
		}
	}

	log.Info().
		Int("scanned", res.Scanned).
		Int("rekeyed", res.Rekeyed).
		Int("duplicates", res.Duplicates).
		Msg("backfill finished")
	return res, nil
}
