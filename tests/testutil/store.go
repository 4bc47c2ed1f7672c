package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
)

// NewTestStore returns an in-memory store with all migrations applied. It
// is closed when the test ends.
func NewTestStore(t testing.TB) *store.SQLiteStore {
	return OpenTestStore(t, ":memory:")
}

// OpenTestStore opens the store at path and closes it when the test ends.
func OpenTestStore(t testing.TB, path string) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err, "opening test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

// Seed inserts msgs and fails the test unless every one is new.
func Seed(t testing.TB, st store.Store, msgs ...model.InboundMessage) {
	t.Helper()
	for i := range msgs {
		ok, err := st.Insert(context.Background(), &msgs[i])
		require.NoError(t, err)
		require.True(t, ok, "message %s already stored", msgs[i].IdentityKey)
	}
}
