package sync

import (
	"context"
	"errors"

	"github.com/nhle/inbox-sync/internal/classify"
	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
)

// ErrBudgetExceeded is the cause of a run whose time budget ran out.
var ErrBudgetExceeded = errors.New("run budget exceeded")

// ClassifyError maps an error raised at any fallible boundary of a run to
// its class. Only connection, budget and cancellation classes abort a run.
// A bare deadline is a session timeout and counts as connection.
func ClassifyError(err error) model.ErrorClass {
	switch {
	case err == nil:
		return model.ClassNone
	case errors.Is(err, context.Canceled):
		return model.ClassCanceled
	case errors.Is(err, ErrBudgetExceeded):
		return model.ClassBudget
	case mailbox.IsAuthError(err),
		mailbox.IsConnectError(err),
		errors.Is(err, mailbox.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return model.ClassConnection
	case errors.Is(err, store.ErrDuplicate):
		return model.ClassConflict
	case store.IsMissingColumn(err):
		return model.ClassSchemaDrift
	case errors.Is(err, classify.ErrMalformed):
		return model.ClassClassifier
	}
	// Parse failures, missing streams and per-message storage errors.
	return model.ClassTransient
}

// Fatal reports whether errors of class c end the run.
func Fatal(c model.ErrorClass) bool {
	switch c {
	case model.ClassConnection, model.ClassBudget, model.ClassCanceled:
		return true
	}
	return false
}
