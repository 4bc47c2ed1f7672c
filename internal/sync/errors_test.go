package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/inbox-sync/internal/classify"
	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/parse"
	"github.com/nhle/inbox-sync/internal/store"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  model.ErrorClass
		fatal bool
	}{
		{"nil", nil, model.ClassNone, false},
		{"auth", &mailbox.AuthError{Username: "ana", Message: "bad password"}, model.ClassConnection, true},
		{"connect", &mailbox.ConnectError{Addr: "imap:993", Op: "dial", Err: errors.New("refused")}, model.ClassConnection, true},
		{"lock timeout", mailbox.ErrLockTimeout, model.ClassConnection, true},
		{"session timeout", fmt.Errorf("fetching: %w", context.DeadlineExceeded), model.ClassConnection, true},
		{"run budget", fmt.Errorf("%w: %w", ErrBudgetExceeded, context.DeadlineExceeded), model.ClassBudget, true},
		{"canceled", fmt.Errorf("%w: %w", mailbox.ErrLockTimeout, context.Canceled), model.ClassCanceled, true},
		{"duplicate", fmt.Errorf("%w: mid:x", store.ErrDuplicate), model.ClassConflict, false},
		{"schema drift", errors.New("SQL logic error: no such column: important"), model.ClassSchemaDrift, false},
		{"classifier", fmt.Errorf("%w: trailing data", classify.ErrMalformed), model.ClassClassifier, false},
		{"parse", &parse.ParseError{Reason: "reading header", Err: errors.New("eof")}, model.ClassTransient, false},
		{"missing stream", mailbox.ErrMissingStream, model.ClassTransient, false},
		{"other", errors.New("disk I/O error"), model.ClassTransient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fatal, Fatal(got))
		})
	}
}
