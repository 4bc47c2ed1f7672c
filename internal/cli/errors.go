package cli

import (
	"fmt"

	"github.com/nhle/inbox-sync/internal/model"
)

// errAborted reports an aborted run by its class only.
func errAborted(class model.ErrorClass) error {
	return fmt.Errorf("sync aborted (%s)", class)
}
