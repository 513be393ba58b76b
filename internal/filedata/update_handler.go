package filedata

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/services"
)

// ImportUser is recorded as the author of the events produced by a state file import.
const ImportUser = "import"

// StateImporter applies a state document to the store. *services.StateService implements it.
type StateImporter interface {
	Import(ctx context.Context, doc services.StateDocument, opts services.ImportOptions, by string) (
		services.ImportResult, error)
}
