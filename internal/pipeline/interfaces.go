package pipeline

import (
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/objstore"
)

// Dependencies are the collaborators shared by every pipeline step.
type Dependencies struct {
	// Store opens inputs and creates outputs by URI.
	Store objstore.Store

	// Registry maps formats to codecs.
	Registry *convert.Registry
}
