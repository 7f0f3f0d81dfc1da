package extract

import (
	"encoding/json"

	"github.com/jackzampolin/guideshelf/internal/providers"
)

func providersValidate(schema json.RawMessage, doc string) error {
	parsed, err := providers.ParseStructuredJSON(doc)
	if err != nil {
		return err
	}
	return providers.ValidateStructuredJSON(schema, parsed)
}
