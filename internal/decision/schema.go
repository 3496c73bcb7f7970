package decision

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// entrySchema constrains one per-coin decision entry before mapping.
// Business rules (duplicate positions, sizing against the account) are a
// separate stage; this only rejects structurally broken output.
const entrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "signal":        {"type": "string", "minLength": 1},
    "action":        {"type": "string", "minLength": 1},
    "confidence":    {"type": "number", "minimum": 0, "maximum": 1},
    "risk_usd":      {"type": "number", "minimum": 0},
    "leverage":      {"type": "number", "minimum": 0},
    "stop_loss":     {"type": "number", "minimum": 0},
    "profit_target": {"type": "number", "minimum": 0},
    "take_profit":   {"type": "number", "minimum": 0},
    "reasoning":     {"type": "string"}
  },
  "anyOf": [
    {"required": ["signal"]},
    {"required": ["action"]}
  ]
}`

var compiledEntrySchema = jsonschema.MustCompileString("decision-entry.json", entrySchema)

// ValidateEntrySchema checks one per-coin entry against the schema. The
// returned error wraps ErrSchemaInvalid so callers can distinguish it from
// extraction failures.
func ValidateEntrySchema(entryJSON string) error {
	var doc any
	if err := json.Unmarshal([]byte(entryJSON), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if err := compiledEntrySchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return nil
}
