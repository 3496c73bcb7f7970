package decision

import (
	"errors"
	"fmt"

	"tradewind/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

// Extraction and schema validation are distinct failure modes: both yield
// a FAILED decision, but operators need to know whether the model refused
// to emit a block at all or emitted a malformed one.
var (
	ErrNoDecisionBlock = errors.New("no decision block found")
	ErrSchemaInvalid   = errors.New("decision schema invalid")
)

// decisionSection is the named boundary the prompt asks the model to emit.
const decisionSection = "final decision"

// ExtractDecisionJSON pulls the decision object out of free-form model
// output. Priority: the named section, then a fenced block, then the first
// balanced brace object anywhere in the text.
func ExtractDecisionJSON(raw string) (string, error) {
	if section, ok := jsonutil.CutSection(raw, decisionSection); ok {
		if obj, ok := jsonutil.ExtractObject(section); ok {
			return obj, nil
		}
		// A named section without a JSON object inside it is still an
		// extraction failure, not a schema one.
		return "", fmt.Errorf("%w: section %q contains no JSON object", ErrNoDecisionBlock, decisionSection)
	}
	if obj, ok := jsonutil.ExtractObject(raw); ok {
		return obj, nil
	}
	return "", ErrNoDecisionBlock
}

// SplitPerCoin breaks one decision object into per-coin entries. A single
// response may carry several coins; each entry is parsed, validated and
// persisted independently downstream.
func SplitPerCoin(obj string) (map[string]gjson.Result, error) {
	if !gjson.Valid(obj) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrSchemaInvalid)
	}
	parsed := gjson.Parse(obj)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("%w: root must be an object", ErrSchemaInvalid)
	}
	// Two accepted shapes: {"BTC": {...}, "ETH": {...}} keyed by coin, or
	// a single flat entry {"coin": "BTC", "signal": ...}.
	if parsed.Get("signal").Exists() || parsed.Get("action").Exists() {
		coin := parsed.Get("coin").String()
		if coin == "" {
			return nil, fmt.Errorf("%w: flat decision missing coin", ErrSchemaInvalid)
		}
		return map[string]gjson.Result{coin: parsed}, nil
	}
	out := make(map[string]gjson.Result)
	var schemaErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			schemaErr = fmt.Errorf("%w: entry %q must be an object", ErrSchemaInvalid, key.String())
			return false
		}
		out[key.String()] = value
		return true
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: decision object is empty", ErrSchemaInvalid)
	}
	return out, nil
}
