package tracker

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// criteriaSchema checks only the envelope of a criteria payload. What each
// criterion means is up to the provider.
const criteriaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["Criteria"],
	"properties": {
		"Criteria": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var compiledCriteria = jsonschema.MustCompileString("mailhaus://criteria.json", criteriaSchema)

// ValidateCriteria checks that raw is a criteria envelope: an object with a
// non-empty Criteria list of named criteria.
func ValidateCriteria(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return eris.Wrap(ErrInvalidSubmission, "tracker: criteria payload is empty")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return eris.Wrapf(ErrInvalidSubmission, "tracker: criteria is not valid JSON: %v", err)
	}
	if err := compiledCriteria.Validate(v); err != nil {
		return eris.Wrapf(ErrInvalidSubmission, "tracker: criteria envelope: %v", err)
	}
	return nil
}

// LoadCriteria decodes a criteria document in JSON or YAML and returns it
// as compact JSON. name selects the format by extension; anything other
// than .yaml or .yml is read as JSON.
func LoadCriteria(name string, data []byte) (json.RawMessage, error) {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".yaml") && !strings.HasSuffix(lower, ".yml") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return nil, eris.Wrapf(ErrInvalidSubmission, "tracker: parse criteria %s: %v", name, err)
		}
		return buf.Bytes(), nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(ErrInvalidSubmission, "tracker: parse criteria %s: %v", name, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrapf(err, "tracker: encode criteria %s", name)
	}
	return out, nil
}
