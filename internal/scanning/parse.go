package scanning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed raw_extraction.schema.json
var rawExtractionSchemaJSON string

// rawExtractionSchema checks the shape of a model answer, not its values
var rawExtractionSchema = jsonschema.MustCompileString("raw_extraction.schema.json", rawExtractionSchemaJSON)

// parseRawExtraction parses the text answer of a model into a RawExtraction
func parseRawExtraction(text string) (*RawExtraction, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// A bare JSON value goes straight to the schema, so arrays and scalars are rejected there
	if !json.Valid([]byte(text)) {
		// Otherwise cut the object out of surrounding prose
		startIdx := strings.Index(text, "{")
		if startIdx == -1 {
			return nil, fmt.Errorf("no JSON object found in response")
		}
		if strings.Contains(text[:startIdx], "[") {
			return nil, fmt.Errorf("response is not a JSON object")
		}

		endIdx := strings.LastIndex(text, "}")
		if endIdx < startIdx {
			return nil, fmt.Errorf("invalid JSON object in response")
		}

		text = text[startIdx : endIdx+1]
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := rawExtractionSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}

	var data RawExtraction
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}

	return &data, nil
}
