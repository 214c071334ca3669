package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// configSchema is the JSON Schema the YAML config document is checked
// against before unmarshaling. It catches typos and wrong types with a
// field path instead of a silent zero value.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string"},
    "baseUrl": {"type": "string"},
    "workload": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "userId": {"type": "string"},
        "withdrawAmount": {"type": "integer", "minimum": 1},
        "amountJitter": {"type": "integer", "minimum": 0},
        "initBalance": {"type": "string"},
        "thinkTimeMin": {"type": "string"},
        "thinkTimeMax": {"type": "string"}
      }
    },
    "load": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "executor": {"enum": ["constant-vus", "ramping-vus", "constant-arrival-rate"]},
        "vus": {"type": "integer", "minimum": 1},
        "duration": {"type": "string"},
        "stages": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["duration", "target"],
            "properties": {
              "duration": {"type": "string"},
              "target": {"type": "integer", "minimum": 0}
            }
          }
        },
        "rate": {"type": "number", "exclusiveMinimum": 0},
        "preAllocatedVUs": {"type": "integer", "minimum": 1},
        "gracefulStop": {"type": "string"}
      }
    },
    "http": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"type": "string"},
        "maxIdleConnsPerHost": {"type": "integer", "minimum": 0},
        "maxConnsPerHost": {"type": "integer", "minimum": 0},
        "disableKeepAlives": {"type": "boolean"}
      }
    },
    "thresholds": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "duration": {"type": "array", "items": {"type": "string"}},
        "failedRate": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

// validateDocument checks a YAML document against the config schema.
func validateDocument(yamlData []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	if doc == nil {
		return nil // empty document, defaults apply
	}

	// The schema validator works on JSON values; round-trip through
	// encoding/json to normalize the YAML types.
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize config: %w", err)
	}
	var jsonDoc interface{}
	if err := json.Unmarshal(jsonData, &jsonDoc); err != nil {
		return fmt.Errorf("failed to normalize config: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", strings.NewReader(configSchema)); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("config.json")
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	if err := schema.Validate(jsonDoc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("invalid config: %s", flattenValidationError(validationErr))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// flattenValidationError joins all leaf validation errors into one
// message with instance locations.
func flattenValidationError(err *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return strings.Join(parts, "; ")
}
