package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema describes the JSON config file. Unknown top-level keys are
// rejected so that typos do not silently fall back to defaults. Lists may be
// null, which is how Save writes unset ones.
const configSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "app_name":         {"type": "string", "pattern": "^[A-Za-z0-9_-]*$"},
    "search_paths": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["module_dir"],
        "properties": {
          "module_dir": {"type": "string", "minLength": 1},
          "data_dir":   {"type": "string"}
        }
      }
    },
    "loaders_dir":      {"type": "string"},
    "disabled_loaders": {"type": ["array", "null"], "items": {"type": "string"}},
    "locales":          {"type": ["array", "null"], "items": {"type": "string"}},
    "active_plugins":   {"type": ["array", "null"], "items": {"type": "string"}},
    "data_dir":         {"type": "string"},
    "store_path":       {"type": "string"},
    "logging": {
      "type": "object",
      "properties": {
        "level":    {"enum": ["", "debug", "info", "warn", "error"]},
        "file":     {"type": "string"},
        "pretty":   {"type": "boolean"},
        "max_size": {"type": "integer", "minimum": 0},
        "max_age":  {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "addr":    {"type": "string"},
        "path":    {"type": "string", "pattern": "^/"}
      }
    },
    "events": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "path":    {"type": "string", "pattern": "^/"}
      }
    },
    "hooks": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "entries": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["event"],
            "properties": {
              "id":      {"type": "string"},
              "event":   {"type": "string", "minLength": 1},
              "module":  {"type": "string"},
              "script":  {"type": "string"},
              "timeout": {"type": ["integer", "string"]},
              "enabled": {"type": "boolean"}
            }
          }
        }
      }
    },
    "watch": {
      "type": "object",
      "properties": {
        "enabled":     {"type": "boolean"},
        "debounce_ms": {"type": "integer", "minimum": 0},
        "rescan":      {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a raw JSON config file against the config schema.
func ValidateDocument(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
