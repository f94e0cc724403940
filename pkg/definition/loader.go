package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// documentSchema is checked before a document is decoded, so authoring mistakes are
// reported against the document shape rather than as zero-valued fields.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "activities"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "version": {"type": "integer", "minimum": 0},
    "activities": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/activity"}
    }
  },
  "definitions": {
    "mapping": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "all": {"type": "boolean"},
        "variables": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["source"],
            "additionalProperties": false,
            "properties": {
              "source": {"type": "string", "minLength": 1},
              "target": {"type": "string"}
            }
          }
        }
      }
    },
    "activity": {
      "type": "object",
      "required": ["id", "kind"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "kind": {"enum": ["script_init", "service_call", "delegate_task", "receive_message", "call_subprocess", "end"]},
        "next": {"type": "string"},
        "script": {"type": "string"},
        "endpoint": {"type": "string"},
        "method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
        "payload": {"type": "array", "items": {"type": "string"}},
        "timeout": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h)$"},
        "delegate": {"type": "string"},
        "message": {"type": "string"},
        "correlation_key": {"type": "string"},
        "process": {"type": "string"},
        "inputs": {"$ref": "#/definitions/mapping"},
        "outputs": {"$ref": "#/definitions/mapping"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// Load decodes a YAML or JSON process document. The result still has to pass
// Validate (Repository.Deploy does this) before it can be executed.
func Load(r io.Reader, source string) (*models.ProcessDefinition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DocumentError{Source: source, Err: fmt.Errorf("failed to read document: %w", err)}
	}

	var document any

	err = yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, &DocumentError{Source: source, Err: fmt.Errorf("%w: %w", ErrInvalidDocument, err)}
	}

	if document == nil {
		return nil, &DocumentError{Source: source, Err: fmt.Errorf("%w: empty document", ErrInvalidDocument)}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, &DocumentError{Source: source, Err: fmt.Errorf("%w: %w", ErrInvalidDocument, err)}
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return nil, &DocumentError{
			Source: source,
			Err:    fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(messages, "; ")),
		}
	}

	var definition models.ProcessDefinition

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err = decoder.Decode(&definition)
	if err != nil {
		return nil, &DocumentError{Source: source, Err: fmt.Errorf("%w: %w", ErrInvalidDocument, err)}
	}

	return &definition, nil
}

// LoadFile loads a single document from disk.
func LoadFile(filePath string) (*models.ProcessDefinition, error) {
	file, err := os.Open(filePath) // #nosec G304 -- operator supplied definitions path
	if err != nil {
		return nil, &DocumentError{Source: filePath, Err: err}
	}
	defer file.Close()

	return Load(file, filePath)
}

// LoadDir loads every .yaml, .yml and .json document directly inside dir.
func LoadDir(dir string) ([]*models.ProcessDefinition, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads every document in dir of fsys, in lexical order.
func LoadFS(fsys fs.FS, dir string) ([]*models.ProcessDefinition, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !isDocument(entry.Name()) {
			continue
		}

		names = append(names, entry.Name())
	}

	slices.Sort(names)

	var (
		definitions []*models.ProcessDefinition
		loadErrs    []error
	)

	for _, name := range names {
		filePath := path.Join(dir, name)

		file, err := fsys.Open(filePath)
		if err != nil {
			loadErrs = append(loadErrs, &DocumentError{Source: filePath, Err: err})

			continue
		}

		definition, err := Load(file, filePath)
		_ = file.Close()

		if err != nil {
			loadErrs = append(loadErrs, err)

			continue
		}

		definitions = append(definitions, definition)
	}

	if len(loadErrs) > 0 {
		return definitions, errors.Join(loadErrs...)
	}

	return definitions, nil
}

func isDocument(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
