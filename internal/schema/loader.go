package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/labscreen/screenresults/internal/config"
)

//go:embed fields.yaml
var defaultFieldsYAML []byte

var (
	// ErrDuplicateFieldKey indicates two base fields share a key.
	ErrDuplicateFieldKey = errors.New("duplicate field key")

	// ErrEmptyFieldKey indicates a base field without a key.
	ErrEmptyFieldKey = errors.New("field key cannot be empty")
)

type (
	// LoaderConfig locates the base field file.
	LoaderConfig struct {
		// FieldsPath overrides the embedded base fields. Empty uses the embedded file.
		FieldsPath string
	}

	fieldsFile struct {
		Fields []FieldSpec `yaml:"fields"`
	}
)

// LoadLoaderConfig reads the base field file location from configuration.
func LoadLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		FieldsPath: config.GetString("schema.fields_path", ""),
	}
}

// LoadBaseFields returns the base fields from cfg.FieldsPath, or the embedded defaults.
//
// A missing override file falls back to the embedded defaults with a warning. A file that
// exists but does not parse is an error: serving with a silently different schema would
// change every fingerprint.
func LoadBaseFields(cfg *LoaderConfig) ([]FieldSpec, error) {
	data := defaultFieldsYAML
	source := "embedded"

	if cfg != nil && cfg.FieldsPath != "" {
		fileData, err := os.ReadFile(cfg.FieldsPath) //nolint:gosec // path is from trusted config source
		switch {
		case err == nil:
			data = fileData
			source = cfg.FieldsPath
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("Fields file not found, using embedded base fields",
				slog.String("path", cfg.FieldsPath))
		default:
			return nil, fmt.Errorf("failed to read fields file %s: %w", cfg.FieldsPath, err)
		}
	}

	fields, err := ParseFields(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load base fields from %s: %w", source, err)
	}

	return fields, nil
}

// ParseFields decodes a fields document and orders the fields by ordinal.
func ParseFields(data []byte) ([]FieldSpec, error) {
	var doc fieldsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid fields yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Fields))

	for i := range doc.Fields {
		f := &doc.Fields[i]
		if f.Key == "" {
			return nil, fmt.Errorf("%w: field #%d", ErrEmptyFieldKey, i)
		}

		if _, dup := seen[f.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFieldKey, f.Key)
		}

		seen[f.Key] = struct{}{}

		if f.Scope == "" {
			f.Scope = ScopeBase
		}

		if f.Title == "" {
			f.Title = f.Key
		}
	}

	sort.SliceStable(doc.Fields, func(i, j int) bool {
		return doc.Fields[i].Ordinal < doc.Fields[j].Ordinal
	})

	return doc.Fields, nil
}
