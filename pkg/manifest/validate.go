package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/simstat/internal/assets/schemas"
)

// SchemaID is the schema identifier for monitor manifests.
const SchemaID = "simstat/v1.0.0/monitor-manifest"

var (
	// ErrSchemaNotFound means the embedded schema is missing.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed is matched by every ValidationErrors.
	ErrValidationFailed = errors.New("manifest validation failed")
)

// ValidationError is one schema violation.
type ValidationError struct {
	// Path is a JSON pointer such as "/scan/workers".
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors lists every violation found in one document, ordered
// by path.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}
	lines := make([]string, len(e))
	for i, v := range e {
		lines[i] = "  - " + v.Error()
	}
	return fmt.Sprintf("manifest validation failed with %d errors:\n%s", len(e), strings.Join(lines, "\n"))
}

func (e ValidationErrors) Unwrap() error { return ErrValidationFailed }

// Validate checks m against the schema. Use ValidateRaw on the original
// document to also catch unknown keys.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks a JSON document against the embedded schema. It
// returns ValidationErrors when the document is invalid.
func ValidateRaw(jsonData []byte) error {
	v, err := compiledSchema()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

var compiledSchema = sync.OnceValues(func() (*schema.Validator, error) {
	if len(schemasassets.MonitorManifestSchema) == 0 {
		return nil, fmt.Errorf("%w: embedded %s schema is empty", ErrSchemaNotFound, SchemaID)
	}
	v, err := schema.NewValidator(schemasassets.MonitorManifestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return v, nil
})
