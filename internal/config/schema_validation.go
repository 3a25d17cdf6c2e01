package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	devsupschema "github.com/Paintersrp/devsup/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const sessionSchemaURL = "session.v1.json"

var loadSessionSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(sessionSchemaURL, bytes.NewReader(devsupschema.SessionV1Schema)); err != nil {
		return nil, fmt.Errorf("add session schema resource: %w", err)
	}
	compiled, err := compiler.Compile(sessionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile session schema: %w", err)
	}
	return compiled, nil
})

// validateAgainstSchema checks a generically decoded document against the
// embedded session schema.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadSessionSchema()
	if err != nil {
		return fmt.Errorf("load session schema: %w", err)
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("prepare session for schema validation: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		if vErr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("schema validation failed:\n%s", formatValidationError(vErr))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func normalizeForSchema(doc map[string]any) (any, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaViolation is one leaf failure reported by the schema, addressed by
// the session field it concerns.
type schemaViolation struct {
	field   string
	message string
}

// formatValidationError lists leaf violations one per line, ordered by field.
// Wrapper errors such as "doesn't validate with" carry no detail of their own
// and are dropped.
func formatValidationError(err *jsonschema.ValidationError) string {
	violations := collectViolations(err, nil)
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].field < violations[j].field
	})

	var b strings.Builder
	var last schemaViolation
	for i, v := range violations {
		if i > 0 && v == last {
			continue
		}
		last = v
		fmt.Fprintf(&b, "  %s: %s\n", v.field, v.message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func collectViolations(err *jsonschema.ValidationError, out []schemaViolation) []schemaViolation {
	if len(err.Causes) == 0 {
		return append(out, schemaViolation{
			field:   sessionFieldPath(err.InstanceLocation),
			message: err.Message,
		})
	}
	for _, cause := range err.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

// sessionFieldPath converts a JSON pointer such as /services/0/command into
// the dotted form used by semantic validation: services[0].command.
func sessionFieldPath(ptr string) string {
	var parts []string
	for _, segment := range strings.Split(ptr, "/") {
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if idx, err := strconv.Atoi(segment); err == nil && len(parts) > 0 {
			parts[len(parts)-1] = fmt.Sprintf("%s[%d]", parts[len(parts)-1], idx)
			continue
		}
		parts = append(parts, segment)
	}
	if len(parts) == 0 {
		return "(root)"
	}
	return fieldPath(parts...)
}
