package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/t4dev/internal/model"
)

// MaxBodySize is the largest template body CreateStack/UpdateStack accept
// inline. Larger templates have to be uploaded to S3 first.
const MaxBodySize = 51200

// Format is the serialisation of a template file.
type Format string

const (
	// FormatYAML is a YAML template, the CloudFormation default.
	FormatYAML Format = "yaml"

	// FormatJSON is a JSON template, optionally with comments.
	FormatJSON Format = "json"
)

// Template is a parsed CloudFormation template.
type Template struct {
	// Path is the file the template was read from.
	Path string

	// Format is the detected serialisation.
	Format Format

	// Body is the text submitted to the API.
	Body string

	// Description is the top-level Description, if any.
	Description string

	// parameters holds the declared parameter names, sorted.
	parameters []string
}

// Read loads and parses the template at path.
//
// A missing file is reported as a CLIError with ExitTemplateError, using
// the same wording the CLI has always printed.
func Read(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.WrapCLIError(model.ExitTemplateError,
				fmt.Sprintf("Template file %s not found", path), err)
		}
		return nil, model.WrapCLIError(model.ExitTemplateError,
			fmt.Sprintf("failed to read template %s", path), err)
	}

	t, err := Parse(path, data)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitTemplateError,
			fmt.Sprintf("invalid template %s", path), err)
	}
	return t, nil
}

// Parse parses template data. path is used for format detection and
// error messages only.
func Parse(path string, data []byte) (*Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("template is empty")
	}

	var (
		t   *Template
		err error
	)
	switch DetectFormat(path, data) {
	case FormatJSON:
		t, err = parseJSON(data)
	default:
		t, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if len(t.Body) > MaxBodySize {
		return nil, fmt.Errorf("template body is %d bytes, larger than the %d byte inline limit", len(t.Body), MaxBodySize)
	}

	t.Path = path
	sort.Strings(t.parameters)
	return t, nil
}

// DetectFormat guesses the template format from the file extension, then
// from the first non-blank character.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// jsonTemplate is the subset of a JSON template the CLI inspects.
type jsonTemplate struct {
	Description string                     `json:"Description"`
	Parameters  map[string]json.RawMessage `json:"Parameters"`
	Resources   map[string]json.RawMessage `json:"Resources"`
}

func parseJSON(data []byte) (*Template, error) {
	// jsonc.ToJSON returns a copy with comments and trailing commas blanked
	// out, so a copy equal to the input means the file was plain JSON.
	clean := jsonc.ToJSON(data)

	var doc jsonTemplate
	if err := json.Unmarshal(clean, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON template: %w", err)
	}
	if len(doc.Resources) == 0 {
		return nil, fmt.Errorf("template declares no Resources")
	}

	body := string(data)
	if !bytes.Equal(clean, data) {
		body = string(clean)
	}

	t := &Template{
		Format:      FormatJSON,
		Body:        body,
		Description: doc.Description,
	}
	for name := range doc.Parameters {
		t.parameters = append(t.parameters, name)
	}
	return t, nil
}

func parseYAML(data []byte) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML template: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template root must be a mapping")
	}
	root := doc.Content[0]

	resources := mappingValue(root, "Resources")
	if resources == nil || resources.Kind != yaml.MappingNode || len(resources.Content) == 0 {
		return nil, fmt.Errorf("template declares no Resources")
	}

	t := &Template{
		Format: FormatYAML,
		Body:   string(data),
	}
	if desc := mappingValue(root, "Description"); desc != nil && desc.Kind == yaml.ScalarNode {
		t.Description = desc.Value
	}
	if params := mappingValue(root, "Parameters"); params != nil && params.Kind == yaml.MappingNode {
		// Mapping node content alternates key, value.
		for i := 0; i+1 < len(params.Content); i += 2 {
			t.parameters = append(t.parameters, params.Content[i].Value)
		}
	}
	return t, nil
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// Parameters returns the declared parameter names in sorted order.
func (t *Template) Parameters() []string {
	out := make([]string, len(t.parameters))
	copy(out, t.parameters)
	return out
}

// HasParameter reports whether the template declares name.
func (t *Template) HasParameter(name string) bool {
	i := sort.SearchStrings(t.parameters, name)
	return i < len(t.parameters) && t.parameters[i] == name
}

// RequireParameters returns an error naming every parameter in names that
// the template does not declare. Passing an undeclared parameter makes the
// API reject the request, so the CLI checks before calling it.
func (t *Template) RequireParameters(names ...string) error {
	var missing []string
	for _, name := range names {
		if !t.HasParameter(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return model.NewCLIError(model.ExitTemplateError,
			fmt.Sprintf("template %s does not declare parameter(s): %s", t.Path, strings.Join(missing, ", ")))
	}
	return nil
}
