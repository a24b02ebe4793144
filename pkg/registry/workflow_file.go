package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// LoadWorkflowFile reads a workflow definition from a YAML or JSON file.
// The format follows the file extension; anything but .json is read as
// YAML.
func LoadWorkflowFile(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workflow{}, fmt.Errorf("read workflow file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseWorkflow(data)
	}
	return ParseWorkflowYAML(data)
}

// ParseWorkflowYAML decodes a YAML workflow document. The document is
// checked against the same shape as JSON documents.
func ParseWorkflowYAML(data []byte) (Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Workflow{}, errors.New(errors.CodeMalformedRequest, "workflow document is not valid YAML", err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return Workflow{}, errors.New(errors.CodeMalformedRequest, "workflow document is not representable as JSON", err)
	}
	return ParseWorkflow(encoded)
}

// YAML renders w as a YAML document.
func (w Workflow) YAML() ([]byte, error) {
	return yaml.Marshal(w.Clone())
}
