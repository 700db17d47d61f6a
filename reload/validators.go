package reload

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/forgeflow/jobengine/compiler"
)

// YAMLMapValidator parses data as a generic YAML document, the shape
// agents.yaml and models.yaml use in this module — the monitor does not
// know their internal schema, only that they must be well-formed.
func YAMLMapValidator(data []byte) (any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return out, nil
}

// JSONMapValidator parses data as a generic JSON document, the shape
// per-policy files under policies/ use.
func JSONMapValidator(data []byte) (any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return out, nil
}

// WorkflowsValidator parses data with the same parser the Compiler's
// FileLoader uses, so a workflows.yaml change is rejected at reload time
// under the identical rules it would fail to compile under later.
func WorkflowsValidator(data []byte) (any, error) {
	workflows, err := compiler.ParseWorkflows(data)
	if err != nil {
		return nil, err
	}
	return workflows, nil
}
