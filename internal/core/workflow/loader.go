package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type workflowFile struct {
	Workflows []Workflow `yaml:"workflows"`
}

// LoadWorkflows reads workflow definitions from a YAML file
func LoadWorkflows(path string) ([]Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows file: %w", err)
	}
	return ParseWorkflows(data)
}

// ParseWorkflows decodes and validates workflow definitions
func ParseWorkflows(data []byte) ([]Workflow, error) {
	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workflows: %w", err)
	}

	seen := make(map[string]bool, len(file.Workflows))
	for i := range file.Workflows {
		w := &file.Workflows[i]
		if w.Status == "" {
			w.Status = StatusActive
		}
		if !ValidStatus(w.Status) {
			return nil, fmt.Errorf("workflow %s: unknown status %q", w.ID, w.Status)
		}
		if _, err := compile(*w); err != nil {
			return nil, err
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("duplicate workflow id %s", w.ID)
		}
		seen[w.ID] = true
	}
	return file.Workflows, nil
}
