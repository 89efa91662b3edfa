package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition describes a workflow by the names of its steps.
type Definition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Steps       []string `yaml:"steps"`
}

type definitionsFile struct {
	Workflows []Definition `yaml:"workflows"`
}

// ParseDefinitions decodes a YAML document of the form
//
//	workflows:
//	  - name: whatsapp_message
//	    steps: [process_message, retrieve_knowledge, generate_response]
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow definitions: %w", err)
	}
	for i, d := range f.Workflows {
		if d.Name == "" {
			return nil, fmt.Errorf("workflow definition %d: name is required", i)
		}
		if len(d.Steps) == 0 {
			return nil, fmt.Errorf("workflow %s: at least one step is required", d.Name)
		}
	}
	return f.Workflows, nil
}

// LoadDefinitions reads workflow definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// Build assembles each definition from the step catalog, validates it against
// initialKeys and registers it. Nothing is registered if any definition fails.
func (e *Engine) Build(defs []Definition, catalog map[string]*Step, initialKeys ...string) error {
	built := make([]*Workflow, 0, len(defs))
	for _, d := range defs {
		w := &Workflow{Name: d.Name, Description: d.Description}
		for _, name := range d.Steps {
			s, ok := catalog[name]
			if !ok {
				return fmt.Errorf("workflow %s: unknown step %q", d.Name, name)
			}
			w.Steps = append(w.Steps, s)
		}
		if err := w.Validate(initialKeys...); err != nil {
			return err
		}
		built = append(built, w)
	}
	for _, w := range built {
		e.Register(w)
	}
	return nil
}
