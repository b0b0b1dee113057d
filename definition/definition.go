// Package definition supplies immutable workflow templates to the session
// engine. Definitions are declared in YAML files and loaded into an
// in-memory registry; the engine only ever reads them.
package definition

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ChecklistItem is a discrete, named unit of work declared by a stage.
type ChecklistItem struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Stage declares one phase of a workflow: its checklist, the deliverables
// it is expected to produce, and the stages that must complete before it
// becomes eligible.
type Stage struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Checklist    []ChecklistItem `json:"checklist,omitempty" yaml:"checklist,omitempty"`
	Deliverables []string        `json:"deliverables,omitempty" yaml:"deliverables,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// ChecklistItemIDs returns the ids of the stage's declared checklist items.
func (s Stage) ChecklistItemIDs() []string {
	ids := make([]string, len(s.Checklist))
	for i, item := range s.Checklist {
		ids[i] = item.ID
	}
	return ids
}

// HasChecklistItem reports whether the stage declares a checklist item
// with the given id.
func (s Stage) HasChecklistItem(itemID string) bool {
	for _, item := range s.Checklist {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

// Definition is an immutable workflow template: an ordered list of stage
// declarations plus identifying metadata.
type Definition struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Type        string  `json:"type,omitempty" yaml:"type,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []Stage `json:"stages" yaml:"stages"`
}

// Stage returns the declared stage with the given id.
func (d *Definition) Stage(stageID string) (Stage, bool) {
	for _, st := range d.Stages {
		if st.ID == stageID {
			return st, true
		}
	}
	return Stage{}, false
}

// StageIDs returns the ids of all declared stages in declaration order.
func (d *Definition) StageIDs() []string {
	ids := make([]string, len(d.Stages))
	for i, st := range d.Stages {
		ids[i] = st.ID
	}
	return ids
}

// Validate ensures the definition is self-consistent: a non-empty id, at
// least one stage, unique stage and checklist-item ids, and dependencies
// that reference declared stages only.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition: id is required")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("definition %s: at least one stage is required", d.ID)
	}

	seen := map[string]struct{}{}
	for idx, st := range d.Stages {
		if st.ID == "" {
			return fmt.Errorf("definition %s: stage[%d] id is required", d.ID, idx)
		}
		if _, exists := seen[st.ID]; exists {
			return fmt.Errorf("definition %s: duplicate stage id %s", d.ID, st.ID)
		}
		seen[st.ID] = struct{}{}

		items := map[string]struct{}{}
		for _, item := range st.Checklist {
			if item.ID == "" {
				return fmt.Errorf("definition %s stage %s: checklist item id is required", d.ID, st.ID)
			}
			if _, exists := items[item.ID]; exists {
				return fmt.Errorf("definition %s stage %s: duplicate checklist item %s", d.ID, st.ID, item.ID)
			}
			items[item.ID] = struct{}{}
		}
	}

	for _, st := range d.Stages {
		for _, dep := range st.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("definition %s: stage %s depends on unknown stage %s", d.ID, st.ID, dep)
			}
			if dep == st.ID {
				return fmt.Errorf("definition %s: stage %s depends on itself", d.ID, st.ID)
			}
		}
	}
	return nil
}

// Schema returns a JSON Schema representation of the Definition type as a
// generic map. Tooling that authors definition files uses it to validate
// documents before they reach the registry.
func Schema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(&Definition{})

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal definition schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	return schemaMap, nil
}
