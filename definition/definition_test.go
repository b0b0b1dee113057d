package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	return &Definition{
		ID:   "dev",
		Name: "Development Flow",
		Stages: []Stage{
			{
				ID:   "analyze",
				Name: "Analyze",
				Checklist: []ChecklistItem{
					{ID: "requirements", Name: "Collect requirements"},
				},
			},
			{ID: "design", Name: "Design", Dependencies: []string{"analyze"}},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	assert.NoError(t, validDefinition().Validate())
}

func TestValidateRejectsMissingID(t *testing.T) {
	def := validDefinition()
	def.ID = ""
	assert.Error(t, def.Validate())
}

func TestValidateRejectsNoStages(t *testing.T) {
	def := validDefinition()
	def.Stages = nil
	assert.Error(t, def.Validate())
}

func TestValidateRejectsDuplicateStageIDs(t *testing.T) {
	def := validDefinition()
	def.Stages = append(def.Stages, Stage{ID: "analyze", Name: "Again"})
	assert.Error(t, def.Validate())
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	def := validDefinition()
	def.Stages[1].Dependencies = []string{"deploy"}
	assert.Error(t, def.Validate())
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	def := validDefinition()
	def.Stages[1].Dependencies = []string{"design"}
	assert.Error(t, def.Validate())
}

func TestValidateRejectsDuplicateChecklistItems(t *testing.T) {
	def := validDefinition()
	def.Stages[0].Checklist = append(def.Stages[0].Checklist, ChecklistItem{ID: "requirements", Name: "Again"})
	assert.Error(t, def.Validate())
}

func TestStageLookups(t *testing.T) {
	def := validDefinition()

	stage, ok := def.Stage("analyze")
	require.True(t, ok)
	assert.Equal(t, "Analyze", stage.Name)
	assert.True(t, stage.HasChecklistItem("requirements"))
	assert.False(t, stage.HasChecklistItem("other"))
	assert.Equal(t, []string{"requirements"}, stage.ChecklistItemIDs())

	_, ok = def.Stage("deploy")
	assert.False(t, ok)

	assert.Equal(t, []string{"analyze", "design"}, def.StageIDs())
}

func TestSchemaDescribesDefinition(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "stages")
}
